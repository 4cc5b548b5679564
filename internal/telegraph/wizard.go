package telegraph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
)

// Wizard button payloads.
const (
	payloadCancel    = "wiz_cancel"
	payloadAddTrip   = "addv_"
	payloadNewTrip   = "addv_new"
	payloadMoreYes   = "more_yes"
	payloadMoreSave  = "more_save"
	payloadDelTrip   = "delv_"
	payloadDelCombo  = "delc_"
	payloadDelAll    = "delc_all"
	cancelButtonText = "❌ Cancel"
)

type wizardStep int

const (
	stepChooseTrip wizardStep = iota
	stepTripName
	stepComboName
	stepLine
	stepBoarding
	stepAlighting
	stepMore
	stepRemoveTrip
	stepRemoveWhat
)

// wizard is an in-progress /add or /remove conversation. It lives on the
// session and keeps a single message that is edited at every step.
type wizard struct {
	step  wizardStep
	msgID models.MessageID

	// /add
	tripIdx   int // -1 for a new trip
	tripName  string
	comboName string
	legs      []models.Leg
	line      string
	boarding  string

	// /remove
	delTripIdx int
}

var cancelRow = []Button{{Text: cancelButtonText, Payload: payloadCancel}}

// cmdAdd starts the /add wizard: pick a trip to extend or create one.
func (r *Router) cmdAdd(ctx context.Context, sess *Session, msg InboundMessage) {
	r.deleteUserMessage(ctx, sess, msg)
	sess.wizard = &wizard{step: stepChooseTrip, tripIdx: -1}

	var rows [][]Button
	for i, trip := range sess.Data().Trips {
		rows = append(rows, []Button{{Text: trip.Name, Payload: payloadAddTrip + strconv.Itoa(i)}})
	}
	rows = append(rows, []Button{{Text: "➕ New trip", Payload: payloadNewTrip}}, cancelRow)

	m := r.renderer.Markup
	r.wizardMessage(ctx, sess, "📝 "+m.Bold("Add combo")+"\n\nWhere do you want to add it?", rows)
}

// cmdRemove starts the /remove wizard: pick a trip.
func (r *Router) cmdRemove(ctx context.Context, sess *Session, msg InboundMessage) {
	r.deleteUserMessage(ctx, sess, msg)
	trips := sess.Data().Trips
	if len(trips) == 0 {
		id, err := r.adapter.Send(ctx, OutboundMessage{ChatID: sess.ChatID, Text: "No trips configured."})
		if err != nil {
			log.Error().Err(err).Str("chat", sess.ChatID).Msg("telegraph: send remove reply")
			return
		}
		sess.Data().Remember(id)
		sess.Persist()
		return
	}
	sess.wizard = &wizard{step: stepRemoveTrip, tripIdx: -1}

	var rows [][]Button
	for i, trip := range trips {
		label := fmt.Sprintf("%s (%s)", trip.Name, plural(len(trip.Combos), "combo"))
		rows = append(rows, []Button{{Text: label, Payload: payloadDelTrip + strconv.Itoa(i)}})
	}
	rows = append(rows, cancelRow)

	m := r.renderer.Markup
	r.wizardMessage(ctx, sess, "🗑 "+m.Bold("Remove trip")+"\n\nWhich trip?", rows)
}

// cancelWizard ends the wizard on /cancel or any other command.
func (r *Router) cancelWizard(ctx context.Context, sess *Session, msg InboundMessage) {
	r.deleteUserMessage(ctx, sess, msg)
	r.endWizard(ctx, sess)
	r.metrics.recordCommand("cancel")
}

// wizardCallback handles a button press for the current step. It reports
// false when the payload does not belong to the step, so other handlers
// can take it.
func (r *Router) wizardCallback(ctx context.Context, sess *Session, data string) bool {
	w := sess.wizard
	if data == payloadCancel {
		r.endWizard(ctx, sess)
		return true
	}
	switch w.step {
	case stepChooseTrip:
		if !strings.HasPrefix(data, payloadAddTrip) {
			return false
		}
		r.chooseTrip(ctx, sess, data)
	case stepMore:
		if data != payloadMoreYes && data != payloadMoreSave {
			return false
		}
		if data == payloadMoreYes {
			w.step = stepLine
			r.wizardMessage(ctx, sess, r.wizardSummary(w)+"Line?", [][]Button{cancelRow})
			return true
		}
		r.saveCombo(ctx, sess)
	case stepRemoveTrip:
		if !strings.HasPrefix(data, payloadDelTrip) {
			return false
		}
		r.chooseRemoval(ctx, sess, data)
	case stepRemoveWhat:
		if !strings.HasPrefix(data, payloadDelCombo) {
			return false
		}
		r.executeRemoval(ctx, sess, data)
	default:
		return false
	}
	return true
}

func (r *Router) chooseTrip(ctx context.Context, sess *Session, data string) {
	w := sess.wizard
	m := r.renderer.Markup
	if data == payloadNewTrip {
		w.step = stepTripName
		r.wizardMessage(ctx, sess, "📝 "+m.Bold("New trip")+"\n\nWhat do you want to call it?\n"+m.Italic(m.Escape("e.g. Home → Office")), [][]Button{cancelRow})
		return
	}
	idx, ok := payloadIndex(data, payloadAddTrip, len(sess.Data().Trips))
	if !ok {
		return
	}
	w.tripIdx = idx
	w.tripName = sess.Data().Trips[idx].Name
	w.step = stepComboName
	r.wizardMessage(ctx, sess, "📝 Add combo to "+m.Bold(m.Escape(w.tripName))+"\n\nCombo name?\n"+m.Italic("e.g. Direct 42"), [][]Button{cancelRow})
}

// wizardText handles typed input for the text steps of /add. It reports
// false for steps that only take buttons.
func (r *Router) wizardText(ctx context.Context, sess *Session, msg InboundMessage, text string) bool {
	w := sess.wizard
	switch w.step {
	case stepTripName, stepComboName, stepLine, stepBoarding, stepAlighting:
	default:
		return false
	}
	r.deleteUserMessage(ctx, sess, msg)
	if text == "" {
		return true
	}

	m := r.renderer.Markup
	switch w.step {
	case stepTripName:
		w.tripName = text
		w.tripIdx = -1
		w.step = stepComboName
		r.wizardMessage(ctx, sess, "📝 "+m.Bold(m.Escape(text))+"\n\nCombo name?\n"+m.Italic("e.g. Direct 42"), [][]Button{cancelRow})
	case stepComboName:
		w.comboName = text
		w.step = stepLine
		r.wizardMessage(ctx, sess, "📝 "+m.Bold(m.Escape(w.tripName))+" ➜ "+m.Italic(m.Escape(text))+"\n\nLine?\n"+m.Italic("e.g. 42"), [][]Button{cancelRow})
	case stepLine:
		w.line = text
		w.step = stepBoarding
		r.wizardMessage(ctx, sess, r.wizardSummary(w)+"🚌 Line "+m.Bold(m.Escape(text))+"\n\nBoarding stop ID?", [][]Button{cancelRow})
	case stepBoarding:
		if !isStopNumber(text) {
			r.wizardMessage(ctx, sess, r.wizardSummary(w)+"⚠️ Please enter a valid number for the boarding stop ID.", [][]Button{cancelRow})
			return true
		}
		w.boarding = text
		w.step = stepAlighting
		r.wizardMessage(ctx, sess, r.wizardSummary(w)+"🚌 Line "+m.Bold(m.Escape(w.line))+" from "+m.Code(text)+"\n\nAlighting stop ID?", [][]Button{cancelRow})
	case stepAlighting:
		if !isStopNumber(text) {
			r.wizardMessage(ctx, sess, r.wizardSummary(w)+"⚠️ Please enter a valid number for the alighting stop ID.", [][]Button{cancelRow})
			return true
		}
		w.legs = append(w.legs, models.Leg{Line: w.line, BoardingStopID: w.boarding, AlightingStopID: text})
		w.step = stepMore
		rows := [][]Button{
			{{Text: "✅ Yes, add leg", Payload: payloadMoreYes}, {Text: "💾 Save", Payload: payloadMoreSave}},
			cancelRow,
		}
		r.wizardMessage(ctx, sess, r.wizardSummary(w)+"Add another leg?", rows)
	}
	return true
}

// saveCombo stores the wizard's combo, into the chosen trip or a new one.
func (r *Router) saveCombo(ctx context.Context, sess *Session) {
	w := sess.wizard
	u := sess.Data()
	combo := models.Combo{Name: w.comboName, Legs: w.legs}
	if w.tripIdx >= 0 && w.tripIdx < len(u.Trips) {
		u.Trips[w.tripIdx].Combos = append(u.Trips[w.tripIdx].Combos, combo)
	} else {
		u.AddTrip(models.Trip{Name: w.tripName, Combos: []models.Combo{combo}})
	}
	sess.Persist()
	log.Info().Str("chat", sess.ChatID).Str("trip", w.tripName).Str("combo", w.comboName).
		Int("legs", len(w.legs)).Msg("telegraph: combo saved")

	m := r.renderer.Markup
	r.wizardMessage(ctx, sess, "✅ "+m.Bold("Saved!")+" Rebuilding dashboard…", nil)
	r.rebuildDashboard(ctx, sess)
	r.endWizard(ctx, sess)
}

func (r *Router) chooseRemoval(ctx context.Context, sess *Session, data string) {
	w := sess.wizard
	idx, ok := payloadIndex(data, payloadDelTrip, len(sess.Data().Trips))
	if !ok {
		return
	}
	w.delTripIdx = idx
	w.step = stepRemoveWhat
	trip := sess.Data().Trips[idx]

	var rows [][]Button
	for j, combo := range trip.Combos {
		label := fmt.Sprintf("🗑 %s (%s)", combo.Name, plural(len(combo.Legs), "leg"))
		rows = append(rows, []Button{{Text: label, Payload: payloadDelCombo + strconv.Itoa(j)}})
	}
	rows = append(rows, []Button{{Text: "🗑🗑 Remove ENTIRE trip", Payload: payloadDelAll}}, cancelRow)

	m := r.renderer.Markup
	r.wizardMessage(ctx, sess, "🗑 "+m.Bold(m.Escape(trip.Name))+"\n\nWhat do you want to remove?", rows)
}

// executeRemoval deletes a combo or a whole trip. A trip left without
// combos is removed too.
func (r *Router) executeRemoval(ctx context.Context, sess *Session, data string) {
	w := sess.wizard
	u := sess.Data()
	if w.delTripIdx < 0 || w.delTripIdx >= len(u.Trips) {
		r.endWizard(ctx, sess)
		return
	}
	m := r.renderer.Markup
	trip := &u.Trips[w.delTripIdx]

	var text string
	if data == payloadDelAll {
		text = "✅ Trip " + m.Bold(m.Escape(trip.Name)) + " removed!"
		r.removeTrip(ctx, sess, w.delTripIdx)
	} else {
		cIdx, ok := payloadIndex(data, payloadDelCombo, len(trip.Combos))
		if !ok {
			return
		}
		comboName := trip.Combos[cIdx].Name
		trip.Combos = removeAt(trip.Combos, cIdx)
		if len(trip.Combos) == 0 {
			text = "✅ Combo " + m.Bold(m.Escape(comboName)) + " removed.\nTrip " + m.Bold(m.Escape(trip.Name)) + " also removed (empty)."
			r.removeTrip(ctx, sess, w.delTripIdx)
		} else {
			text = "✅ Combo " + m.Bold(m.Escape(comboName)) + " removed!"
		}
	}
	sess.Persist()
	log.Info().Str("chat", sess.ChatID).Str("payload", data).Msg("telegraph: removal done")

	r.wizardMessage(ctx, sess, text, nil)
	sleepWithContext(ctx, r.confirmDelay)
	r.rebuildDashboard(ctx, sess)
	r.endWizard(ctx, sess)
}

// removeTrip drops trip i and deletes the dashboard message that showed it.
func (r *Router) removeTrip(ctx context.Context, sess *Session, i int) {
	if slot := sess.Data().RemoveTrip(i); slot != nil {
		r.tryDelete(ctx, sess.ChatID, *slot)
	}
}

// wizardMessage edits the wizard's message in place, or sends it when
// there is none yet or the edit fails.
func (r *Router) wizardMessage(ctx context.Context, sess *Session, text string, rows [][]Button) {
	w := sess.wizard
	out := OutboundMessage{ChatID: sess.ChatID, Text: text, Buttons: rows}
	if w.msgID != "" {
		err := r.adapter.Edit(ctx, sess.ChatID, w.msgID, out)
		if err == nil || errors.Is(err, ErrMessageNotModified) {
			return
		}
		log.Debug().Err(err).Str("chat", sess.ChatID).Msg("telegraph: edit wizard message, sending a new one")
	}
	id, err := r.adapter.Send(ctx, out)
	if err != nil {
		log.Error().Err(err).Str("chat", sess.ChatID).Msg("telegraph: send wizard message")
		return
	}
	w.msgID = id
	sess.Data().Remember(id)
	sess.Persist()
}

// endWizard deletes the wizard message and drops the wizard.
func (r *Router) endWizard(ctx context.Context, sess *Session) {
	if w := sess.wizard; w != nil && w.msgID != "" {
		r.tryDelete(ctx, sess.ChatID, w.msgID)
	}
	sess.wizard = nil
}

// wizardSummary shows the trip, combo and legs collected so far.
func (r *Router) wizardSummary(w *wizard) string {
	m := r.renderer.Markup
	lines := []string{"📝 " + m.Bold(m.Escape(w.tripName)) + " ➜ " + m.Italic(m.Escape(w.comboName)), ""}
	if len(w.legs) > 0 {
		lines = append(lines, "Legs:")
		for _, leg := range w.legs {
			lines = append(lines, "  🚌 "+m.Bold(m.Escape(leg.Line))+": "+m.Code(leg.BoardingStopID)+" → "+m.Code(leg.AlightingStopID))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// payloadIndex parses the index after prefix and checks it against n.
func payloadIndex(data, prefix string, n int) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil || idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i:i], s[i+1:]...)
}
