package telegraph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/arrivals"
	"github.com/zulandar/tramtram/internal/models"
)

const stopsURL = "https://www.muoversiatorino.it/"

// welcomeText is shown by /start when the chat has no trips yet.
func (r *Router) welcomeText() string {
	m := r.renderer.Markup
	secs := int(r.interval / time.Second)
	mins := int(r.stopTTL / time.Minute)
	return strings.Join([]string{
		"🚋 " + m.Bold("Welcome to TramTram!"),
		"",
		"This bot shows " + m.Bold("real-time arrivals") + " for GTT buses and trams in Turin, Italy. " +
			fmt.Sprintf("Messages update automatically every %d seconds.", secs),
		"",
		m.Bold("Get started"),
		"Use /add to create your first trip: you choose a name (e.g. " + m.Italic(m.Escape("Home → Office")) + "), " +
			"then add one or more routes (line + boarding and alighting stop IDs). " +
			"You can also send a " + m.Bold("stop number") + fmt.Sprintf(" in chat to see all arrivals at that stop for %d minutes.", mins),
		"",
		m.Bold("Commands"),
		"• /add - add a trip or route",
		"• /remove - remove a trip or route",
		"• /start - show this message or rebuild your dashboard",
		"• /refresh - update the dashboard now",
		"• Send a " + m.Bold("number") + fmt.Sprintf(" - live arrivals at that stop (%d min)", mins),
		"",
		"Stop IDs can be found on " + m.Link("Muoversi a Torino", stopsURL) + " " +
			"or by sending a number to the bot and checking the result.",
	}, "\n")
}

// cmdStart clears every message the bot knows about in the chat and
// rebuilds the dashboard, or shows the welcome text when there are no trips.
func (r *Router) cmdStart(ctx context.Context, sess *Session) {
	r.nuke(ctx, sess)
	u := sess.Data()
	if len(u.Trips) == 0 {
		id, err := r.adapter.Send(ctx, OutboundMessage{ChatID: sess.ChatID, Text: r.welcomeText()})
		if err != nil {
			log.Error().Err(err).Str("chat", sess.ChatID).Msg("telegraph: send welcome")
			return
		}
		u.Remember(id)
		sess.Persist()
		log.Info().Str("chat", sess.ChatID).Msg("telegraph: /start (no trips yet)")
		return
	}
	n := r.sendDashboard(ctx, sess, r.fetchTrips(ctx, u.Trips))
	sess.Persist()
	log.Info().Str("chat", sess.ChatID).Int("messages", n).Msg("telegraph: /start")
}

// cmdRefresh edits the dashboard right away, or builds it if missing.
func (r *Router) cmdRefresh(ctx context.Context, sess *Session, msg InboundMessage) {
	r.deleteUserMessage(ctx, sess, msg)
	u := sess.Data()
	if len(u.Trips) == 0 {
		return
	}
	data := r.fetchTrips(ctx, u.Trips)
	if u.HasDashboard() {
		var res Result
		if r.reconciler.reconcileDashboard(ctx, sess, data, r.now(), &res) {
			sess.Persist()
		}
	} else {
		r.sendDashboard(ctx, sess, data)
		sess.Persist()
	}
	log.Info().Str("chat", sess.ChatID).Msg("telegraph: /refresh")
}

// stopQuery opens a live-stop view for stopID.
func (r *Router) stopQuery(ctx context.Context, sess *Session, msg InboundMessage, stopID string) {
	r.deleteUserMessage(ctx, sess, msg)

	name, patterns := r.fetcher.FetchOne(ctx, stopID)
	now := r.now()
	text := r.renderer.Stop(name, stopID, patterns, now, int(r.stopTTL/time.Minute))
	id, err := r.adapter.Send(ctx, OutboundMessage{ChatID: sess.ChatID, Text: text})
	if err != nil {
		log.Error().Err(err).Str("chat", sess.ChatID).Str("stop", stopID).Msg("telegraph: send live stop")
		return
	}
	// The STOP button needs the id of the message that carries it.
	err = r.adapter.Edit(ctx, sess.ChatID, id, OutboundMessage{ChatID: sess.ChatID, Text: text, Buttons: stopButtons(id)})
	if err != nil && !errors.Is(err, ErrMessageNotModified) {
		log.Warn().Err(err).Str("chat", sess.ChatID).Str("msg", string(id)).Msg("telegraph: attach STOP button")
	}
	sess.Data().TrackStop(id, stopID, now.Add(r.stopTTL))
	sess.Persist()
	log.Info().Str("chat", sess.ChatID).Str("stop", stopID).Str("msg", string(id)).
		Dur("ttl", r.stopTTL).Msg("telegraph: live stop opened")
}

// nuke deletes every message remembered for the chat and resets its
// tracked state. Delete failures are ignored.
func (r *Router) nuke(ctx context.Context, sess *Session) {
	u := sess.Data()
	ids := u.CleanupIDs()
	for _, id := range ids {
		r.tryDelete(ctx, sess.ChatID, id)
	}
	u.ResetState()
	sess.Persist()
	log.Info().Str("chat", sess.ChatID).Int("messages", len(ids)).Msg("telegraph: chat cleaned")
}

// rebuildDashboard replaces the dashboard messages after trips changed.
func (r *Router) rebuildDashboard(ctx context.Context, sess *Session) {
	u := sess.Data()
	for _, slot := range u.State.DashboardMsgs {
		if slot != nil {
			r.tryDelete(ctx, sess.ChatID, *slot)
		}
	}
	u.State.DashboardMsgs = []*models.MessageID{}
	if len(u.Trips) > 0 {
		r.sendDashboard(ctx, sess, r.fetchTrips(ctx, u.Trips))
	}
	sess.Persist()
}

// sendDashboard posts one message per trip and tracks them. A trip whose
// send fails gets an empty slot. It returns the number of messages sent.
// The caller persists.
func (r *Router) sendDashboard(ctx context.Context, sess *Session, data arrivals.StopData) int {
	u := sess.Data()
	now := r.now()
	ids := make([]models.MessageID, len(u.Trips))
	sent := 0
	for i, trip := range u.Trips {
		id, err := r.adapter.Send(ctx, OutboundMessage{ChatID: sess.ChatID, Text: r.renderer.Trip(trip, data, now)})
		if err != nil {
			log.Error().Err(err).Str("chat", sess.ChatID).Int("trip", i).Msg("telegraph: send dashboard")
			continue
		}
		ids[i] = id
		sent++
	}
	u.TrackDashboard(ids)
	for i, id := range ids {
		if id == "" {
			u.State.DashboardMsgs[i] = nil
		}
	}
	return sent
}

func (r *Router) fetchTrips(ctx context.Context, trips []models.Trip) arrivals.StopData {
	ids := models.StopIDs(trips)
	if len(ids) == 0 {
		return arrivals.NewStopData()
	}
	return r.fetcher.FetchAll(ctx, ids)
}

// deleteUserMessage remembers and removes the user's own message to keep
// the chat tidy.
func (r *Router) deleteUserMessage(ctx context.Context, sess *Session, msg InboundMessage) {
	if msg.MessageID == "" {
		return
	}
	if sess.Data().Remember(msg.MessageID) {
		sess.Persist()
	}
	r.tryDelete(ctx, sess.ChatID, msg.MessageID)
}

// tryDelete removes a message and ignores any failure.
func (r *Router) tryDelete(ctx context.Context, chatID string, id models.MessageID) {
	if err := r.adapter.Delete(ctx, chatID, id); err != nil && !errors.Is(err, ErrMessageNotFound) {
		log.Debug().Err(err).Str("chat", chatID).Str("msg", string(id)).Msg("telegraph: delete")
	}
}
