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
	"github.com/zulandar/tramtram/internal/render"
)

const (
	stopPayloadPrefix = "stop_"
	stopButtonText    = "🛑 STOP"
)

// StopPayload is the button payload that stops live-stop message id.
func StopPayload(id models.MessageID) string {
	return stopPayloadPrefix + string(id)
}

// ParseStopPayload recovers the message id from a StopPayload.
func ParseStopPayload(data string) (models.MessageID, bool) {
	id, ok := strings.CutPrefix(data, stopPayloadPrefix)
	if !ok || id == "" {
		return "", false
	}
	return models.MessageID(id), true
}

func stopButtons(id models.MessageID) [][]Button {
	return [][]Button{{{Text: stopButtonText, Payload: StopPayload(id)}}}
}

type editOutcome int

const (
	outcomeOK editOutcome = iota
	outcomeNotModified
	outcomeStale
	outcomeFailed
)

func (o editOutcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeNotModified:
		return "not_modified"
	case outcomeStale:
		return "stale"
	}
	return "failed"
}

// classifyEdit maps an Edit error onto what the engine does about it.
func classifyEdit(err error) editOutcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrMessageNotModified):
		return outcomeNotModified
	case errors.Is(err, ErrMessageNotFound):
		return outcomeStale
	}
	return outcomeFailed
}

// Result counts what one reconciliation did.
type Result struct {
	Edited      int
	NotModified int
	Stale       int
	Failed      int
	TornDown    int
}

func (r *Result) add(o editOutcome) {
	switch o {
	case outcomeOK:
		r.Edited++
	case outcomeNotModified:
		r.NotModified++
	case outcomeStale:
		r.Stale++
	default:
		r.Failed++
	}
}

// Reconciler pushes fetched arrivals into one chat's tracked messages.
type Reconciler struct {
	adapter  Adapter
	renderer *render.Renderer
	metrics  *Metrics
}

// ReconcilerOpts holds parameters for creating a Reconciler.
type ReconcilerOpts struct {
	Adapter  Adapter
	Renderer *render.Renderer
	Metrics  *Metrics // optional
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOpts) (*Reconciler, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: reconciler: adapter is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("telegraph: reconciler: renderer is required")
	}
	return &Reconciler{adapter: opts.Adapter, renderer: opts.Renderer, metrics: opts.Metrics}, nil
}

// Reconcile edits the session's dashboard, then its live stops, and tears
// down live stops that expired or vanished. It holds the session lock
// throughout and persists once if tracked state changed.
func (r *Reconciler) Reconcile(ctx context.Context, s *Session, data arrivals.StopData, now time.Time) Result {
	s.Lock()
	defer s.Unlock()

	var res Result
	changed := r.reconcileDashboard(ctx, s, data, now, &res)
	if r.reconcileStops(ctx, s, data, now, &res) {
		changed = true
	}
	if changed {
		s.Persist()
	}
	return res
}

// reconcileDashboard edits every live dashboard slot. A slot whose message
// is gone is nulled. It reports whether state changed. The caller holds
// the session lock.
func (r *Reconciler) reconcileDashboard(ctx context.Context, s *Session, data arrivals.StopData, now time.Time, res *Result) bool {
	u := s.Data()
	changed := false
	for i, slot := range u.State.DashboardMsgs {
		if slot == nil || i >= len(u.Trips) {
			continue
		}
		msg := OutboundMessage{ChatID: s.ChatID, Text: r.renderer.Trip(u.Trips[i], data, now)}
		err := r.adapter.Edit(ctx, s.ChatID, *slot, msg)
		o := classifyEdit(err)
		res.add(o)
		r.metrics.recordEdit("dashboard", o)
		switch o {
		case outcomeStale:
			log.Info().Str("chat", s.ChatID).Int("slot", i).Str("msg", string(*slot)).
				Msg("telegraph: dashboard message gone, dropping slot")
			u.State.DashboardMsgs[i] = nil
			changed = true
		case outcomeFailed:
			log.Warn().Err(err).Str("chat", s.ChatID).Int("slot", i).Msg("telegraph: edit dashboard")
		}
	}
	return changed
}

// reconcileStops refreshes live-stop messages in message id order and
// tears down the expired or missing ones. It reports whether state
// changed. The caller holds the session lock.
func (r *Reconciler) reconcileStops(ctx context.Context, s *Session, data arrivals.StopData, now time.Time, res *Result) bool {
	u := s.Data()
	var teardown []models.MessageID
	for _, id := range u.SortedStopMsgIDs() {
		view := u.State.StopMsgs[id]
		remaining := view.Expires.Sub(now)
		if remaining <= 0 {
			teardown = append(teardown, id)
			continue
		}
		minutes := max(1, int(remaining/time.Minute))
		msg := OutboundMessage{
			ChatID:  s.ChatID,
			Text:    r.renderer.Stop(data.Name(view.StopID), view.StopID, data.Times[view.StopID], now, minutes),
			Buttons: stopButtons(id),
		}
		err := r.adapter.Edit(ctx, s.ChatID, id, msg)
		o := classifyEdit(err)
		res.add(o)
		r.metrics.recordEdit("stop", o)
		switch o {
		case outcomeStale:
			teardown = append(teardown, id)
		case outcomeFailed:
			log.Warn().Err(err).Str("chat", s.ChatID).Str("msg", string(id)).Msg("telegraph: edit live stop")
		}
	}
	for _, id := range teardown {
		r.teardownStop(ctx, s, id)
		res.TornDown++
	}
	return len(teardown) > 0
}

// teardownStop deletes a live-stop message, ignoring failures, and stops
// tracking it. The caller holds the session lock and persists.
func (r *Reconciler) teardownStop(ctx context.Context, s *Session, id models.MessageID) {
	if err := r.adapter.Delete(ctx, s.ChatID, id); err != nil && !errors.Is(err, ErrMessageNotFound) {
		log.Debug().Err(err).Str("chat", s.ChatID).Str("msg", string(id)).Msg("telegraph: delete live stop")
	}
	s.Data().UntrackStop(id)
	r.metrics.recordTeardown()
	log.Info().Str("chat", s.ChatID).Str("msg", string(id)).Msg("telegraph: live stop removed")
}
