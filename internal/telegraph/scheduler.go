package telegraph

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/zulandar/tramtram/internal/arrivals"
)

// DefaultInterval is the delay between cycles when none is configured.
const DefaultInterval = 15 * time.Second

// Fetcher loads provider data for a set of stops. Failures degrade to
// empty times and the id as name; they are never returned.
type Fetcher interface {
	FetchAll(ctx context.Context, stopIDs []string) arrivals.StopData
	FetchOne(ctx context.Context, stopID string) (string, []arrivals.Pattern)
}

// State is the scheduler's mode for a cycle.
type State string

const (
	StateActive  State = "active"
	StateQuiet   State = "quiet"
	StateStopped State = "stopped"
)

// QuietHours is the daily window [StartHour, EndHour) of local hours with
// no updates. It never wraps midnight, so a StartHour at or after EndHour
// makes an empty window.
type QuietHours struct {
	StartHour int
	EndHour   int
}

// Contains reports whether hour falls in the window.
func (q *QuietHours) Contains(hour int) bool {
	if q == nil {
		return false
	}
	return hour >= q.StartHour && hour < q.EndHour
}

// SchedulerStatus describes the scheduler for the status endpoint.
type SchedulerStatus struct {
	State          State     `json:"state"`
	Cycles         uint64    `json:"cycles"`
	LastCycle      time.Time `json:"last_cycle,omitempty"`
	LastDurationMS int64     `json:"last_duration_ms"`
	ActiveSessions int       `json:"active_sessions"`
	StopIDs        int       `json:"stop_ids"`
	LastError      string    `json:"last_error,omitempty"`
}

// Scheduler runs reconciliation cycles on a fixed interval.
type Scheduler struct {
	registry      *Registry
	fetcher       Fetcher
	reconciler    *Reconciler
	interval      time.Duration
	quiet         *QuietHours
	location      *time.Location
	maxConcurrent int
	metrics       *Metrics
	now           func() time.Time

	mu     sync.Mutex
	status SchedulerStatus
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Registry      *Registry
	Fetcher       Fetcher
	Reconciler    *Reconciler
	Interval      time.Duration    // defaults to DefaultInterval
	QuietHours    *QuietHours      // nil: always active
	Location      *time.Location   // for quiet hours; defaults to UTC
	MaxConcurrent int              // sessions reconciled at once; defaults to 4
	Metrics       *Metrics         // optional
	Now           func() time.Time // defaults to time.Now
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: scheduler: registry is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("telegraph: scheduler: fetcher is required")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("telegraph: scheduler: reconciler is required")
	}
	s := &Scheduler{
		registry:      opts.Registry,
		fetcher:       opts.Fetcher,
		reconciler:    opts.Reconciler,
		interval:      opts.Interval,
		quiet:         opts.QuietHours,
		location:      opts.Location,
		maxConcurrent: opts.MaxConcurrent,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = 4
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.status.State = StateActive
	return s, nil
}

// StateAt returns the scheduler state for instant t.
func (s *Scheduler) StateAt(t time.Time) State {
	if s.quiet.Contains(t.In(s.location).Hour()) {
		return StateQuiet
	}
	return StateActive
}

// Run loops until ctx is cancelled: an active cycle fetches and
// reconciles, a quiet one does nothing, and both then sleep one interval.
// A failing or panicking cycle is logged and the loop goes on.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("telegraph: scheduler started")
	for {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			log.Info().Msg("telegraph: scheduler stopped")
			return
		}
		state := s.StateAt(s.now())
		s.setState(state)
		s.metrics.recordCycle(state)
		if state == StateActive {
			if err := s.runSafely(ctx); err != nil {
				log.Error().Err(err).Msg("telegraph: cycle failed")
			}
		}
		sleepWithContext(ctx, s.interval)
	}
}

// runSafely runs one cycle and turns a panic into an error.
func (s *Scheduler) runSafely(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.metrics.recordPanic()
			err = fmt.Errorf("telegraph: cycle panic: %v\n%s", p, debug.Stack())
		}
		s.mu.Lock()
		s.status.LastError = ""
		if err != nil {
			s.status.LastError = err.Error()
		}
		s.mu.Unlock()
	}()
	return s.RunCycle(ctx)
}

// RunCycle performs one active cycle: aggregate the stops every active
// session needs, fetch them once, then reconcile sessions concurrently.
// Each session is reconciled by a single goroutine.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	start := time.Now()
	plan := Aggregate(s.registry.Snapshot())
	s.metrics.setActiveSessions(len(plan.Active))
	if len(plan.Active) == 0 {
		s.recordStatus(plan, start)
		return nil
	}

	data := arrivals.NewStopData()
	if len(plan.StopIDs) > 0 {
		fetchStart := time.Now()
		data = s.fetcher.FetchAll(ctx, plan.StopIDs)
		s.metrics.recordFetch(time.Since(fetchStart).Seconds(), len(plan.StopIDs))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	p := pool.New().WithMaxGoroutines(s.maxConcurrent)
	for _, sess := range plan.Active {
		p.Go(func() {
			res := s.reconciler.Reconcile(ctx, sess, data, now)
			if res.Stale > 0 || res.Failed > 0 || res.TornDown > 0 {
				log.Debug().Str("chat", sess.ChatID).Int("edited", res.Edited).Int("stale", res.Stale).
					Int("failed", res.Failed).Int("torn_down", res.TornDown).Msg("telegraph: reconciled")
			}
		})
	}
	p.Wait()

	s.recordStatus(plan, start)
	s.metrics.recordCycleDuration(time.Since(start).Seconds())
	return nil
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
}

func (s *Scheduler) recordStatus(plan Plan, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cycles++
	s.status.LastCycle = start
	s.status.LastDurationMS = time.Since(start).Milliseconds()
	s.status.ActiveSessions = len(plan.Active)
	s.status.StopIDs = len(plan.StopIDs)
}

// Status returns a copy of the scheduler's current status.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// sleepWithContext sleeps for the given duration but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
