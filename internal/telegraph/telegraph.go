package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/render"
)

// DefaultFlushCron persists every session every five minutes.
const DefaultFlushCron = "*/5 * * * *"

// Daemon is the main TramTram process. It connects to a chat platform via
// an Adapter, runs the scheduler in the background, pumps inbound messages
// to the Router, and flushes every session to the store on shutdown.
type Daemon struct {
	adapter   Adapter
	registry  *Registry
	scheduler *Scheduler
	router    *Router
	flushCron string
	location  *time.Location
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter       Adapter
	Store         Store
	Fetcher       Fetcher
	Renderer      *render.Renderer
	Interval      time.Duration  // defaults to DefaultInterval
	QuietHours    *QuietHours    // nil: always active
	Location      *time.Location // local time for quiet hours and flushes
	StopTTL       time.Duration  // defaults to DefaultStopTTL
	MaxConcurrent int            // sessions reconciled at once
	FlushCron     string         // defaults to DefaultFlushCron
	Metrics       *Metrics       // optional
}

// NewDaemon creates a Daemon and everything it drives.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("telegraph: store is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("telegraph: fetcher is required")
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New(nil, opts.Location)
	}
	if opts.FlushCron == "" {
		opts.FlushCron = DefaultFlushCron
	}
	if _, err := cronParser.Parse(opts.FlushCron); err != nil {
		return nil, fmt.Errorf("telegraph: flush schedule %q: %w", opts.FlushCron, err)
	}

	registry, err := NewRegistry(opts.Store)
	if err != nil {
		return nil, err
	}
	reconciler, err := NewReconciler(ReconcilerOpts{
		Adapter:  opts.Adapter,
		Renderer: opts.Renderer,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("telegraph: build reconciler: %w", err)
	}
	scheduler, err := NewScheduler(SchedulerOpts{
		Registry:      registry,
		Fetcher:       opts.Fetcher,
		Reconciler:    reconciler,
		Interval:      opts.Interval,
		QuietHours:    opts.QuietHours,
		Location:      opts.Location,
		MaxConcurrent: opts.MaxConcurrent,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("telegraph: build scheduler: %w", err)
	}
	router, err := NewRouter(RouterOpts{
		Registry:   registry,
		Adapter:    opts.Adapter,
		Fetcher:    opts.Fetcher,
		Reconciler: reconciler,
		Renderer:   opts.Renderer,
		Metrics:    opts.Metrics,
		StopTTL:    opts.StopTTL,
		Interval:   opts.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("telegraph: build router: %w", err)
	}
	return &Daemon{
		adapter:   opts.Adapter,
		registry:  registry,
		scheduler: scheduler,
		router:    router,
		flushCron: opts.FlushCron,
		location:  opts.Location,
	}, nil
}

// Scheduler returns the daemon's scheduler, for status reporting.
func (d *Daemon) Scheduler() *Scheduler { return d.scheduler }

// Registry returns the daemon's session registry.
func (d *Daemon) Registry() *Registry { return d.registry }

// Run connects the adapter, loads every chat, starts the scheduler and
// the periodic flush, and routes inbound messages until ctx is cancelled.
// On shutdown it waits for the scheduler to stop, flushes every session
// and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	log.Info().Msg("TramTram connecting...")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	if bui, ok := d.adapter.(BotUserIDer); ok {
		d.router.botUserID = bui.BotUserID()
	}

	n, err := d.registry.LoadAll()
	if err != nil {
		d.adapter.Close()
		return err
	}
	log.Info().Int("users", n).Msg("telegraph: sessions loaded")

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	flusher, err := newFlushCron(d.flushCron, d.location, func() {
		if err := d.registry.FlushAll(); err != nil {
			log.Error().Err(err).Msg("telegraph: periodic flush")
		}
	})
	if err != nil {
		d.adapter.Close()
		return err
	}
	flusher.Start()
	log.Debug().Dur("next_flush", nextCronDuration(d.flushCron)).Msg("telegraph: flush scheduled")

	schedCtx, cancelSched := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.scheduler.Run(schedCtx)
	}()

	log.Info().Msg("TramTram online")

	stop := func() {
		cancelSched()
		wg.Wait()
		<-flusher.Stop().Done()
		if err := d.registry.FlushAll(); err != nil {
			log.Error().Err(err).Msg("telegraph: final flush")
		}
		if err := d.adapter.Close(); err != nil {
			log.Warn().Err(err).Msg("telegraph: close adapter")
		}
		log.Info().Msg("TramTram stopped")
	}

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("TramTram shutting down...")
			stop()
			return nil

		case msg, ok := <-inbound:
			if !ok {
				log.Warn().Msg("telegraph: inbound channel closed")
				stop()
				return nil
			}
			d.router.Handle(ctx, msg)
		}
	}
}
