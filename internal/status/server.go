// Package status serves the health, scheduler status and Prometheus
// metrics endpoints.
package status

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/telegraph"
)

// DefaultPort is where the endpoints listen when no port is configured.
const DefaultPort = 9464

// SchedulerSource reports the scheduler's latest cycle.
type SchedulerSource interface {
	Status() telegraph.SchedulerStatus
}

// SessionCounter reports how many chats are loaded.
type SessionCounter interface {
	Len() int
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Scheduler SchedulerSource
	Sessions  SessionCounter
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Port      int
	Version   string
	Platform  string
}

// Response is the /status body.
type Response struct {
	Version   string                    `json:"version"`
	Platform  string                    `json:"platform"`
	Uptime    string                    `json:"uptime"`
	Sessions  int                       `json:"sessions"`
	Scheduler telegraph.SchedulerStatus `json:"scheduler"`
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", opts.Port).Msg("status: serving /healthz, /status and /metrics")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every status route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("status: scheduler is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("status: sessions is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts, time.Now())
	return router, nil
}
