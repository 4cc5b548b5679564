package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/tramtram/internal/telegraph"
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts, started time.Time) {
	router.GET("/healthz", handleHealth(opts.Scheduler))
	router.GET("/status", handleStatus(opts, started))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
}

// handleHealth fails once the scheduler has stopped.
func handleHealth(s SchedulerSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Status().State == telegraph.StateStopped {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStatus(opts StartOpts, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{
			Version:   opts.Version,
			Platform:  opts.Platform,
			Uptime:    time.Since(started).Round(time.Second).String(),
			Sessions:  opts.Sessions.Len(),
			Scheduler: opts.Scheduler.Status(),
		})
	}
}
