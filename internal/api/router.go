package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP surface. Operator routes require a bearer token;
// the service decides whether the caller is allowed.
func NewRouter(h *Handlers, authn Authenticator, db Pinger, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		if db != nil {
			if err := db.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": gin.H{"kind": "unavailable", "message": "database unreachable"}})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	healing := r.Group("/healing")
	healing.POST("/trigger", h.trigger)
	healing.POST("/heartbeat", h.heartbeat)
	healing.GET("/report", h.report)
	healing.GET("/history", h.history)
	healing.GET("/runs/:id", h.getRun)
	healing.GET("/alerts", h.listAlerts)
	healing.GET("/patches/:id", h.getPatch)

	operator := healing.Group("", requireCaller(authn))
	operator.POST("/rollback", h.rollback)
	operator.POST("/alerts/:id/ack", h.ackAlert)
	operator.POST("/patches", h.proposePatch)
	operator.POST("/patches/:id/apply", h.applyPatch)
	operator.POST("/patches/:id/reject", h.rejectPatch)

	return r
}
