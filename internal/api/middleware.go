package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-heal/internal/models"
)

const callerKey = "mirador_heal_caller"

// Authenticator resolves an Authorization header into a caller.
type Authenticator interface {
	Authenticate(header string) (models.Caller, error)
}

// requireCaller rejects requests without a valid bearer token and stores the
// caller for handlers.
func requireCaller(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := authn.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) models.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(models.Caller); ok {
			return caller
		}
	}
	return models.Caller{}
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
