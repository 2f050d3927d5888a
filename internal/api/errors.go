package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// statusFor maps an error kind onto an HTTP status and a machine-readable kind.
func statusFor(err error) (int, string) {
	switch utils.KindOf(err) {
	case utils.ErrValidation:
		return http.StatusBadRequest, "validation"
	case utils.ErrUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case utils.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	case utils.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case utils.ErrConflict:
		return http.StatusConflict, "conflict"
	case utils.ErrInvalidState:
		return http.StatusConflict, "invalid_state"
	case utils.ErrRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case utils.ErrTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case utils.ErrFetch:
		return http.StatusBadGateway, "fetch_failed"
	case utils.ErrWrite:
		return http.StatusBadGateway, "write_failed"
	case utils.ErrAudit:
		return http.StatusInternalServerError, "audit_failed"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, err error) {
	code, kind := statusFor(err)
	msg := err.Error()
	var appErr *utils.AppError
	if code == http.StatusInternalServerError && !errors.As(err, &appErr) {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{
		"status": "error",
		"error":  gin.H{"kind": kind, "message": msg},
	})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, utils.Validation("api", msg))
}
