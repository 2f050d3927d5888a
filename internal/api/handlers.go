package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/report"
	"github.com/miradorstack/mirador-heal/internal/services"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Service is the facade the handlers call.
type Service interface {
	Trigger(ctx context.Context, jobName string) (models.Run, error)
	Rollback(ctx context.Context, caller models.Caller, req services.RollbackRequest) (models.Patch, error)
	ProposePatch(ctx context.Context, caller models.Caller, req models.ProposeRequest) (models.Patch, error)
	ApplyPatch(ctx context.Context, caller models.Caller, patchID string) (models.Patch, error)
	RejectPatch(ctx context.Context, caller models.Caller, patchID, reason string) (models.Patch, error)
	GetPatch(ctx context.Context, patchID string) (models.Patch, error)
	Report(ctx context.Context, days int) models.Report
	History(ctx context.Context, page models.Page) (models.History, error)
	Run(ctx context.Context, runID string) (models.RunHistory, error)
	RecordHeartbeat(ctx context.Context, source string) (models.Heartbeat, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	AcknowledgeAlert(ctx context.Context, caller models.Caller, alertID string) (models.Alert, error)
}

// Handlers implements the /healing routes.
type Handlers struct {
	svc    Service
	logger *slog.Logger
}

// NewHandlers wraps svc.
func NewHandlers(svc Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

type triggerRequest struct {
	Job string `json:"job" binding:"required"`
}

func (h *Handlers) trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body must be {\"job\": \"<name>\"}")
		return
	}
	run, err := h.svc.Trigger(c.Request.Context(), req.Job)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": run.Status})
}

type rollbackRequest struct {
	PatchID    string  `json:"patchId" binding:"required"`
	Reason     string  `json:"reason" binding:"required"`
	OldContent *string `json:"oldContent"`
}

func (h *Handlers) rollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "patchId and reason are required")
		return
	}
	p, err := h.svc.Rollback(c.Request.Context(), callerFrom(c), services.RollbackRequest{
		PatchID:    req.PatchID,
		Reason:     req.Reason,
		OldContent: req.OldContent,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"patchId":      p.ID,
		"status":       p.Status,
		"rolledBackAt": p.RolledBackAt,
		"reason":       p.RolledBackReason,
	})
}

func (h *Handlers) report(c *gin.Context) {
	days := report.DefaultDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > report.MaxDays {
			badRequest(c, "days must be an integer between 1 and 90")
			return
		}
		days = n
	}
	c.JSON(http.StatusOK, h.svc.Report(c.Request.Context(), days))
}

func (h *Handlers) history(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0, 1<<30)
	if !ok {
		return
	}
	hist, err := h.svc.History(c.Request.Context(), models.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "runs": hist.Runs, "stats": hist.Stats, "page": hist.Page})
}

func (h *Handlers) getRun(c *gin.Context) {
	run, err := h.svc.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "run": run.Run, "actions": run.Actions})
}

type heartbeatRequest struct {
	Source string `json:"source" binding:"required"`
}

func (h *Handlers) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "source is required")
		return
	}
	hb, err := h.svc.RecordHeartbeat(c.Request.Context(), req.Source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "heartbeat": hb})
}

func (h *Handlers) listAlerts(c *gin.Context) {
	var filter models.AlertFilter
	if raw := c.Query("acknowledged"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "acknowledged must be true or false")
			return
		}
		filter.Acknowledged = &v
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}
	limit, ok := queryInt(c, "limit", 0, 0, 1000)
	if !ok {
		return
	}
	filter.Limit = limit

	list, err := h.svc.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "alerts": list})
}

func (h *Handlers) ackAlert(c *gin.Context) {
	alert, err := h.svc.AcknowledgeAlert(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "alert": alert})
}

type proposeRequest struct {
	RunID       string `json:"runId"`
	TargetPath  string `json:"targetPath" binding:"required"`
	NewContent  string `json:"newContent"`
	Description string `json:"description"`
}

func (h *Handlers) proposePatch(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "targetPath is required")
		return
	}
	p, err := h.svc.ProposePatch(c.Request.Context(), callerFrom(c), models.ProposeRequest{
		RunID:       req.RunID,
		TargetPath:  req.TargetPath,
		NewContent:  req.NewContent,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "patch": p})
}

func (h *Handlers) applyPatch(c *gin.Context) {
	p, err := h.svc.ApplyPatch(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "patch": p})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) rejectPatch(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "body must be {\"reason\": \"...\"}")
			return
		}
	}
	p, err := h.svc.RejectPatch(c.Request.Context(), callerFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "patch": p})
}

func (h *Handlers) getPatch(c *gin.Context) {
	p, err := h.svc.GetPatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "patch": p})
}

func queryInt(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		badRequest(c, name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}
