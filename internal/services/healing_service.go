package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Collaborator contracts, satisfied by the engine packages.
type (
	Triggerer interface {
		Trigger(ctx context.Context, jobName string) (models.Run, error)
	}
	RunReader interface {
		Get(ctx context.Context, runID string) (models.Run, error)
		ListRecent(ctx context.Context, limit, offset int) ([]models.Run, error)
	}
	ActionReader interface {
		ListByRun(ctx context.Context, runID string) ([]models.Action, error)
		Stats(ctx context.Context) (models.HistoryStats, error)
	}
	PatchLifecycle interface {
		Propose(ctx context.Context, caller models.Caller, req models.ProposeRequest) (models.Patch, error)
		Apply(ctx context.Context, caller models.Caller, patchID string) (models.Patch, error)
		Rollback(ctx context.Context, caller models.Caller, patchID, reason string, fallbackOldContent *string) (models.Patch, error)
		Reject(ctx context.Context, caller models.Caller, patchID, reason string) (models.Patch, error)
		Get(ctx context.Context, patchID string) (models.Patch, error)
		ListByRun(ctx context.Context, runID string) ([]models.Patch, error)
	}
	AlertStore interface {
		List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
		Acknowledge(ctx context.Context, id, by string) (models.Alert, error)
	}
	HeartbeatStore interface {
		Record(ctx context.Context, source string) (models.Heartbeat, error)
		Latest(ctx context.Context) (models.Heartbeat, bool, error)
	}
	ReportGenerator interface {
		Generate(ctx context.Context, days int) models.Report
	}
	OperatorCheck interface {
		RequireOperator(ctx context.Context, callerID string) error
	}
	RateLimiter interface {
		Allow(ctx context.Context, key string) error
		Release(ctx context.Context, key string) error
	}
)

// Config groups the collaborators of the service facade.
type Config struct {
	Engine     Triggerer
	Runs       RunReader
	Actions    ActionReader
	Patches    PatchLifecycle
	Alerts     AlertStore
	Heartbeats HeartbeatStore
	Reports    ReportGenerator
	Operators  OperatorCheck
	Limiter    RateLimiter
	Clock      clock.Clock
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// HealingService is the transport-independent facade behind the HTTP and
// gRPC surfaces. Operator checks happen here so every transport shares them.
type HealingService struct {
	engine     Triggerer
	runs       RunReader
	actions    ActionReader
	patches    PatchLifecycle
	alerts     AlertStore
	heartbeats HeartbeatStore
	reports    ReportGenerator
	operators  OperatorCheck
	limiter    RateLimiter
	clock      clock.Clock
	staleAfter time.Duration
	logger     *slog.Logger
	latencies  *utils.LatencyTracker
}

// NewHealingService constructs the facade.
func NewHealingService(cfg Config) *HealingService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * time.Minute
	}
	return &HealingService{
		engine:     cfg.Engine,
		runs:       cfg.Runs,
		actions:    cfg.Actions,
		patches:    cfg.Patches,
		alerts:     cfg.Alerts,
		heartbeats: cfg.Heartbeats,
		reports:    cfg.Reports,
		operators:  cfg.Operators,
		limiter:    cfg.Limiter,
		clock:      clock.OrSystem(cfg.Clock),
		staleAfter: cfg.StaleAfter,
		logger:     cfg.Logger,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Trigger starts a run for jobName, subject to the per-job rate limit. Only
// triggers the engine accepts use up the quota.
func (s *HealingService) Trigger(ctx context.Context, jobName string) (models.Run, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return models.Run{}, utils.Validation("services.Trigger", "job is required")
	}
	key := "trigger:" + jobName
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, key); err != nil {
			return models.Run{}, err
		}
	}

	start := time.Now()
	run, err := s.engine.Trigger(ctx, jobName)
	if err != nil {
		s.logger.Debug("trigger rejected", slog.String("job", jobName), slog.Any("error", err))
		if s.limiter != nil {
			if rerr := s.limiter.Release(ctx, key); rerr != nil {
				s.logger.Warn("could not return rate limit slot", slog.String("job", jobName), slog.Any("error", rerr))
			}
		}
		return models.Run{}, err
	}
	s.observe(time.Since(start))
	return run, nil
}

// RollbackRequest carries an operator rollback.
type RollbackRequest struct {
	PatchID    string
	Reason     string
	OldContent *string
}

// Rollback reverts an applied patch. Operators only.
func (s *HealingService) Rollback(ctx context.Context, caller models.Caller, req RollbackRequest) (models.Patch, error) {
	if err := s.requireOperator(ctx, caller); err != nil {
		return models.Patch{}, err
	}
	p, err := s.patches.Rollback(ctx, caller, req.PatchID, req.Reason, req.OldContent)
	if err != nil {
		s.logger.Warn("rollback failed", slog.String("patch_id", req.PatchID), slog.String("caller", caller.ID), slog.Any("error", err))
		return p, err
	}
	s.logger.Info("patch rolled back", slog.String("patch_id", p.ID), slog.String("caller", caller.ID), slog.String("reason", req.Reason))
	return p, nil
}

// ProposePatch records an operator-authored patch.
func (s *HealingService) ProposePatch(ctx context.Context, caller models.Caller, req models.ProposeRequest) (models.Patch, error) {
	if err := s.requireOperator(ctx, caller); err != nil {
		return models.Patch{}, err
	}
	return s.patches.Propose(ctx, caller, req)
}

// ApplyPatch applies a proposed patch.
func (s *HealingService) ApplyPatch(ctx context.Context, caller models.Caller, patchID string) (models.Patch, error) {
	if err := s.requireOperator(ctx, caller); err != nil {
		return models.Patch{}, err
	}
	return s.patches.Apply(ctx, caller, patchID)
}

// RejectPatch abandons a proposed patch without touching the content host.
func (s *HealingService) RejectPatch(ctx context.Context, caller models.Caller, patchID, reason string) (models.Patch, error) {
	if err := s.requireOperator(ctx, caller); err != nil {
		return models.Patch{}, err
	}
	return s.patches.Reject(ctx, caller, patchID, reason)
}

// GetPatch returns a patch.
func (s *HealingService) GetPatch(ctx context.Context, patchID string) (models.Patch, error) {
	return s.patches.Get(ctx, patchID)
}

// Report composes the proof report.
func (s *HealingService) Report(ctx context.Context, days int) models.Report {
	return s.reports.Generate(ctx, days)
}

// History pages through runs, newest first, each with its actions.
func (s *HealingService) History(ctx context.Context, page models.Page) (models.History, error) {
	runs, err := s.runs.ListRecent(ctx, page.Limit, page.Offset)
	if err != nil {
		return models.History{}, err
	}
	out := models.History{
		Runs: make([]models.RunHistory, 0, len(runs)),
		Page: models.PageInfo{Limit: page.Limit, Offset: page.Offset},
	}
	for _, r := range runs {
		acts, err := s.actions.ListByRun(ctx, r.ID)
		if err != nil {
			return models.History{}, err
		}
		out.Runs = append(out.Runs, models.RunHistory{Run: r, Actions: nonNil(acts)})
	}
	if out.Stats, err = s.actions.Stats(ctx); err != nil {
		return models.History{}, err
	}
	return out, nil
}

// Run returns one run with its actions and the patches it proposed.
func (s *HealingService) Run(ctx context.Context, runID string) (models.RunHistory, error) {
	r, err := s.runs.Get(ctx, runID)
	if err != nil {
		return models.RunHistory{}, err
	}
	acts, err := s.actions.ListByRun(ctx, runID)
	if err != nil {
		return models.RunHistory{}, err
	}
	patches, err := s.patches.ListByRun(ctx, runID)
	if err != nil {
		return models.RunHistory{}, err
	}
	return models.RunHistory{Run: r, Actions: nonNil(acts), Patches: patches}, nil
}

// RecordHeartbeat stores a ping from source.
func (s *HealingService) RecordHeartbeat(ctx context.Context, source string) (models.Heartbeat, error) {
	return s.heartbeats.Record(ctx, source)
}

// HeartbeatFresh reports whether the newest heartbeat is younger than the
// staleness budget.
func (s *HealingService) HeartbeatFresh(ctx context.Context) (bool, error) {
	hb, ok, err := s.heartbeats.Latest(ctx)
	if err != nil || !ok {
		return false, err
	}
	return s.clock.Now().Sub(hb.Timestamp) < s.staleAfter, nil
}

// ListAlerts returns alerts newest first.
func (s *HealingService) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return s.alerts.List(ctx, filter)
}

// AcknowledgeAlert marks an alert handled. Operators only.
func (s *HealingService) AcknowledgeAlert(ctx context.Context, caller models.Caller, alertID string) (models.Alert, error) {
	if err := s.requireOperator(ctx, caller); err != nil {
		return models.Alert{}, err
	}
	return s.alerts.Acknowledge(ctx, alertID, caller.ID)
}

// TriggerLatencyP95 returns the p95 latency of accepted triggers.
func (s *HealingService) TriggerLatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *HealingService) requireOperator(ctx context.Context, caller models.Caller) error {
	if s.operators == nil {
		return &utils.AppError{Op: "services.requireOperator", Msg: "no authorizer configured", Kind: utils.ErrForbidden}
	}
	return s.operators.RequireOperator(ctx, caller.ID)
}

func (s *HealingService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("trigger latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
