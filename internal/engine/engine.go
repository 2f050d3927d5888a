// Package engine executes runs: it opens a run, executes the job's
// diagnostics, lets the escalation policy decide on every issue, delegates
// the decision and closes the run with the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/diagnostics"
	"github.com/miradorstack/mirador-heal/internal/escalation"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// JobSource reads job configuration.
type JobSource interface {
	GetJob(ctx context.Context, name string) (models.Job, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]models.Job, error)
}

// RunTracker opens and closes runs.
type RunTracker interface {
	Open(ctx context.Context, jobName string) (models.Run, error)
	Close(ctx context.Context, runID string, status models.RunStatus, counts models.RunCounts) (models.Run, error)
}

// ActionLog records what a run did about each issue.
type ActionLog interface {
	Record(ctx context.Context, runID, actionType, target string) (models.Action, error)
	Finish(ctx context.Context, actionID string, status models.ActionStatus, detail string) (models.Action, error)
}

// PatchController proposes and applies fixes.
type PatchController interface {
	Propose(ctx context.Context, caller models.Caller, req models.ProposeRequest) (models.Patch, error)
	Apply(ctx context.Context, caller models.Caller, patchID string) (models.Patch, error)
}

// AlertRaiser escalates issues to operators.
type AlertRaiser interface {
	Raise(ctx context.Context, severity models.Severity, message, runID string) (models.Alert, error)
}

// DiagnosticResolver maps a job's diagnostic names to checks.
type DiagnosticResolver interface {
	Resolve(names []string) ([]diagnostics.Diagnostic, error)
}

// Config groups the collaborators of an Engine.
type Config struct {
	Jobs        JobSource
	Runs        RunTracker
	Actions     ActionLog
	Patches     PatchController
	Alerts      AlertRaiser
	Diagnostics DiagnosticResolver
	Policy      escalation.Policy
	RunTimeout  time.Duration
	Logger      *slog.Logger
}

// Engine runs jobs.
type Engine struct {
	jobs        JobSource
	runs        RunTracker
	actions     ActionLog
	patches     PatchController
	alerts      AlertRaiser
	diagnostics DiagnosticResolver
	policy      escalation.Policy
	runTimeout  time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Jobs == nil || cfg.Runs == nil || cfg.Actions == nil || cfg.Patches == nil || cfg.Alerts == nil || cfg.Diagnostics == nil {
		return nil, errors.New("engine: jobs, runs, actions, patches, alerts and diagnostics are required")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.Threshold() == 0 {
		cfg.Policy = escalation.NewPolicy(0, nil)
	}
	return &Engine{
		jobs:        cfg.Jobs,
		runs:        cfg.Runs,
		actions:     cfg.Actions,
		patches:     cfg.Patches,
		alerts:      cfg.Alerts,
		diagnostics: cfg.Diagnostics,
		policy:      cfg.Policy,
		runTimeout:  cfg.RunTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Trigger opens a run for jobName and executes it in the background. The
// returned run is still running. The execution outlives ctx and is bounded
// by the run timeout instead.
func (e *Engine) Trigger(ctx context.Context, jobName string) (models.Run, error) {
	run, err := e.open(ctx, jobName)
	if err != nil {
		return models.Run{}, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.runTimeout)
		defer cancel()
		if _, err := e.Execute(runCtx, run); err != nil {
			e.logger.Error("run execution failed", slog.String("run_id", run.ID), slog.String("job", run.JobName), slog.Any("error", err))
		}
	}()
	return run, nil
}

// RunSync opens a run for jobName and executes it before returning the
// closed run.
func (e *Engine) RunSync(ctx context.Context, jobName string) (models.Run, error) {
	run, err := e.open(ctx, jobName)
	if err != nil {
		return models.Run{}, err
	}
	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()
	return e.Execute(runCtx, run)
}

// Wait blocks until every triggered run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) open(ctx context.Context, jobName string) (models.Run, error) {
	const op = "engine.Trigger"
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return models.Run{}, utils.Validation(op, "job name is required")
	}
	job, err := e.jobs.GetJob(ctx, jobName)
	if err != nil {
		return models.Run{}, err
	}
	if !job.Enabled {
		return models.Run{}, utils.Conflict(op, "job "+jobName+" is disabled")
	}
	return e.runs.Open(ctx, job.Name)
}

// outcome accumulates what happened during a run.
type outcome struct {
	issues       int
	fixAttempts  int
	fixesApplied int
	notFixed     int
	errs         []string
	diagFailed   bool
}

// Execute runs the diagnostics of run's job and closes run. A panic inside a
// diagnostic closes the run as failed.
func (e *Engine) Execute(ctx context.Context, run models.Run) (closed models.Run, err error) {
	logger := e.logger.With(slog.String("run_id", run.ID), slog.String("job", run.JobName))
	var out outcome

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", slog.Any("panic", r))
			out.diagFailed = true
			out.errs = append(out.errs, fmt.Sprintf("panic: %v", r))
			closed, err = e.close(ctx, run, out)
		}
	}()

	job, err := e.jobs.GetJob(ctx, run.JobName)
	if err != nil {
		out.diagFailed = true
		out.errs = append(out.errs, err.Error())
		return e.close(ctx, run, out)
	}
	checks, err := e.diagnostics.Resolve(job.Diagnostics)
	if err != nil {
		out.diagFailed = true
		out.errs = append(out.errs, err.Error())
		return e.close(ctx, run, out)
	}

	var issues []models.Issue
	for _, check := range checks {
		found, err := check.Run(ctx)
		if err != nil {
			logger.Warn("diagnostic failed", slog.String("diagnostic", check.Name()), slog.Any("error", err))
			out.diagFailed = true
			out.errs = append(out.errs, check.Name()+": "+err.Error())
		}
		issues = append(issues, found...)
	}
	out.issues = len(issues)

	for _, decision := range e.policy.Decide(issues) {
		e.delegate(ctx, logger, run, decision, &out)
	}

	return e.close(ctx, run, out)
}

func (e *Engine) delegate(ctx context.Context, logger *slog.Logger, run models.Run, d models.Decision, out *outcome) {
	switch d.Outcome {
	case models.OutcomeAutoFix:
		out.fixAttempts++
		if e.autoFix(ctx, logger, run, d, out) {
			out.fixesApplied++
			return
		}
		out.notFixed++
	case models.OutcomeHold:
		out.notFixed++
		e.hold(ctx, logger, run, d, out)
	default:
		out.notFixed++
		e.escalate(ctx, logger, run, d, out)
	}
}

func (e *Engine) autoFix(ctx context.Context, logger *slog.Logger, run models.Run, d models.Decision, out *outcome) bool {
	fix := d.Issue.Fix
	action, err := e.actions.Record(ctx, run.ID, models.ActionTypePatchApply, fix.TargetPath)
	if err != nil {
		out.errs = append(out.errs, "record action: "+err.Error())
		return false
	}

	patch, err := e.patches.Propose(ctx, models.SystemCaller, proposal(run, d))
	if err == nil {
		patch, err = e.patches.Apply(ctx, models.SystemCaller, patch.ID)
	}
	if err != nil {
		logger.Warn("automated fix failed", slog.String("target", fix.TargetPath), slog.Any("error", err))
		out.errs = append(out.errs, fix.TargetPath+": "+err.Error())
		e.finish(ctx, logger, action, models.ActionFailed, err.Error())
		return false
	}

	logger.Info("automated fix applied", slog.String("patch_id", patch.ID), slog.String("target", fix.TargetPath))
	e.finish(ctx, logger, action, models.ActionApplied, "patch "+patch.ID+" applied")
	return true
}

func (e *Engine) hold(ctx context.Context, logger *slog.Logger, run models.Run, d models.Decision, out *outcome) {
	fix := d.Issue.Fix
	action, err := e.actions.Record(ctx, run.ID, models.ActionTypePatchHold, fix.TargetPath)
	if err != nil {
		out.errs = append(out.errs, "record action: "+err.Error())
		return
	}
	patch, err := e.patches.Propose(ctx, models.SystemCaller, proposal(run, d))
	if err != nil {
		out.errs = append(out.errs, fix.TargetPath+": "+err.Error())
		e.finish(ctx, logger, action, models.ActionFailed, err.Error())
		return
	}
	logger.Info("fix held for review", slog.String("patch_id", patch.ID), slog.String("target", fix.TargetPath))
	e.finish(ctx, logger, action, models.ActionSkipped, "patch "+patch.ID+" proposed, "+d.Reason)
}

func (e *Engine) escalate(ctx context.Context, logger *slog.Logger, run models.Run, d models.Decision, out *outcome) {
	action, err := e.actions.Record(ctx, run.ID, models.ActionTypeEscalate, d.Issue.Target)
	if err != nil {
		out.errs = append(out.errs, "record action: "+err.Error())
		return
	}
	alert, err := e.alerts.Raise(ctx, d.Severity, alertMessage(d), run.ID)
	if err != nil {
		out.errs = append(out.errs, "raise alert: "+err.Error())
		e.finish(ctx, logger, action, models.ActionFailed, err.Error())
		return
	}
	e.finish(ctx, logger, action, models.ActionApplied, "alert "+alert.ID+" raised")
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, action models.Action, status models.ActionStatus, detail string) {
	if _, err := e.actions.Finish(ctx, action.ID, status, detail); err != nil {
		logger.Error("failed to finish action", slog.String("action_id", action.ID), slog.Any("error", err))
	}
}

// close records the outcome. It uses a fresh deadline so a run that
// exhausted its budget is still closed.
func (e *Engine) close(ctx context.Context, run models.Run, out outcome) (models.Run, error) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := ctx.Err(); err != nil {
		out.errs = append(out.errs, "run aborted: "+err.Error())
		out.diagFailed = true
	}
	status := runStatus(out)
	closed, err := e.runs.Close(closeCtx, run.ID, status, models.RunCounts{
		IssuesDetected: out.issues,
		FixesApplied:   out.fixesApplied,
		Error:          strings.Join(out.errs, "; "),
	})
	if err != nil {
		return models.Run{}, err
	}
	e.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.String("job", run.JobName),
		slog.String("status", string(closed.Status)),
		slog.Int("issues", out.issues),
		slog.Int("fixes_applied", out.fixesApplied),
	)
	return closed, nil
}

// runStatus maps an outcome onto a terminal status: failed when a
// diagnostic failed or every fix attempt failed, partial when some issue was
// left unfixed, success otherwise.
func runStatus(out outcome) models.RunStatus {
	switch {
	case out.diagFailed:
		return models.RunFailed
	case out.fixAttempts > 0 && out.fixesApplied == 0:
		return models.RunFailed
	case out.notFixed > 0:
		return models.RunPartial
	}
	return models.RunSuccess
}

func proposal(run models.Run, d models.Decision) models.ProposeRequest {
	desc := d.Issue.Fix.Description
	if desc == "" {
		desc = d.Issue.Summary
	}
	return models.ProposeRequest{
		RunID:       run.ID,
		TargetPath:  d.Issue.Fix.TargetPath,
		NewContent:  d.Issue.Fix.NewContent,
		Description: desc,
	}
}

func alertMessage(d models.Decision) string {
	msg := fmt.Sprintf("[%s] %s", d.Issue.Check, d.Issue.Summary)
	if d.Issue.Target != "" {
		msg += " (target " + d.Issue.Target + ")"
	}
	if d.Reason != "" {
		msg += ": " + d.Reason
	}
	return msg
}
