// Package patches drives the patch lifecycle: propose, apply, rollback and
// reject. Every transition is audited and a failed audit write fails the call.
package patches

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/audit"
	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/contenthost"
	"github.com/miradorstack/mirador-heal/internal/lock"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Repository is the persistence used by Controller.
type Repository interface {
	InsertPatch(ctx context.Context, p models.Patch) error
	GetPatch(ctx context.Context, id string) (models.Patch, error)
	TransitionPatch(ctx context.Context, p models.Patch, from models.PatchStatus) (bool, error)
	ListPatchesByRun(ctx context.Context, runID string) ([]models.Patch, error)
}

const settleTimeout = 5 * time.Second

// Controller enforces the patch state machine.
type Controller struct {
	repo        Repository
	host        contenthost.Host
	sink        audit.Sink
	locker      lock.Locker
	clock       clock.Clock
	hostTimeout time.Duration
	logger      *slog.Logger
}

// Config groups the collaborators of a Controller.
type Config struct {
	Repo        Repository
	Host        contenthost.Host
	Sink        audit.Sink
	Locker      lock.Locker
	Clock       clock.Clock
	HostTimeout time.Duration
	Logger      *slog.Logger
}

// NewController validates cfg and builds a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Repo == nil || cfg.Host == nil || cfg.Sink == nil || cfg.Locker == nil {
		return nil, errors.New("patches: repo, host, sink and locker are required")
	}
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		repo:        cfg.Repo,
		host:        cfg.Host,
		sink:        cfg.Sink,
		locker:      cfg.Locker,
		clock:       clock.OrSystem(cfg.Clock),
		hostTimeout: cfg.HostTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Checksum returns the hex SHA-256 of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Propose captures the live content of the target as the rollback baseline and
// stores a proposed patch. It fails with ErrFetch when the baseline is unreadable.
func (c *Controller) Propose(ctx context.Context, caller models.Caller, req models.ProposeRequest) (models.Patch, error) {
	const op = "patches.Propose"
	if err := requireCaller(op, caller); err != nil {
		return models.Patch{}, err
	}
	target, err := contenthost.CleanPath(req.TargetPath)
	if err != nil {
		return models.Patch{}, err
	}

	current, err := c.fetch(ctx, target)
	if err != nil {
		c.logger.Warn("patch proposal aborted, baseline unreadable", slog.String("path", target), slog.Any("error", err))
		return models.Patch{}, err
	}

	p := models.Patch{
		ID:               uuid.NewString(),
		RunID:            req.RunID,
		TargetPath:       target,
		OldContent:       &current,
		OldContentSHA256: Checksum(current),
		NewContent:       req.NewContent,
		Description:      req.Description,
		Status:           models.PatchProposed,
		CreatedAt:        c.clock.Now(),
	}
	if err := c.repo.InsertPatch(ctx, p); err != nil {
		return models.Patch{}, err
	}
	if err := c.audit(ctx, caller, p, models.AuditPatchProposed, req.Description); err != nil {
		// An unaudited proposal must not be applied later.
		failed := p
		failed.Status = models.PatchFailed
		failed.FailureReason = "audit write failed"
		if _, terr := c.repo.TransitionPatch(ctx, failed, models.PatchProposed); terr != nil {
			c.logger.Error("failed to mark unaudited patch failed", slog.String("patch_id", p.ID), slog.Any("error", terr))
		}
		return failed, err
	}
	metrics.ObservePatchTransition(string(p.Status))
	c.logger.Info("patch proposed", slog.String("patch_id", p.ID), slog.String("path", target), slog.String("actor", caller.ID))
	return p, nil
}

// Apply writes the proposed content to the target while holding the per-path
// lock. The live content must still equal the captured baseline; drift fails
// the patch with ErrConflict.
//
// The applied status is recorded before the write. A write failure moves the
// patch on to failed. If that cannot be recorded the patch stays applied while
// the target still holds the baseline, which a rollback restores safely. The
// host is never changed behind a record that says proposed.
func (c *Controller) Apply(ctx context.Context, caller models.Caller, patchID string) (models.Patch, error) {
	const op = "patches.Apply"
	if err := requireCaller(op, caller); err != nil {
		return models.Patch{}, err
	}
	p, err := c.repo.GetPatch(ctx, patchID)
	if err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchProposed {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", apply requires proposed")
	}

	unlock, err := c.locker.Lock(ctx, p.TargetPath)
	if err != nil {
		return p, err
	}
	defer unlock()

	// The patch may have moved while we waited for the lock.
	if p, err = c.repo.GetPatch(ctx, patchID); err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchProposed {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", apply requires proposed")
	}

	live, err := c.fetch(ctx, p.TargetPath)
	if err != nil {
		return c.failApply(ctx, caller, p, "baseline re-read failed: "+err.Error(), err)
	}
	if p.OldContent == nil || live != *p.OldContent {
		conflict := utils.Conflict(op, "content of "+p.TargetPath+" changed since the patch was proposed")
		return c.failApply(ctx, caller, p, "target drifted from captured baseline", conflict)
	}

	now := c.clock.Now()
	applied := p
	applied.Status = models.PatchApplied
	applied.AppliedAt = &now
	if err := c.transition(ctx, op, applied, models.PatchProposed); err != nil {
		if errors.Is(err, utils.ErrInvalidState) {
			return p, err
		}
		return c.failApply(ctx, caller, p, "could not record apply: "+err.Error(), err)
	}

	if err := c.write(ctx, p.TargetPath, p.NewContent, commitMessage("apply", p)); err != nil {
		return c.revertApply(ctx, caller, applied, "write failed: "+err.Error(), err)
	}
	metrics.ObservePatchTransition(string(applied.Status))
	c.logger.Info("patch applied", slog.String("patch_id", p.ID), slog.String("path", p.TargetPath), slog.String("actor", caller.ID))
	return applied, c.audit(ctx, caller, applied, models.AuditPatchApplied, "")
}

// failApply fails a proposed patch before anything was written.
func (c *Controller) failApply(ctx context.Context, caller models.Caller, p models.Patch, reason string, cause error) (models.Patch, error) {
	failed := p
	failed.Status = models.PatchFailed
	failed.FailureReason = reason
	if err := c.settle(ctx, "patches.Apply", failed, models.PatchProposed); err != nil {
		return p, errors.Join(cause, err)
	}
	metrics.ObservePatchTransition(string(failed.Status))
	c.logger.Warn("patch apply failed", slog.String("patch_id", p.ID), slog.String("path", p.TargetPath), slog.String("reason", reason))
	if err := c.audit(ctx, caller, failed, models.AuditPatchApplyFail, reason); err != nil {
		return failed, errors.Join(cause, err)
	}
	return failed, cause
}

// revertApply fails a patch already recorded as applied whose write did not land.
func (c *Controller) revertApply(ctx context.Context, caller models.Caller, applied models.Patch, reason string, cause error) (models.Patch, error) {
	failed := applied
	failed.Status = models.PatchFailed
	failed.AppliedAt = nil
	failed.FailureReason = reason
	if err := c.settle(ctx, "patches.Apply", failed, models.PatchApplied); err != nil {
		c.logger.Error("patch write failed and could not be marked failed, record left applied",
			slog.String("patch_id", applied.ID), slog.String("path", applied.TargetPath), slog.Any("error", err))
		aerr := c.audit(ctx, caller, applied, models.AuditPatchApplyFail, reason+"; record left applied, target holds baseline")
		return applied, errors.Join(cause, err, aerr)
	}
	metrics.ObservePatchTransition(string(failed.Status))
	c.logger.Warn("patch apply failed", slog.String("patch_id", applied.ID), slog.String("path", applied.TargetPath), slog.String("reason", reason))
	if err := c.audit(ctx, caller, failed, models.AuditPatchApplyFail, reason); err != nil {
		return failed, errors.Join(cause, err)
	}
	return failed, cause
}

// Rollback restores the captured baseline of an applied patch. A stored
// baseline always wins; a caller-supplied fallback is accepted only when the
// stored baseline is absent and the fallback matches its recorded checksum.
// On write failure the patch stays applied.
func (c *Controller) Rollback(ctx context.Context, caller models.Caller, patchID, reason string, fallbackOldContent *string) (models.Patch, error) {
	const op = "patches.Rollback"
	if err := requireCaller(op, caller); err != nil {
		return models.Patch{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return models.Patch{}, utils.Validation(op, "reason is required")
	}
	p, err := c.repo.GetPatch(ctx, patchID)
	if err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchApplied {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", rollback requires applied")
	}
	baseline, err := c.baseline(op, p, fallbackOldContent)
	if err != nil {
		return p, err
	}

	unlock, err := c.locker.Lock(ctx, p.TargetPath)
	if err != nil {
		return p, err
	}
	defer unlock()

	if p, err = c.repo.GetPatch(ctx, patchID); err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchApplied {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", rollback requires applied")
	}

	if err := c.write(ctx, p.TargetPath, baseline, commitMessage("rollback", p)); err != nil {
		c.logger.Error("patch rollback failed, patch stays applied",
			slog.String("patch_id", p.ID), slog.String("path", p.TargetPath), slog.Any("error", err))
		if aerr := c.audit(ctx, caller, p, models.AuditPatchRollbackFail, reason+": "+err.Error()); aerr != nil {
			return p, errors.Join(err, aerr)
		}
		return p, err
	}

	now := c.clock.Now()
	rolled := p
	rolled.Status = models.PatchRolledBack
	rolled.RolledBackAt = &now
	rolled.RolledBackReason = reason
	if err := c.settle(ctx, op, rolled, models.PatchApplied); err != nil {
		// The baseline is back on the host; a repeated rollback rewrites it and records the transition.
		c.logger.Error("patch rolled back on host but not recorded, retry the rollback",
			slog.String("patch_id", p.ID), slog.String("path", p.TargetPath), slog.Any("error", err))
		aerr := c.audit(ctx, caller, p, models.AuditPatchRollbackFail, reason+": baseline restored, record left applied")
		return p, errors.Join(err, aerr)
	}
	metrics.ObservePatchTransition(string(rolled.Status))
	c.logger.Info("patch rolled back", slog.String("patch_id", p.ID), slog.String("path", p.TargetPath),
		slog.String("actor", caller.ID), slog.String("reason", reason))
	return rolled, c.audit(ctx, caller, rolled, models.AuditPatchRolledBack, reason)
}

func (c *Controller) baseline(op string, p models.Patch, fallback *string) (string, error) {
	if p.OldContent != nil {
		if fallback != nil && *fallback != *p.OldContent {
			c.logger.Warn("ignoring caller-supplied rollback content, stored baseline exists", slog.String("patch_id", p.ID))
		}
		return *p.OldContent, nil
	}
	if fallback == nil {
		return "", utils.Validation(op, "patch "+p.ID+" has no stored baseline and no fallback content was supplied")
	}
	if p.OldContentSHA256 == "" {
		return "", utils.Validation(op, "patch "+p.ID+" has no recorded checksum to verify the fallback against")
	}
	if Checksum(*fallback) != p.OldContentSHA256 {
		return "", utils.Validation(op, "fallback content does not match the checksum recorded at proposal")
	}
	return *fallback, nil
}

// Reject abandons a proposed patch without touching the target. Applied
// patches are undone with Rollback instead.
func (c *Controller) Reject(ctx context.Context, caller models.Caller, patchID, reason string) (models.Patch, error) {
	const op = "patches.Reject"
	if err := requireCaller(op, caller); err != nil {
		return models.Patch{}, err
	}
	p, err := c.repo.GetPatch(ctx, patchID)
	if err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchProposed {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", reject requires proposed")
	}

	// An apply in flight holds the path; wait for it and decide on what it left.
	unlock, err := c.locker.Lock(ctx, p.TargetPath)
	if err != nil {
		return p, err
	}
	defer unlock()

	if p, err = c.repo.GetPatch(ctx, patchID); err != nil {
		return models.Patch{}, err
	}
	if p.Status != models.PatchProposed {
		return p, utils.InvalidState(op, "patch "+patchID+" is "+string(p.Status)+", reject requires proposed")
	}

	failed := p
	failed.Status = models.PatchFailed
	failed.FailureReason = "rejected"
	if r := strings.TrimSpace(reason); r != "" {
		failed.FailureReason = "rejected: " + r
	}
	if err := c.transition(ctx, op, failed, models.PatchProposed); err != nil {
		return p, err
	}
	metrics.ObservePatchTransition(string(failed.Status))
	c.logger.Info("patch rejected", slog.String("patch_id", p.ID), slog.String("actor", caller.ID))
	return failed, c.audit(ctx, caller, failed, models.AuditPatchRejected, reason)
}

// Get loads a patch.
func (c *Controller) Get(ctx context.Context, patchID string) (models.Patch, error) {
	return c.repo.GetPatch(ctx, patchID)
}

// ListByRun returns the patches proposed during a run.
func (c *Controller) ListByRun(ctx context.Context, runID string) ([]models.Patch, error) {
	return c.repo.ListPatchesByRun(ctx, runID)
}

func (c *Controller) transition(ctx context.Context, op string, p models.Patch, from models.PatchStatus) error {
	ok, err := c.repo.TransitionPatch(ctx, p, from)
	if err != nil {
		return err
	}
	if !ok {
		return utils.InvalidState(op, "patch "+p.ID+" is no longer "+string(from))
	}
	return nil
}

// settle records a transition that must not be lost to a cancelled caller or a
// transient database error: one retry, detached from ctx's cancellation.
func (c *Controller) settle(ctx context.Context, op string, p models.Patch, from models.PatchStatus) error {
	err := c.transition(ctx, op, p, from)
	if err == nil || errors.Is(err, utils.ErrInvalidState) {
		return err
	}
	c.logger.Warn("retrying patch transition", slog.String("patch_id", p.ID), slog.String("to", string(p.Status)), slog.Any("error", err))
	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if rerr := c.transition(retryCtx, op, p, from); rerr != nil {
		return errors.Join(err, rerr)
	}
	return nil
}

func (c *Controller) audit(ctx context.Context, caller models.Caller, p models.Patch, action, reason string) error {
	ev := models.AuditEvent{
		ID:              eventID(),
		Action:          action,
		PatchID:         p.ID,
		RunID:           p.RunID,
		Actor:           caller.ID,
		Reason:          reason,
		ResultingStatus: p.Status,
		CreatedAt:       c.clock.Now(),
	}
	if err := c.sink.Write(ctx, ev); err != nil {
		c.logger.Error("audit write failed", slog.String("patch_id", p.ID), slog.String("action", action), slog.Any("error", err))
		if errors.Is(err, utils.ErrAudit) {
			return err
		}
		return utils.Wrap("patches.audit", "write audit event", utils.ErrAudit, err)
	}
	return nil
}

func (c *Controller) fetch(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.hostTimeout)
	defer cancel()
	content, err := c.host.Fetch(ctx, path)
	if err != nil {
		if errors.Is(err, utils.ErrFetch) {
			return "", err
		}
		return "", utils.Wrap("patches.fetch", "fetch "+path, utils.ErrFetch, err)
	}
	return content, nil
}

func (c *Controller) write(ctx context.Context, path, content, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.hostTimeout)
	defer cancel()
	if err := c.host.Write(ctx, path, content, message); err != nil {
		if errors.Is(err, utils.ErrWrite) {
			return err
		}
		return utils.Wrap("patches.write", "write "+path, utils.ErrWrite, err)
	}
	return nil
}

// eventID returns a time-ordered id so events stamped in the same millisecond
// still sort in the order they were written.
func eventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func requireCaller(op string, caller models.Caller) error {
	if strings.TrimSpace(caller.ID) == "" {
		return utils.Validation(op, "caller identity is required")
	}
	return nil
}

func commitMessage(verb string, p models.Patch) string {
	msg := "mirador-heal: " + verb + " patch " + p.ID
	if p.Description != "" {
		msg += "\n\n" + p.Description
	}
	return msg
}
