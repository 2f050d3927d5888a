package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/alerts"
	"github.com/miradorstack/mirador-heal/internal/audit"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/contenthost"
	"github.com/miradorstack/mirador-heal/internal/diagnostics"
	"github.com/miradorstack/mirador-heal/internal/escalation"
	"github.com/miradorstack/mirador-heal/internal/lock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/patches"
	"github.com/miradorstack/mirador-heal/internal/runs"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const job = "nightly-scan"

type staticCheck struct {
	issues []models.Issue
	err    error
}

func (staticCheck) Name() string { return "static" }

func (c staticCheck) Run(context.Context) ([]models.Issue, error) {
	return c.issues, c.err
}

type harness struct {
	engine  *Engine
	store   *store.Store
	host    *contenthost.MemoryHost
	tracker *runs.Tracker
}

func newHarness(t *testing.T, check staticCheck, reviewPaths ...string) harness {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "engine.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertJob(ctx, models.Job{Name: job, Enabled: true, Diagnostics: []string{"static"}}))
	require.NoError(t, s.UpsertJob(ctx, models.Job{Name: "paused", Enabled: false, Diagnostics: []string{"static"}}))

	c := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	host := contenthost.NewMemoryHost(map[string]string{"x.ts": "A", "y.ts": "C", "schema.sql": "S"})
	ctrl, err := patches.NewController(patches.Config{
		Repo:   s,
		Host:   host,
		Sink:   audit.NewStoreSink(s),
		Locker: lock.NewCacheLocker(cache.NewMemoryProvider(), time.Minute, time.Second, lock.WithPollInterval(time.Millisecond)),
		Clock:  c,
	})
	require.NoError(t, err)

	tracker := runs.NewTracker(s, c, nil)
	e, err := New(Config{
		Jobs:        s,
		Runs:        tracker,
		Actions:     actions.NewLog(s, c),
		Patches:     ctrl,
		Alerts:      alerts.NewStore(s, c, nil),
		Diagnostics: diagnostics.NewRegistry(check),
		Policy:      escalation.NewPolicy(70, reviewPaths),
		RunTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return harness{engine: e, store: s, host: host, tracker: tracker}
}

func issue(confidence float64, path, content string) models.Issue {
	return models.Issue{
		ID:         path,
		Check:      "static",
		Target:     path,
		Summary:    "drift in " + path,
		Confidence: confidence,
		Fix:        &models.Fix{TargetPath: path, NewContent: content},
	}
}

func actionsOfType(list []models.Action, actionType string) []models.Action {
	var out []models.Action
	for _, a := range list {
		if a.ActionType == actionType {
			out = append(out, a)
		}
	}
	return out
}

func TestConfidentIssuePatchesAndWeakIssueAlerts(t *testing.T) {
	h := newHarness(t, staticCheck{issues: []models.Issue{
		issue(85, "x.ts", "B"),
		issue(40, "y.ts", "D"),
	}})
	ctx := context.Background()

	run, err := h.engine.RunSync(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, 2, run.IssuesDetected)
	assert.Equal(t, 1, run.FixesApplied)

	acts, err := h.store.ListActionsByRun(ctx, run.ID)
	require.NoError(t, err)
	applied := actionsOfType(acts, models.ActionTypePatchApply)
	require.Len(t, applied, 1)
	assert.Equal(t, "x.ts", applied[0].Target)
	assert.Equal(t, models.ActionApplied, applied[0].Status)
	escalated := actionsOfType(acts, models.ActionTypeEscalate)
	require.Len(t, escalated, 1)
	assert.Equal(t, "y.ts", escalated[0].Target)

	ps, err := h.store.ListPatchesByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, models.PatchApplied, ps[0].Status)

	x, _ := h.host.Content("x.ts")
	y, _ := h.host.Content("y.ts")
	assert.Equal(t, "B", x)
	assert.Equal(t, "C", y)

	list, err := h.store.ListAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SeverityHigh, list[0].Severity)
	assert.Equal(t, run.ID, list[0].RunID)
}

func TestAllFixesAppliedIsSuccess(t *testing.T) {
	h := newHarness(t, staticCheck{issues: []models.Issue{issue(90, "x.ts", "B"), issue(75, "y.ts", "D")}})

	run, err := h.engine.RunSync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, 2, run.FixesApplied)
	require.NotNil(t, run.DurationMs)
}

func TestNoIssuesIsSuccess(t *testing.T) {
	h := newHarness(t, staticCheck{})
	run, err := h.engine.RunSync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Zero(t, run.IssuesDetected)
}

func TestDiagnosticErrorFailsRun(t *testing.T) {
	h := newHarness(t, staticCheck{err: errors.New("probe exploded")})
	run, err := h.engine.RunSync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.Error, "probe exploded")
}

func TestFailedFixFailsRun(t *testing.T) {
	h := newHarness(t, staticCheck{issues: []models.Issue{issue(90, "x.ts", "B")}})
	h.host.FailWrites(errors.New("host unavailable"))
	ctx := context.Background()

	run, err := h.engine.RunSync(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Zero(t, run.FixesApplied)

	acts, err := h.store.ListActionsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionFailed, acts[0].Status)

	ps, err := h.store.ListPatchesByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, models.PatchFailed, ps[0].Status)
}

func TestReviewPathIsProposedOnly(t *testing.T) {
	h := newHarness(t, staticCheck{issues: []models.Issue{issue(95, "schema.sql", "DROP")}}, "*.sql")
	ctx := context.Background()

	run, err := h.engine.RunSync(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, run.Status)

	acts, err := h.store.ListActionsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionTypePatchHold, acts[0].ActionType)
	assert.Equal(t, models.ActionSkipped, acts[0].Status)

	ps, err := h.store.ListPatchesByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, models.PatchProposed, ps[0].Status)
	content, _ := h.host.Content("schema.sql")
	assert.Equal(t, "S", content)
}

func TestTriggerValidatesJob(t *testing.T) {
	h := newHarness(t, staticCheck{})
	ctx := context.Background()

	_, err := h.engine.Trigger(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = h.engine.Trigger(ctx, "paused")
	assert.ErrorIs(t, err, utils.ErrConflict)

	_, err = h.engine.Trigger(ctx, " ")
	assert.ErrorIs(t, err, utils.ErrValidation)

	open, err := h.tracker.Open(ctx, job)
	require.NoError(t, err)
	_, err = h.engine.Trigger(ctx, job)
	assert.ErrorIs(t, err, utils.ErrConflict)
	_, err = h.tracker.Close(ctx, open.ID, models.RunSuccess, models.RunCounts{})
	require.NoError(t, err)
}

func TestTriggerExecutesInBackground(t *testing.T) {
	h := newHarness(t, staticCheck{issues: []models.Issue{issue(90, "x.ts", "B")}})
	reqCtx, cancel := context.WithCancel(context.Background())

	run, err := h.engine.Trigger(reqCtx, job)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)
	cancel()

	h.engine.Wait()
	closed, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, closed.Status)

	got, err := h.store.GetJob(context.Background(), job)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
}

func TestRunStatus(t *testing.T) {
	cases := []struct {
		name string
		out  outcome
		want models.RunStatus
	}{
		{"clean", outcome{}, models.RunSuccess},
		{"all fixed", outcome{issues: 2, fixAttempts: 2, fixesApplied: 2}, models.RunSuccess},
		{"some fixed", outcome{issues: 2, fixAttempts: 2, fixesApplied: 1, notFixed: 1}, models.RunPartial},
		{"escalated only", outcome{issues: 1, notFixed: 1}, models.RunPartial},
		{"all fixes failed", outcome{issues: 1, fixAttempts: 1, notFixed: 1}, models.RunFailed},
		{"diagnostic failed", outcome{diagFailed: true}, models.RunFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, runStatus(tc.out))
		})
	}
}
