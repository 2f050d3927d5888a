package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "heal.db"), Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x", Options{})
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heal.db")
	s, err := Open(DriverSQLite, path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.InsertHeartbeat(context.Background(), models.Heartbeat{ID: "h1", Source: "test", Timestamp: base}))
	require.NoError(t, s.Close())

	s, err = Open(DriverSQLite, path, Options{})
	require.NoError(t, err)
	defer s.Close()
	beats, err := s.ListHeartbeatsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, beats, 1)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSchemaStatementsSkipsComments(t *testing.T) {
	stmts := schemaStatements("-- header; with semicolon\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
}

func TestHeartbeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestHeartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, m := range []int{5, 0, 2} {
		hb := models.Heartbeat{ID: string(rune('a' + i)), Source: "emitter", Timestamp: base.Add(time.Duration(m) * time.Minute)}
		require.NoError(t, s.InsertHeartbeat(ctx, hb))
	}

	beats, err := s.ListHeartbeatsSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, beats, 2)
	assert.True(t, beats[0].Timestamp.Before(beats[1].Timestamp))

	latest, ok, err := s.LatestHeartbeat(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.Add(5*time.Minute), latest.Timestamp)
}

func TestRunsSingleRunningPerJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, models.Run{ID: "r1", JobName: "nightly-scan", Status: models.RunRunning, StartedAt: base}))
	err := s.InsertRun(ctx, models.Run{ID: "r2", JobName: "nightly-scan", Status: models.RunRunning, StartedAt: base})
	require.ErrorIs(t, err, utils.ErrConflict)

	// Other jobs are independent.
	require.NoError(t, s.InsertRun(ctx, models.Run{ID: "r3", JobName: "other", Status: models.RunRunning, StartedAt: base}))

	closed, err := s.CloseRun(ctx, "r1", models.RunSuccess, 1500, models.RunCounts{IssuesDetected: 2, FixesApplied: 1})
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = s.CloseRun(ctx, "r1", models.RunFailed, 9, models.RunCounts{})
	require.NoError(t, err)
	assert.False(t, closed)

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	require.NotNil(t, run.DurationMs)
	assert.EqualValues(t, 1500, *run.DurationMs)
	assert.Equal(t, 2, run.IssuesDetected)

	require.NoError(t, s.InsertRun(ctx, models.Run{ID: "r4", JobName: "nightly-scan", Status: models.RunRunning, StartedAt: base.Add(time.Hour)}))

	running, err := s.ListRunningRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	recent, err := s.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r4", recent[0].ID)

	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestConcurrentRunInsertOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertRun(ctx, models.Run{ID: string(rune('a' + i)), JobName: "job", Status: models.RunRunning, StartedAt: base})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, utils.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRun(ctx, models.Run{ID: "r1", JobName: "job", Status: models.RunRunning, StartedAt: base}))

	err := s.InsertAction(ctx, models.Action{ID: "x", RunID: "nope", ActionType: "patch_apply", Target: "a", Status: models.ActionPending, CreatedAt: base})
	require.ErrorIs(t, err, utils.ErrNotFound)

	actions := []models.Action{
		{ID: "a1", RunID: "r1", ActionType: models.ActionTypePatchApply, Target: "x.ts", Status: models.ActionPending, CreatedAt: base},
		{ID: "a2", RunID: "r1", ActionType: models.ActionTypeEscalate, Target: "y.ts", Status: models.ActionPending, CreatedAt: base.Add(time.Second)},
		{ID: "a3", RunID: "r1", ActionType: models.ActionTypePatchHold, Target: "z.ts", Status: models.ActionPending, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, a := range actions {
		require.NoError(t, s.InsertAction(ctx, a))
	}

	ok, err := s.FinishAction(ctx, "a1", models.ActionApplied, "patched", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.FinishAction(ctx, "a1", models.ActionFailed, "again", base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.FinishAction(ctx, "a2", models.ActionApplied, "alerted", base)
	require.NoError(t, err)
	_, err = s.FinishAction(ctx, "a3", models.ActionSkipped, "held", base)
	require.NoError(t, err)

	a1, err := s.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionApplied, a1.Status)
	assert.Equal(t, "patched", a1.Detail)
	require.NotNil(t, a1.FinishedAt)

	byRun, err := s.ListActionsByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, byRun, 3)
	assert.Equal(t, "a3", byRun[0].ID)

	stats, err := s.ActionCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Escalated)
}

func TestActionCountsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.ActionCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HistoryStats{}, stats)
}

func TestPatchTransitionCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := "A"
	p := models.Patch{ID: "p1", TargetPath: "x.ts", OldContent: &old, OldContentSHA256: "sum", NewContent: "B", Status: models.PatchProposed, CreatedAt: base}
	require.NoError(t, s.InsertPatch(ctx, p))
	require.ErrorIs(t, s.InsertPatch(ctx, p), utils.ErrConflict)

	applied := base.Add(time.Minute)
	p.Status = models.PatchApplied
	p.AppliedAt = &applied
	ok, err := s.TransitionPatch(ctx, p, models.PatchProposed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPatch(ctx, p, models.PatchProposed)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPatch(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PatchApplied, got.Status)
	require.NotNil(t, got.OldContent)
	assert.Equal(t, "A", *got.OldContent)
	require.NotNil(t, got.AppliedAt)
	assert.Equal(t, applied, *got.AppliedAt)
	assert.Nil(t, got.RolledBackAt)
}

func TestPatchWithoutBaseline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertPatch(ctx, models.Patch{ID: "p1", RunID: "r1", TargetPath: "x", NewContent: "B", Status: models.PatchApplied, CreatedAt: base}))

	got, err := s.GetPatch(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got.OldContent)

	list, err := s.ListPatchesByRun(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertAlert(ctx, models.Alert{ID: "a1", Severity: models.SeverityHigh, Message: "one", CreatedAt: base}))
	require.NoError(t, s.InsertAlert(ctx, models.Alert{ID: "a2", Severity: models.SeverityLow, Message: "two", RunID: "r1", CreatedAt: base.Add(time.Minute)}))

	ok, err := s.AcknowledgeAlert(ctx, "a1", "ops", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcknowledgeAlert(ctx, "a1", "someone-else", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	a1, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a1.Acknowledged)
	assert.Equal(t, "ops", a1.AcknowledgedBy)

	all, err := s.ListAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID)

	open := false
	unacked, err := s.ListAlerts(ctx, models.AlertFilter{Acknowledged: &open})
	require.NoError(t, err)
	require.Len(t, unacked, 1)
	assert.Equal(t, "a2", unacked[0].ID)

	limited, err := s.ListAlerts(ctx, models.AlertFilter{Limit: 1, Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := models.Job{Name: "nightly-scan", Schedule: "@daily", Enabled: true, ExpectedDuration: 10 * time.Minute, Diagnostics: []string{"content-rules", "system-resources"}}
	require.NoError(t, s.UpsertJob(ctx, job))
	require.NoError(t, s.UpsertJob(ctx, models.Job{Name: "paused", Enabled: false}))

	require.NoError(t, s.TouchJobLastRun(ctx, "nightly-scan", base))
	job.Schedule = "@hourly"
	require.NoError(t, s.UpsertJob(ctx, job))

	got, err := s.GetJob(ctx, "nightly-scan")
	require.NoError(t, err)
	assert.Equal(t, "@hourly", got.Schedule)
	assert.Equal(t, []string{"content-rules", "system-resources"}, got.Diagnostics)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, base, *got.LastRunAt)

	enabled, err := s.ListJobs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
	all, err := s.ListJobs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestAuditEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertAuditEvent(ctx, models.AuditEvent{ID: "e2", Action: models.AuditPatchApplied, PatchID: "p1", Actor: "ops", ResultingStatus: models.PatchApplied, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.InsertAuditEvent(ctx, models.AuditEvent{ID: "e1", Action: models.AuditPatchProposed, PatchID: "p1", Actor: "ops", ResultingStatus: models.PatchProposed, CreatedAt: base}))

	events, err := s.ListAuditEvents(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditPatchProposed, events[0].Action)

	err = s.InsertAuditEvent(ctx, models.AuditEvent{ID: "e1", PatchID: "p1", CreatedAt: base})
	require.ErrorIs(t, err, utils.ErrAudit)
}

func TestIncrementWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementWindow(ctx, "trigger:job", base)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := s.IncrementWindow(ctx, "trigger:job", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = s.IncrementWindow(ctx, "trigger:other", base)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
