package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-heal/internal/alerts"
	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

type fixture struct {
	store   *store.Store
	clock   *clock.Fake
	tracker *Tracker
	alerts  *alerts.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "runs.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	c := clock.NewFake(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	return fixture{store: s, clock: c, tracker: NewTracker(s, c, nil), alerts: alerts.NewStore(s, c, nil)}
}

func TestOverlappingOpenIsRejectedUntilClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.tracker.Open(ctx, "nightly-scan")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, first.Status)
	assert.Nil(t, first.DurationMs)

	_, err = f.tracker.Open(ctx, "nightly-scan")
	require.ErrorIs(t, err, utils.ErrConflict)

	_, err = f.tracker.Close(ctx, first.ID, models.RunSuccess, models.RunCounts{})
	require.NoError(t, err)

	second, err := f.tracker.Open(ctx, "nightly-scan")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertJob(ctx, models.Job{Name: "nightly-scan", Enabled: true}))

	run, err := f.tracker.Open(ctx, "nightly-scan")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	first, err := f.tracker.Close(ctx, run.ID, models.RunPartial, models.RunCounts{IssuesDetected: 3, FixesApplied: 1})
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, first.Status)
	require.NotNil(t, first.DurationMs)
	assert.EqualValues(t, 90000, *first.DurationMs)

	f.clock.Advance(time.Hour)
	second, err := f.tracker.Close(ctx, run.ID, models.RunFailed, models.RunCounts{IssuesDetected: 9})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	job, err := f.store.GetJob(ctx, "nightly-scan")
	require.NoError(t, err)
	require.NotNil(t, job.LastRunAt)
	assert.Equal(t, run.StartedAt.Add(90*time.Second), *job.LastRunAt)
}

func TestCloseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Open(ctx, " ")
	require.ErrorIs(t, err, utils.ErrValidation)

	run, err := f.tracker.Open(ctx, "job")
	require.NoError(t, err)
	_, err = f.tracker.Close(ctx, run.ID, models.RunRunning, models.RunCounts{})
	require.ErrorIs(t, err, utils.ErrValidation)
	_, err = f.tracker.Close(ctx, run.ID, models.RunSuccess, models.RunCounts{FixesApplied: -1})
	require.ErrorIs(t, err, utils.ErrValidation)
	_, err = f.tracker.Close(ctx, "missing", models.RunSuccess, models.RunCounts{})
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestListRecent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, job := range []string{"a", "b", "c"} {
		_, err := f.tracker.Open(ctx, job)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, err := f.tracker.ListRecent(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].JobName)

	_, err = f.tracker.ListRecent(ctx, 0, 0)
	require.ErrorIs(t, err, utils.ErrValidation)
}

func TestJanitorClosesStaleRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertJob(ctx, models.Job{Name: "quick", Enabled: true, ExpectedDuration: 5 * time.Minute}))

	quick, err := f.tracker.Open(ctx, "quick")
	require.NoError(t, err)
	untracked, err := f.tracker.Open(ctx, "unknown-job")
	require.NoError(t, err)

	j := NewJanitor(f.store, f.tracker, f.alerts, f.clock, time.Hour, time.Minute, nil)

	f.clock.Advance(9 * time.Minute)
	closed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)

	f.clock.Advance(2 * time.Minute)
	closed, err = j.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, quick.ID, closed[0].ID)
	assert.Equal(t, models.RunFailed, closed[0].Status)
	assert.Contains(t, closed[0].Error, "abandoned")

	raised, err := f.alerts.List(ctx, models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, models.SeverityHigh, raised[0].Severity)
	assert.Equal(t, quick.ID, raised[0].RunID)

	f.clock.Advance(time.Hour)
	closed, err = j.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, untracked.ID, closed[0].ID)

	// The job can run again once the stale run is gone.
	_, err = f.tracker.Open(ctx, "quick")
	require.NoError(t, err)
}
