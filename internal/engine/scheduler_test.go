package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func TestParseSchedule(t *testing.T) {
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"@every 5m":    from.Add(5 * time.Minute),
		"@every 90s":   from.Add(90 * time.Second),
		"@hourly":      from.Add(time.Hour),
		"@daily":       time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		"@weekly":      time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
		"0 3 * * *":    time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC),
		"*/15 * * * *": from.Add(15 * time.Minute),
	}
	for in, want := range cases {
		sched, err := ParseSchedule(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, sched.Next(from), in)
	}
	for _, in := range []string{"", "   ", "@every", "61 * * * *", "not a schedule", "@fortnightly"} {
		_, err := ParseSchedule(in)
		assert.ErrorIs(t, err, utils.ErrValidation, in)
	}
}

type fakeJobs struct {
	jobs []models.Job
}

func (f *fakeJobs) GetJob(_ context.Context, name string) (models.Job, error) {
	for _, j := range f.jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return models.Job{}, utils.NotFound("fakeJobs.GetJob", "job "+name)
}

func (f *fakeJobs) ListJobs(context.Context, bool) ([]models.Job, error) {
	return f.jobs, nil
}

type recordingTriggerer struct {
	triggered []string
	err       error
}

func (r *recordingTriggerer) Trigger(_ context.Context, name string) (models.Run, error) {
	r.triggered = append(r.triggered, name)
	if r.err != nil {
		return models.Run{}, r.err
	}
	return models.Run{ID: "run-" + name, JobName: name, Status: models.RunRunning}, nil
}

func TestSchedulerTriggersDueJobs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Minute)
	old := now.Add(-2 * time.Hour)
	earlyToday := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{jobs: []models.Job{
		{Name: "never-ran", Schedule: "@every 5m", Enabled: true},
		{Name: "fresh", Schedule: "@every 5m", Enabled: true, LastRunAt: &recent},
		{Name: "stale", Schedule: "@hourly", Enabled: true, LastRunAt: &old},
		{Name: "cron", Schedule: "0 3 * * *", Enabled: true, LastRunAt: &earlyToday},
		{Name: "manual", Enabled: true},
		{Name: "broken", Schedule: "every now and then", Enabled: true},
	}}
	trig := &recordingTriggerer{}
	c := clock.NewFake(now)
	s := NewScheduler(trig, jobs, c, time.Second, nil)

	started := s.Tick(context.Background())
	assert.Len(t, started, 2)
	assert.ElementsMatch(t, []string{"never-ran", "stale"}, trig.triggered)

	c.Advance(time.Minute)
	s.Tick(context.Background())
	assert.Len(t, trig.triggered, 2, "jobs already attempted within their interval are not re-triggered")

	c.Advance(5 * time.Minute)
	s.Tick(context.Background())
	assert.ElementsMatch(t, []string{"never-ran", "stale", "never-ran", "fresh"}, trig.triggered)
}

func TestSchedulerToleratesConflict(t *testing.T) {
	jobs := &fakeJobs{jobs: []models.Job{{Name: "busy", Schedule: "@every 1m", Enabled: true}}}
	trig := &recordingTriggerer{err: utils.Conflict("runs.Open", "job busy already has a running run")}
	s := NewScheduler(trig, jobs, clock.NewFake(time.Now()), time.Second, nil)

	assert.Empty(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"busy"}, trig.triggered)
}

func TestSchedulerFollowsCronExpression(t *testing.T) {
	lastRun := time.Date(2025, 5, 31, 3, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{jobs: []models.Job{{Name: "nightly", Schedule: "0 3 * * *", Enabled: true, LastRunAt: &lastRun}}}
	trig := &recordingTriggerer{}
	c := clock.NewFake(time.Date(2025, 6, 1, 2, 59, 0, 0, time.UTC))
	s := NewScheduler(trig, jobs, c, time.Second, nil)

	assert.Empty(t, s.Tick(context.Background()), "03:00 has not come round yet")

	c.Advance(time.Minute)
	require.Len(t, s.Tick(context.Background()), 1)

	c.Advance(12 * time.Hour)
	s.Tick(context.Background())
	assert.Equal(t, []string{"nightly"}, trig.triggered, "one firing per occurrence")

	c.Advance(12 * time.Hour)
	s.Tick(context.Background())
	assert.Equal(t, []string{"nightly", "nightly"}, trig.triggered)
}
