package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/uptime"
)

// HeartbeatContinuityName is the registry name of the heartbeat check.
const HeartbeatContinuityName = "heartbeat-continuity"

// HeartbeatQuerier reads heartbeats.
type HeartbeatQuerier interface {
	Query(ctx context.Context, since time.Time) ([]models.Heartbeat, error)
}

// HeartbeatContinuity reports gaps in the recent heartbeat stream. Gaps have
// no automated fix.
type HeartbeatContinuity struct {
	beats     HeartbeatQuerier
	clock     clock.Clock
	lookback  time.Duration
	interval  time.Duration
	threshold float64
}

// NewHeartbeatContinuity checks the last lookback of heartbeats.
func NewHeartbeatContinuity(beats HeartbeatQuerier, c clock.Clock, lookback, interval time.Duration, thresholdMinutes float64) *HeartbeatContinuity {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &HeartbeatContinuity{beats: beats, clock: clock.OrSystem(c), lookback: lookback, interval: interval, threshold: thresholdMinutes}
}

// Name implements Diagnostic.
func (h *HeartbeatContinuity) Name() string { return HeartbeatContinuityName }

// Run implements Diagnostic.
func (h *HeartbeatContinuity) Run(ctx context.Context) ([]models.Issue, error) {
	now := h.clock.Now()
	beats, err := h.beats.Query(ctx, now.Add(-h.lookback))
	if err != nil {
		return nil, err
	}
	res := uptime.Analyze(beats, uptime.Options{
		Window:              h.lookback,
		Interval:            h.interval,
		GapThresholdMinutes: h.threshold,
		Now:                 now,
	})

	if res.ObservedCount == 0 {
		return []models.Issue{{
			ID:         uuid.NewString(),
			Check:      HeartbeatContinuityName,
			Target:     "heartbeat",
			Summary:    fmt.Sprintf("no heartbeats recorded in the last %s", h.lookback),
			Confidence: 100,
			Severity:   models.SeverityCritical,
		}}, nil
	}
	if len(res.Gaps) == 0 {
		return nil, nil
	}

	worst := res.Gaps[0]
	severity := models.SeverityMedium
	if worst.Minutes >= 15 {
		severity = models.SeverityHigh
	}
	return []models.Issue{{
		ID:     uuid.NewString(),
		Check:  HeartbeatContinuityName,
		Target: "heartbeat",
		Summary: fmt.Sprintf("%d heartbeat gap(s) in the last %s, largest %.1f minutes from %s; uptime %.1f%%",
			len(res.Gaps), h.lookback, worst.Minutes, worst.Start.Format(time.RFC3339), res.UptimePercent),
		Confidence: 100,
		Severity:   severity,
	}}, nil
}
