// Package uptime computes heartbeat continuity. Everything here is pure.
package uptime

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const (
	DefaultInterval            = time.Minute
	DefaultGapThresholdMinutes = 2.0
)

// Options controls an analysis.
type Options struct {
	// Window is the lookback covered by the analysis.
	Window time.Duration
	// Interval is the expected heartbeat cadence. Zero means one minute.
	Interval time.Duration
	// GapThresholdMinutes is the strict lower bound for a gap. Zero means 2.
	GapThresholdMinutes float64
	// Now closes the window. When zero the latest heartbeat closes it and no
	// heartbeat is excluded.
	Now time.Time
}

// Analysis is the continuity evidence for a window.
type Analysis struct {
	Gaps          []models.Gap
	ObservedCount int
	ExpectedBeats int
	UptimePercent float64
	Latest        *time.Time
}

// Analyze finds gaps between consecutive heartbeats and the uptime ratio.
// Input order does not matter. Duplicate timestamps never form a pair, but
// every heartbeat counts towards the observed total.
func Analyze(beats []models.Heartbeat, opts Options) Analysis {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.GapThresholdMinutes <= 0 {
		opts.GapThresholdMinutes = DefaultGapThresholdMinutes
	}

	stamps := make([]time.Time, 0, len(beats))
	for _, hb := range beats {
		if !opts.Now.IsZero() {
			if hb.Timestamp.After(opts.Now) || (opts.Window > 0 && hb.Timestamp.Before(opts.Now.Add(-opts.Window))) {
				continue
			}
		}
		stamps = append(stamps, hb.Timestamp)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].After(stamps[j]) })

	res := Analysis{
		Gaps:          []models.Gap{},
		ObservedCount: len(stamps),
		ExpectedBeats: int(opts.Window / opts.Interval),
	}
	if len(stamps) > 0 {
		latest := stamps[0]
		res.Latest = &latest
	}

	distinct := dedupe(stamps)
	for i := 0; i+1 < len(distinct); i++ {
		newer, older := distinct[i], distinct[i+1]
		delta := utils.DurationMinutes(older, newer)
		if delta > opts.GapThresholdMinutes {
			res.Gaps = append(res.Gaps, models.Gap{Start: older, End: newer, Minutes: utils.RoundTo(delta, 1)})
		}
	}
	sort.SliceStable(res.Gaps, func(i, j int) bool { return res.Gaps[i].Minutes > res.Gaps[j].Minutes })

	res.UptimePercent = UptimePercent(res.ObservedCount, res.ExpectedBeats)
	return res
}

// UptimePercent returns observed/expected as a percentage with one decimal,
// capped at 100. A non-positive expectation yields 0.
func UptimePercent(observed, expected int) float64 {
	if expected <= 0 || observed <= 0 {
		return 0
	}
	pct := utils.RoundTo(float64(observed)/float64(expected)*1000, 0) / 10
	if pct > 100 {
		return 100
	}
	return pct
}

// TopGaps returns at most n gaps, largest first.
func TopGaps(gaps []models.Gap, n int) []models.Gap {
	if len(gaps) <= n {
		return gaps
	}
	return gaps[:n]
}

// dedupe drops equal neighbours from a sorted slice.
func dedupe(sorted []time.Time) []time.Time {
	out := make([]time.Time, 0, len(sorted))
	for i, ts := range sorted {
		if i > 0 && ts.Equal(sorted[i-1]) {
			continue
		}
		out = append(out, ts)
	}
	return out
}
