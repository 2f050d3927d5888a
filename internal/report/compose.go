package report

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/uptime"
)

type composeInput struct {
	now         time.Time
	windowStart time.Time
	days        int
	degraded    []string
	beats       []models.Heartbeat
	runs        []models.Run
	actions     []models.Action
	alerts      []models.Alert
	jobs        []models.Job
	analysis    uptime.Options
}

func compose(in composeInput) models.Report {
	degraded := append([]string{}, in.degraded...)
	sort.Strings(degraded)
	loaded := func(source string) bool {
		for _, d := range degraded {
			if d == source {
				return false
			}
		}
		return true
	}

	res := uptime.Analyze(in.beats, in.analysis)

	byStatus := map[string]int{}
	var issues, fixes int
	noFailed := true
	for _, r := range in.runs {
		byStatus[string(r.Status)]++
		issues += r.IssuesDetected
		fixes += r.FixesApplied
		if r.Status == models.RunFailed {
			noFailed = false
		}
	}

	runs := append([]models.Run{}, in.runs...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	acts := append([]models.Action{}, in.actions...)
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].CreatedAt.After(acts[j].CreatedAt) })
	alerts := append([]models.Alert{}, in.alerts...)
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })

	unacked := 0
	for _, a := range alerts {
		if !a.Acknowledged {
			unacked++
		}
	}

	jobs := in.jobs
	if jobs == nil {
		jobs = []models.Job{}
	}

	v := models.Verification{
		HeartbeatsContinuous: len(res.Gaps) == 0,
		NoFailedRuns:         noFailed,
		SourcesComplete:      loaded(SourceHeartbeats) && loaded(SourceRuns),
		HeartbeatsPresent:    res.ObservedCount > 0,
	}
	v.Healthy = v.HeartbeatsContinuous && v.NoFailedRuns && v.SourcesComplete
	status := models.StatusNeedsAttention
	if v.Healthy {
		status = models.StatusHealthy
	}

	return models.Report{
		Metadata: models.ReportMetadata{
			GeneratedAt:     in.now,
			WindowDays:      in.days,
			WindowStart:     in.windowStart,
			WindowEnd:       in.now,
			DegradedSources: degraded,
		},
		Summary: models.ReportSummary{
			Status:         status,
			UptimePercent:  res.UptimePercent,
			TotalRuns:      len(in.runs),
			IssuesDetected: issues,
			FixesApplied:   fixes,
			GapCount:       len(res.Gaps),
			OpenAlerts:     unacked,
		},
		HeartbeatProof: models.HeartbeatProof{
			TotalHeartbeats:    res.ObservedCount,
			ExpectedHeartbeats: res.ExpectedBeats,
			UptimePercent:      res.UptimePercent,
			GapCount:           len(res.Gaps),
			Gaps:               uptime.TopGaps(res.Gaps, topGaps),
			LatestHeartbeat:    res.Latest,
		},
		RunsByStatus:  byStatus,
		RecentRuns:    head(runs, recentEntries),
		RecentActions: head(acts, recentEntries),
		Alerts: models.AlertSummary{
			Total:          len(alerts),
			Unacknowledged: unacked,
			Recent:         head(alerts, recentEntries),
		},
		ActiveJobs:   jobs,
		Verification: v,
	}
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
