package models

import "time"

// Report health states.
const (
	StatusHealthy        = "HEALTHY"
	StatusNeedsAttention = "NEEDS_ATTENTION"
)

// Report is the uptime-evidence document produced by the proof report generator.
type Report struct {
	Metadata       ReportMetadata `json:"metadata"`
	Summary        ReportSummary  `json:"summary"`
	HeartbeatProof HeartbeatProof `json:"heartbeatProof"`
	RunsByStatus   map[string]int `json:"runsByStatus"`
	RecentRuns     []Run          `json:"recentRuns"`
	RecentActions  []Action       `json:"recentActions"`
	Alerts         AlertSummary   `json:"alerts"`
	ActiveJobs     []Job          `json:"activeJobs"`
	Verification   Verification   `json:"verification"`
}

// ReportMetadata describes how and over which window a report was built.
type ReportMetadata struct {
	GeneratedAt     time.Time `json:"generatedAt"`
	WindowDays      int       `json:"windowDays"`
	WindowStart     time.Time `json:"windowStart"`
	WindowEnd       time.Time `json:"windowEnd"`
	DegradedSources []string  `json:"degradedSources"`
}

// ReportSummary is the headline section of a report.
type ReportSummary struct {
	Status         string  `json:"status"`
	UptimePercent  float64 `json:"uptimePercent"`
	TotalRuns      int     `json:"totalRuns"`
	IssuesDetected int     `json:"issuesDetected"`
	FixesApplied   int     `json:"fixesApplied"`
	GapCount       int     `json:"gapCount"`
	OpenAlerts     int     `json:"openAlerts"`
}

// HeartbeatProof carries the continuity evidence.
type HeartbeatProof struct {
	TotalHeartbeats    int        `json:"totalHeartbeats"`
	ExpectedHeartbeats int        `json:"expectedHeartbeats"`
	UptimePercent      float64    `json:"uptimePercent"`
	GapCount           int        `json:"gapCount"`
	Gaps               []Gap      `json:"gaps"`
	LatestHeartbeat    *time.Time `json:"latestHeartbeat,omitempty"`
}

// AlertSummary counts alerts raised in the window.
type AlertSummary struct {
	Total          int     `json:"total"`
	Unacknowledged int     `json:"unacknowledged"`
	Recent         []Alert `json:"recent"`
}

// Verification restates the health predicate for machine consumers.
type Verification struct {
	HeartbeatsContinuous bool `json:"heartbeatsContinuous"`
	NoFailedRuns         bool `json:"noFailedRuns"`
	SourcesComplete      bool `json:"sourcesComplete"`
	HeartbeatsPresent    bool `json:"heartbeatsPresent"`
	Healthy              bool `json:"healthy"`
}
