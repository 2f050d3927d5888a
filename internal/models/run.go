package models

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunPartial RunStatus = "partial"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunPartial
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunRunning || s.Terminal()
}

// Run records one execution of a scheduled diagnostic/remediation job.
// DurationMs is set iff Status is terminal.
type Run struct {
	ID             string    `json:"id"`
	JobName        string    `json:"jobName"`
	Status         RunStatus `json:"status"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMs     *int64    `json:"durationMs,omitempty"`
	IssuesDetected int       `json:"issuesDetectedCount"`
	FixesApplied   int       `json:"fixesAppliedCount"`
	Error          string    `json:"error,omitempty"`
}

// RunCounts carries the tallies reported when a run closes.
type RunCounts struct {
	IssuesDetected int
	FixesApplied   int
	Error          string
}

// Job is the configuration entity describing a scheduled job.
type Job struct {
	Name             string        `json:"name" yaml:"name" validate:"required"`
	Schedule         string        `json:"schedule" yaml:"schedule"`
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	ExpectedDuration time.Duration `json:"expectedDuration" yaml:"expectedDuration"`
	Diagnostics      []string      `json:"diagnostics,omitempty" yaml:"diagnostics"`
	LastRunAt        *time.Time    `json:"lastRunAt,omitempty" yaml:"-"`
}
