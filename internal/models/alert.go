package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alert is an operator-facing notification.
type Alert struct {
	ID             string     `json:"id"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	RunID          string     `json:"runId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
}

// AlertFilter narrows alert listings. A nil Acknowledged matches both states.
type AlertFilter struct {
	Acknowledged *bool
	Since        time.Time
	Limit        int
}
