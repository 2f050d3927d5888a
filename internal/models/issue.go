package models

// Issue is a problem reported by a diagnostic check.
type Issue struct {
	ID         string   `json:"id"`
	Check      string   `json:"check"`
	Target     string   `json:"target"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity,omitempty"`
	Fix        *Fix     `json:"fix,omitempty"`
}

// Fix is the replacement content a diagnostic proposes for an issue target.
type Fix struct {
	TargetPath  string `json:"targetPath"`
	NewContent  string `json:"newContent"`
	Description string `json:"description"`
}

// Outcome is the escalation decision for one issue.
type Outcome string

const (
	OutcomeAutoFix  Outcome = "auto_fix"
	OutcomeHold     Outcome = "hold"
	OutcomeEscalate Outcome = "escalate"
)

// Decision pairs an issue with the policy outcome.
type Decision struct {
	Issue    Issue    `json:"issue"`
	Outcome  Outcome  `json:"outcome"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}
