package models

import "time"

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionApplied ActionStatus = "applied"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// Terminal reports whether the status ends an action.
func (s ActionStatus) Terminal() bool {
	return s == ActionApplied || s == ActionFailed || s == ActionSkipped
}

// Action types recorded by the engine.
const (
	ActionTypePatchApply = "patch_apply"
	ActionTypePatchHold  = "patch_hold"
	ActionTypeEscalate   = "escalate"
)

// Action is one remediation step taken within a Run.
type Action struct {
	ID         string       `json:"id"`
	RunID      string       `json:"runId"`
	ActionType string       `json:"actionType"`
	Target     string       `json:"target"`
	Status     ActionStatus `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

// HistoryStats aggregates action outcomes for the history endpoint.
type HistoryStats struct {
	Total       int     `json:"total"`
	Attempted   int     `json:"attempted"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Escalated   int     `json:"escalated"`
	SuccessRate float64 `json:"successRate"`
}
