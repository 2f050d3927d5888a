package models

import "time"

// PatchStatus is the lifecycle state of a Patch.
type PatchStatus string

const (
	PatchProposed   PatchStatus = "proposed"
	PatchApplied    PatchStatus = "applied"
	PatchRolledBack PatchStatus = "rolled_back"
	PatchFailed     PatchStatus = "failed"
)

// Patch is an immutable record of a content change plus its lifecycle metadata.
// OldContent is the baseline captured before apply; it is nil only for records
// imported without one.
type Patch struct {
	ID               string      `json:"id"`
	RunID            string      `json:"runId,omitempty"`
	TargetPath       string      `json:"targetPath"`
	OldContent       *string     `json:"oldContent,omitempty"`
	OldContentSHA256 string      `json:"oldContentSha256,omitempty"`
	NewContent       string      `json:"newContent"`
	Description      string      `json:"description,omitempty"`
	Status           PatchStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	AppliedAt        *time.Time  `json:"appliedAt,omitempty"`
	RolledBackAt     *time.Time  `json:"rolledBackAt,omitempty"`
	RolledBackReason string      `json:"rolledBackReason,omitempty"`
	FailureReason    string      `json:"failureReason,omitempty"`
}
