package models

import "time"

// Audit actions emitted by the patch lifecycle.
const (
	AuditPatchProposed     = "patch.propose"
	AuditPatchApplied      = "patch.apply"
	AuditPatchApplyFail    = "patch.apply_failed"
	AuditPatchRolledBack   = "patch.rollback"
	AuditPatchRollbackFail = "patch.rollback_failed"
	AuditPatchRejected     = "patch.reject"
)

// AuditEvent is the forensic record of a patch transition.
type AuditEvent struct {
	ID              string      `json:"id"`
	Action          string      `json:"action"`
	PatchID         string      `json:"patchId"`
	RunID           string      `json:"runId,omitempty"`
	Actor           string      `json:"actor"`
	Reason          string      `json:"reason,omitempty"`
	ResultingStatus PatchStatus `json:"resultingStatus"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// Caller identifies who invoked an operation. Authorization happens before the
// caller reaches the core; the core only records the identity.
type Caller struct {
	ID string
}

// SystemCaller is the identity used by autonomous runs.
var SystemCaller = Caller{ID: "system:engine"}
