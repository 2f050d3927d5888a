// Package escalation decides, per issue, whether to fix automatically, hold
// the fix for review, or escalate to an operator.
package escalation

import (
	"fmt"
	"path"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// DefaultAutoFixThreshold is used when the configured threshold is unset.
const DefaultAutoFixThreshold = 70.0

// Policy is a pure decision function over diagnostic issues.
type Policy struct {
	threshold   float64
	reviewPaths []string
}

// NewPolicy builds a policy. Targets matching any reviewPaths glob are held
// for review even when confident.
func NewPolicy(threshold float64, reviewPaths []string) Policy {
	if threshold <= 0 {
		threshold = DefaultAutoFixThreshold
	}
	return Policy{threshold: threshold, reviewPaths: append([]string(nil), reviewPaths...)}
}

// Threshold returns the auto-fix confidence threshold.
func (p Policy) Threshold() float64 { return p.threshold }

// Decide returns one decision per issue, in input order.
func (p Policy) Decide(issues []models.Issue) []models.Decision {
	decisions := make([]models.Decision, 0, len(issues))
	for _, issue := range issues {
		decisions = append(decisions, p.decide(issue))
	}
	return decisions
}

func (p Policy) decide(issue models.Issue) models.Decision {
	d := models.Decision{Issue: issue, Severity: SeverityFor(issue.Confidence, p.threshold)}
	if issue.Severity.Valid() && rank(issue.Severity) > rank(d.Severity) {
		d.Severity = issue.Severity
	}

	switch {
	case issue.Fix == nil:
		d.Outcome = models.OutcomeEscalate
		d.Reason = "no automated fix available"
	case issue.Confidence < p.threshold:
		d.Outcome = models.OutcomeEscalate
		d.Reason = fmt.Sprintf("confidence %.1f below auto-fix threshold %.1f", issue.Confidence, p.threshold)
	case p.requiresReview(issue.Fix.TargetPath):
		d.Outcome = models.OutcomeHold
		d.Reason = "target " + issue.Fix.TargetPath + " requires review"
	default:
		d.Outcome = models.OutcomeAutoFix
		d.Reason = fmt.Sprintf("confidence %.1f meets auto-fix threshold %.1f", issue.Confidence, p.threshold)
	}
	return d
}

func (p Policy) requiresReview(target string) bool {
	target = strings.TrimPrefix(target, "/")
	for _, pattern := range p.reviewPaths {
		pattern = strings.TrimPrefix(pattern, "/")
		if ok, err := path.Match(pattern, target); err == nil && ok {
			return true
		}
		// A trailing "/**" covers the whole subtree.
		if prefix, found := strings.CutSuffix(pattern, "/**"); found && strings.HasPrefix(target, prefix+"/") {
			return true
		}
	}
	return false
}

// SeverityFor scales alert severity inversely with confidence.
func SeverityFor(confidence, threshold float64) models.Severity {
	switch {
	case confidence < 25:
		return models.SeverityCritical
	case confidence < 50:
		return models.SeverityHigh
	case confidence < threshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func rank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	case models.SeverityMedium:
		return 1
	}
	return 0
}
