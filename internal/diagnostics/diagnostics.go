// Package diagnostics holds the checks a run executes. Each check reports
// issues; a check that cannot run reports an error instead.
package diagnostics

import (
	"context"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Diagnostic is one pluggable check.
type Diagnostic interface {
	Name() string
	Run(ctx context.Context) ([]models.Issue, error)
}

// Registry resolves diagnostics by name.
type Registry struct {
	checks map[string]Diagnostic
}

// NewRegistry registers the given checks. Nil checks are skipped.
func NewRegistry(checks ...Diagnostic) *Registry {
	r := &Registry{checks: make(map[string]Diagnostic, len(checks))}
	for _, c := range checks {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a check.
func (r *Registry) Register(d Diagnostic) {
	if d == nil || isNilDiagnostic(d) {
		return
	}
	r.checks[d.Name()] = d
}

// Resolve returns the checks named, in order. Unknown names are a validation error.
func (r *Registry) Resolve(names []string) ([]Diagnostic, error) {
	out := make([]Diagnostic, 0, len(names))
	var unknown []string
	for _, name := range names {
		d, ok := r.checks[strings.TrimSpace(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, d)
	}
	if len(unknown) > 0 {
		return nil, utils.Validation("diagnostics.Resolve", "unknown diagnostics: "+strings.Join(unknown, ", "))
	}
	return out, nil
}

// Names lists the registered checks alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isNilDiagnostic(d Diagnostic) bool {
	switch v := d.(type) {
	case *ContentRules:
		return v == nil
	case *HeartbeatContinuity:
		return v == nil
	case *SystemResources:
		return v == nil
	}
	return false
}
