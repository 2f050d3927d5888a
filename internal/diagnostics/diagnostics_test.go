package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/contenthost"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func TestContentRulesProducesFix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: retry-limit
    path: config/app.yaml
    pattern: "retries: 0"
    replace: "retries: 3"
    confidence: 85
    description: enable retries
  - id: timeout
    path: config/app.yaml
    pattern: "timeout: 1s"
    replace: "timeout: 10s"
    confidence: 75
    severity: high
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	host := contenthost.NewMemoryHost(map[string]string{"config/app.yaml": "retries: 0\ntimeout: 1s\n"})
	rules, err := NewContentRules(path, host, nil)
	if err != nil {
		t.Fatalf("new content rules: %v", err)
	}

	issues, err := rules.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected one combined issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.Fix == nil || issue.Fix.NewContent != "retries: 3\ntimeout: 10s\n" {
		t.Fatalf("unexpected fix: %+v", issue.Fix)
	}
	if issue.Confidence != 75 {
		t.Fatalf("expected weakest rule confidence 75, got %v", issue.Confidence)
	}
	if issue.Severity != models.SeverityHigh {
		t.Fatalf("expected high severity, got %s", issue.Severity)
	}
}

func TestContentRulesNoMatch(t *testing.T) {
	host := contenthost.NewMemoryHost(map[string]string{"a.txt": "healthy"})
	rules, err := NewContentRulesFromRules([]Rule{{ID: "r", Path: "a.txt", Pattern: "broken", Replace: "fixed", Confidence: 90}}, host, nil)
	if err != nil {
		t.Fatalf("new content rules: %v", err)
	}
	issues, err := rules.Run(context.Background())
	if err != nil || len(issues) != 0 {
		t.Fatalf("expected no issues, got %v (%v)", issues, err)
	}
}

func TestContentRulesReportsUnreadableTarget(t *testing.T) {
	host := contenthost.NewMemoryHost(map[string]string{"b.txt": "broken"})
	rules, err := NewContentRulesFromRules([]Rule{
		{ID: "missing", Path: "a.txt", Pattern: "x", Confidence: 90},
		{ID: "present", Path: "b.txt", Pattern: "broken", Replace: "fixed", Confidence: 90},
	}, host, nil)
	if err != nil {
		t.Fatalf("new content rules: %v", err)
	}
	issues, err := rules.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected error naming the unreadable rule, got %v", err)
	}
	if len(issues) != 1 || issues[0].Target != "b.txt" {
		t.Fatalf("expected the readable target to still be reported, got %+v", issues)
	}
}

func TestContentRulesNoFile(t *testing.T) {
	rules, err := NewContentRules("non-existent", nil, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules when file missing")
	}
}

func TestContentRulesRejectsBadRules(t *testing.T) {
	cases := []Rule{
		{ID: "", Path: "a", Pattern: "x"},
		{ID: "r", Path: "a", Pattern: "("},
		{ID: "r", Path: "a", Pattern: "x", Confidence: 101},
		{ID: "r", Path: "a", Pattern: "x", Severity: "urgent"},
	}
	for i, rule := range cases {
		if _, err := NewContentRulesFromRules([]Rule{rule}, nil, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type beatsFunc func(ctx context.Context, since time.Time) ([]models.Heartbeat, error)

func (f beatsFunc) Query(ctx context.Context, since time.Time) ([]models.Heartbeat, error) {
	return f(ctx, since)
}

func beatsAt(base time.Time, minutes ...int) beatsFunc {
	return func(context.Context, time.Time) ([]models.Heartbeat, error) {
		out := make([]models.Heartbeat, 0, len(minutes))
		for _, m := range minutes {
			out = append(out, models.Heartbeat{Timestamp: base.Add(time.Duration(m) * time.Minute)})
		}
		return out, nil
	}
}

func TestHeartbeatContinuityReportsGap(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-30 * time.Minute)
	check := NewHeartbeatContinuity(beatsAt(base, 0, 1, 2, 10, 11), clock.NewFake(now), time.Hour, time.Minute, 2)

	issues, err := check.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(issues))
	}
	if issues[0].Fix != nil {
		t.Fatalf("heartbeat gaps have no automated fix")
	}
	if !strings.Contains(issues[0].Summary, "8.0 minutes") {
		t.Fatalf("summary should name the largest gap: %q", issues[0].Summary)
	}
}

func TestHeartbeatContinuityHealthy(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	check := NewHeartbeatContinuity(beatsAt(now.Add(-5*time.Minute), 0, 1, 2, 3, 4), clock.NewFake(now), time.Hour, time.Minute, 2)
	issues, err := check.Run(context.Background())
	if err != nil || len(issues) != 0 {
		t.Fatalf("expected no issues, got %v (%v)", issues, err)
	}
}

func TestHeartbeatContinuityNoBeats(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	check := NewHeartbeatContinuity(beatsAt(now), clock.NewFake(now), time.Hour, time.Minute, 2)
	issues, err := check.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(issues) != 1 || issues[0].Severity != models.SeverityCritical {
		t.Fatalf("expected a critical issue, got %+v", issues)
	}
}

func TestSystemResourcesThresholds(t *testing.T) {
	s := NewSystemResources(90, 80, "/data")
	s.memUsage = func(context.Context) (float64, error) { return 50, nil }
	s.diskUsage = func(context.Context) (float64, error) { return 97, nil }

	issues, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(issues) != 1 || issues[0].Target != "disk:/data" {
		t.Fatalf("expected one disk issue, got %+v", issues)
	}
	if issues[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity at 97%%, got %s", issues[0].Severity)
	}
}

func TestSystemResourcesProbeError(t *testing.T) {
	s := NewSystemResources(90, 0, "")
	s.memUsage = func(context.Context) (float64, error) { return 0, errors.New("no procfs") }

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected probe error")
	}
}

func TestRegistryResolve(t *testing.T) {
	var nilRules *ContentRules
	reg := NewRegistry(NewSystemResources(0, 0, ""), nilRules)

	if got := reg.Names(); len(got) != 1 || got[0] != SystemResourcesName {
		t.Fatalf("unexpected names %v", got)
	}
	if _, err := reg.Resolve([]string{SystemResourcesName}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := reg.Resolve([]string{ContentRulesName})
	if utils.KindOf(err) != utils.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
