package diagnostics

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// SystemResourcesName is the registry name of the host resource check.
const SystemResourcesName = "system-resources"

// UsageFunc returns a used percentage.
type UsageFunc func(ctx context.Context) (float64, error)

// SystemResources reports memory and disk usage above thresholds. A zero
// threshold disables that probe.
type SystemResources struct {
	memoryPct float64
	diskPct   float64
	diskPath  string
	memUsage  UsageFunc
	diskUsage UsageFunc
}

// NewSystemResources builds the check over the host's real counters.
func NewSystemResources(memoryPct, diskPct float64, diskPath string) *SystemResources {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemResources{
		memoryPct: memoryPct,
		diskPct:   diskPct,
		diskPath:  diskPath,
		memUsage: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		diskUsage: func(ctx context.Context) (float64, error) {
			usage, err := disk.UsageWithContext(ctx, diskPath)
			if err != nil {
				return 0, err
			}
			return usage.UsedPercent, nil
		},
	}
}

// Name implements Diagnostic.
func (s *SystemResources) Name() string { return SystemResourcesName }

// Run implements Diagnostic.
func (s *SystemResources) Run(ctx context.Context) ([]models.Issue, error) {
	var issues []models.Issue
	var errs []error

	probe := func(label, target string, threshold float64, usage UsageFunc) {
		if threshold <= 0 || usage == nil {
			return
		}
		used, err := usage(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s usage: %w", label, err))
			return
		}
		if used < threshold {
			return
		}
		severity := models.SeverityHigh
		if used >= 95 {
			severity = models.SeverityCritical
		}
		issues = append(issues, models.Issue{
			ID:         uuid.NewString(),
			Check:      SystemResourcesName,
			Target:     target,
			Summary:    fmt.Sprintf("%s usage %.1f%% is at or above %.1f%%", label, used, threshold),
			Confidence: 100,
			Severity:   severity,
		})
	}
	probe("memory", "memory", s.memoryPct, s.memUsage)
	probe("disk", "disk:"+s.diskPath, s.diskPct, s.diskUsage)
	return issues, errors.Join(errs...)
}
