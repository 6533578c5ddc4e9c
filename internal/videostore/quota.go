package videostore

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// QuotaWarningRatio marks the usage level where the UI should start
	// nudging users to clean up.
	QuotaWarningRatio = 0.80

	// QuotaCriticalRatio marks the level where new writes are at risk.
	QuotaCriticalRatio = 0.95
)

// Quota is a point-in-time snapshot of the volume backing the store.
type Quota struct {
	UsageBytes uint64  `json:"usage_bytes"`
	QuotaBytes uint64  `json:"quota_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsageRatio float64 `json:"usage_ratio"`
	Warning    bool    `json:"warning"`
	Critical   bool    `json:"critical"`
}

type usageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Monitor reports disk usage for the volume holding the video store.
type Monitor struct {
	path  string
	usage usageFunc
}

// NewMonitor watches the volume containing path.
func NewMonitor(path string) (*Monitor, error) {
	if path == "" {
		return nil, fmt.Errorf("monitor path is required")
	}
	return &Monitor{path: path, usage: disk.UsageWithContext}, nil
}

// Snapshot reads current usage. The ratio is clamped to [0, 1] so callers can
// treat it as a percentage even when the platform over-reports usage.
func (m *Monitor) Snapshot(ctx context.Context) (Quota, error) {
	stat, err := m.usage(ctx, m.path)
	if err != nil {
		return Quota{}, fmt.Errorf("reading disk usage: %w", err)
	}

	ratio := 0.0
	if stat.Total > 0 {
		ratio = float64(stat.Used) / float64(stat.Total)
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	return Quota{
		UsageBytes: stat.Used,
		QuotaBytes: stat.Total,
		FreeBytes:  stat.Free,
		UsageRatio: ratio,
		Warning:    ratio > QuotaWarningRatio,
		Critical:   ratio > QuotaCriticalRatio,
	}, nil
}

// HasSpaceFor reports whether n additional bytes fit on the volume. The check
// is strict: free space must exceed n, equality is not enough.
func (m *Monitor) HasSpaceFor(ctx context.Context, n int64) (bool, Quota, error) {
	snapshot, err := m.Snapshot(ctx)
	if err != nil {
		return false, Quota{}, err
	}
	if n < 0 {
		return false, snapshot, fmt.Errorf("size must be non-negative")
	}
	return snapshot.FreeBytes > uint64(n), snapshot, nil
}
