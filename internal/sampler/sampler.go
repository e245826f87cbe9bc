// Package sampler measures host CPU, memory, and disk usage.
//
// Two implementations exist: HostSampler reads real metrics through
// gopsutil, and FallbackSampler returns a fixed baseline for hosts where
// metrics cannot be read. New picks one at startup.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/rolesched/pkg/model"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// FallbackPercent is reported for every resource when metrics are unavailable.
const FallbackPercent = 50

// Sampler produces one ResourceSample per call.
type Sampler interface {
	Sample(ctx context.Context) (model.ResourceSample, error)
}

// HostSampler reads live host metrics.
type HostSampler struct {
	// CPUWindow is how long CPU usage is measured over. Zero compares
	// against the previous call, which makes the first sample meaningless.
	CPUWindow time.Duration

	// DiskPath is the filesystem whose usage is reported.
	DiskPath string
}

// NewHostSampler creates a HostSampler measuring CPU over one second.
func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{CPUWindow: time.Second, DiskPath: diskPath}
}

// Sample implements Sampler. Any metric failure fails the whole sample.
func (s *HostSampler) Sample(ctx context.Context) (model.ResourceSample, error) {
	cpus, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return model.ResourceSample{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(cpus) == 0 {
		return model.ResourceSample{}, fmt.Errorf("cpu percent: no data")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.ResourceSample{}, fmt.Errorf("virtual memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return model.ResourceSample{}, fmt.Errorf("disk usage %s: %w", s.DiskPath, err)
	}

	return model.ResourceSample{
		CPUPercent:  cpus[0],
		MemPercent:  vm.UsedPercent,
		DiskPercent: du.UsedPercent,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// FallbackSampler always reports FallbackPercent so admission decisions still
// have a deterministic baseline.
type FallbackSampler struct{}

// Sample implements Sampler.
func (FallbackSampler) Sample(_ context.Context) (model.ResourceSample, error) {
	return model.ResourceSample{
		CPUPercent:  FallbackPercent,
		MemPercent:  FallbackPercent,
		DiskPercent: FallbackPercent,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// New probes the host once and returns a HostSampler when metrics can be
// read, or a FallbackSampler otherwise.
func New(ctx context.Context, diskPath string, logger *slog.Logger) Sampler {
	logger = logger.With("component", "sampler")

	probe := NewHostSampler(diskPath)
	probe.CPUWindow = 0
	if _, err := probe.Sample(ctx); err != nil {
		logger.Warn("host metrics unavailable, using fallback sampler",
			"fallback_percent", FallbackPercent, "error", err)
		return FallbackSampler{}
	}
	logger.Info("host metrics available", "disk_path", probe.DiskPath)
	return NewHostSampler(diskPath)
}

// Latest wraps a Sampler and retains only the most recent successful sample.
type Latest struct {
	Sampler

	mu   sync.RWMutex
	last model.ResourceSample
	ok   bool
}

// NewLatest wraps s.
func NewLatest(s Sampler) *Latest {
	return &Latest{Sampler: s}
}

// Sample delegates to the wrapped sampler and records successful results.
func (l *Latest) Sample(ctx context.Context) (model.ResourceSample, error) {
	rs, err := l.Sampler.Sample(ctx)
	if err != nil {
		return rs, err
	}
	l.mu.Lock()
	l.last, l.ok = rs, true
	l.mu.Unlock()
	return rs, nil
}

// Last returns the most recent sample and whether one exists.
func (l *Latest) Last() (model.ResourceSample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last, l.ok
}

// Static returns a fixed sample, for tests and dry runs. Set may be called
// concurrently with Sample.
type Static struct {
	mu    sync.Mutex
	value model.ResourceSample
	err   error
}

// NewStatic returns a Static reporting cpu, mem, and disk percent.
func NewStatic(cpuPct, memPct, diskPct float64) *Static {
	return &Static{value: model.ResourceSample{CPUPercent: cpuPct, MemPercent: memPct, DiskPercent: diskPct}}
}

// Set replaces the reported values and clears any error.
func (s *Static) Set(cpuPct, memPct, diskPct float64) {
	s.mu.Lock()
	s.value = model.ResourceSample{CPUPercent: cpuPct, MemPercent: memPct, DiskPercent: diskPct}
	s.err = nil
	s.mu.Unlock()
}

// Fail makes subsequent samples return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Sample implements Sampler.
func (s *Static) Sample(_ context.Context) (model.ResourceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.ResourceSample{}, s.err
	}
	v := s.value
	v.Timestamp = time.Now().UTC()
	return v, nil
}
