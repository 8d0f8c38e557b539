// Package memory provides process-wide memory pressure monitoring that
// drives adaptive pool cleanup.
package memory

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/errors"
	"github.com/optcoord/optcoord/pkg/pool"
	"github.com/optcoord/optcoord/pkg/types"
)

// Observer receives the latest memory snapshot on every monitor tick.
type Observer func(types.MemoryStats)

// Monitor samples process memory on a timer, classifies pressure, and
// triggers pool cleanup as pressure rises. It is constructed explicitly and
// injected into its consumers; there is no package-level singleton.
type Monitor struct {
	config config.MemoryConfig
	pool   *pool.ResourcePool
	logger *zap.Logger

	mu        sync.RWMutex
	latest    types.MemoryStats
	sampled   bool
	observers []Observer

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32

	// readUsage is replaceable in tests; the default reads the platform
	// memory API and fails open to zeros.
	readUsage func() (used, total, limit uint64)
}

// NewMonitor creates a monitor that owns the given pool. The pool may be
// nil when only classification is needed.
func NewMonitor(cfg config.MemoryConfig, p *pool.ResourcePool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		config: cfg,
		pool:   p,
		logger: logger.Named("memory"),
	}
	m.readUsage = m.platformUsage
	return m
}

// platformUsage reads process RSS and system totals. Any platform error
// fails open: the affected fields stay zero and pressure reports low.
func (m *Monitor) platformUsage() (used, total, limit uint64) {
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			used = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		total = vm.Total
		limit = vm.Total
	}
	return used, total, limit
}

// Start begins periodic monitoring. The monitor stops when ctx is canceled
// or Stop is called, and may be started again afterwards.
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return errors.New(errors.ErrCodeAlreadyStarted, "memory monitor already running")
	}

	m.logger.Info("starting memory monitor",
		zap.Duration("sample_interval", m.config.SampleInterval),
		zap.Uint64("critical_threshold", m.config.CriticalThreshold))

	// A fresh channel per run makes the monitor restartable after Stop.
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx, stopCh)
	return nil
}

// Stop halts monitoring. Safe to call more than once.
func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return nil
	}
	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()
	close(stopCh)
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	m.tick()

	for {
		select {
		case <-ctx.Done():
			// Clear the active flag so the monitor can be started again
			// without an explicit Stop.
			atomic.StoreInt32(&m.active, 0)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick samples memory, classifies pressure, reacts to it, and notifies
// observers. It runs on the monitor goroutine only and never blocks a
// request path.
func (m *Monitor) tick() {
	stats := m.sample()

	switch stats.Pressure {
	case types.PressureHigh:
		if m.pool != nil {
			m.pool.Cleanup(false)
		}
		runtime.GC()
		m.logger.Debug("high memory pressure, moderate cleanup",
			zap.Uint64("used_bytes", stats.UsedBytes))
	case types.PressureCritical:
		if m.pool != nil {
			m.pool.Cleanup(true)
		}
		runtime.GC()
		m.logger.Warn("critical memory pressure, aggressive cleanup",
			zap.Uint64("used_bytes", stats.UsedBytes),
			zap.Uint64("critical_threshold", m.config.CriticalThreshold))
	}

	m.mu.Lock()
	m.latest = stats
	m.sampled = true
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(stats)
	}
}

func (m *Monitor) sample() types.MemoryStats {
	used, total, limit := m.readUsage()

	stats := types.MemoryStats{
		UsedBytes:  used,
		TotalBytes: total,
		LimitBytes: limit,
		Pressure:   m.classify(used),
		Timestamp:  time.Now(),
	}
	if m.pool != nil {
		stats.PooledResourceCount = m.pool.PooledCount()
	}
	return stats
}

// classify maps used bytes to a pressure level. Zero (platform API absent)
// classifies low.
func (m *Monitor) classify(used uint64) types.PressureLevel {
	switch {
	case used >= m.config.CriticalThreshold:
		return types.PressureCritical
	case used >= m.config.HighThreshold:
		return types.PressureHigh
	case used >= m.config.MediumThreshold:
		return types.PressureMedium
	default:
		return types.PressureLow
	}
}

// GetMemoryStats returns the latest snapshot, sampling on demand if the
// monitor has not ticked yet.
func (m *Monitor) GetMemoryStats() types.MemoryStats {
	m.mu.RLock()
	if m.sampled {
		defer m.mu.RUnlock()
		return m.latest
	}
	m.mu.RUnlock()

	return m.sample()
}

// Pressure returns the current pressure level. Implements pool.PressureSource.
func (m *Monitor) Pressure() types.PressureLevel {
	return m.GetMemoryStats().Pressure
}

// Healthy reports false only at critical pressure.
func (m *Monitor) Healthy() bool {
	return m.Pressure() != types.PressureCritical
}

// Pool returns the pool this monitor owns, or nil.
func (m *Monitor) Pool() *pool.ResourcePool {
	return m.pool
}

// OnMemoryEvent registers an observer for per-tick snapshots.
func (m *Monitor) OnMemoryEvent(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}
