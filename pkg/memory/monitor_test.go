package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/pool"
	"github.com/optcoord/optcoord/pkg/types"
)

const mb = 1024 * 1024

func testConfig() config.MemoryConfig {
	return config.MemoryConfig{
		SampleInterval:    10 * time.Millisecond,
		MediumThreshold:   50 * mb,
		HighThreshold:     100 * mb,
		CriticalThreshold: 500 * mb,
	}
}

func TestClassification(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)

	tests := []struct {
		usedMB uint64
		want   types.PressureLevel
	}{
		{40, types.PressureLow},
		{80, types.PressureMedium},
		{150, types.PressureHigh},
		{300, types.PressureHigh},
		{600, types.PressureCritical},
	}

	for _, tt := range tests {
		got := m.classify(tt.usedMB * mb)
		assert.Equal(t, tt.want, got, "%dMB", tt.usedMB)
	}
}

func TestClassificationFailOpen(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 0, 0, 0 }

	stats := m.GetMemoryStats()
	assert.Equal(t, types.PressureLow, stats.Pressure)
	assert.Zero(t, stats.UsedBytes)
	assert.Zero(t, stats.TotalBytes)
	assert.True(t, m.Healthy())
}

func TestCriticalTriggersAggressiveCleanup(t *testing.T) {
	p := pool.NewResourcePool(config.PoolConfig{MaxPoolSize: 4}, nil)
	bufs := make([]*pool.Buffer, 4)
	for i := range bufs {
		bufs[i] = p.Acquire([]int{4}, pool.Float64, "w")
	}
	for _, b := range bufs {
		p.Release(b)
	}
	require.Equal(t, 4, p.PooledCount())

	m := NewMonitor(testConfig(), p, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 600 * mb, 1024 * mb, 1024 * mb }

	m.tick()

	assert.Equal(t, 0, p.PooledCount(), "critical pressure drains the pool")
	assert.False(t, m.Healthy())
}

func TestHighTriggersModerateCleanup(t *testing.T) {
	p := pool.NewResourcePool(config.PoolConfig{MaxPoolSize: 4}, nil)
	bufs := make([]*pool.Buffer, 4)
	for i := range bufs {
		bufs[i] = p.Acquire([]int{4}, pool.Float64, "w")
	}
	for _, b := range bufs {
		p.Release(b)
	}

	m := NewMonitor(testConfig(), p, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 150 * mb, 1024 * mb, 1024 * mb }

	m.tick()

	assert.Equal(t, 2, p.PooledCount(), "high pressure drains to half capacity")
	assert.True(t, m.Healthy(), "high pressure is still healthy")
}

func TestObserversReceiveSnapshots(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 80 * mb, 1024 * mb, 1024 * mb }

	var ticks int32
	var last atomic.Value
	m.OnMemoryEvent(func(stats types.MemoryStats) {
		atomic.AddInt32(&ticks, 1)
		last.Store(stats)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) >= 2
	}, time.Second, 5*time.Millisecond)

	stats := last.Load().(types.MemoryStats)
	assert.Equal(t, uint64(80*mb), stats.UsedBytes)
	assert.Equal(t, types.PressureMedium, stats.Pressure)
}

func TestStartTwice(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	err := m.Start(ctx)
	require.Error(t, err)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop(), "stop is idempotent")
}

func TestRestartAfterStop(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 40 * mb, 1024 * mb, 1024 * mb }
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop())

	require.NoError(t, m.Start(ctx), "monitor restarts after a clean stop")
	require.NoError(t, m.Stop())
}

func TestContextCancelReleasesMonitor(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 40 * mb, 1024 * mb, 1024 * mb }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return m.Start(context.Background()) == nil
	}, time.Second, 5*time.Millisecond, "monitor becomes startable again after its context ends")
	require.NoError(t, m.Stop())
}

func TestGetMemoryStatsOnDemand(t *testing.T) {
	m := NewMonitor(testConfig(), nil, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 40 * mb, 2048 * mb, 2048 * mb }

	// Never started: stats still come back from an on-demand sample
	stats := m.GetMemoryStats()
	assert.Equal(t, uint64(40*mb), stats.UsedBytes)
	assert.Equal(t, types.PressureLow, stats.Pressure)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestPooledResourceCountInStats(t *testing.T) {
	p := pool.NewResourcePool(config.PoolConfig{MaxPoolSize: 4}, nil)
	p.Release(p.Acquire([]int{2}, pool.Int32, "ids"))

	m := NewMonitor(testConfig(), p, nil)
	m.readUsage = func() (uint64, uint64, uint64) { return 0, 0, 0 }

	stats := m.GetMemoryStats()
	assert.Equal(t, 1, stats.PooledResourceCount)
}
