// Package perf maintains a bounded rolling log of operation samples and
// derives aggregate statistics and trend direction from it.
package perf

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/types"
)

// minTrendSamples is the minimum number of samples required before trend
// analysis reports anything other than stable.
const minTrendSamples = 10

// Band half-widths for trend classification: a second-half mean below 90%
// of the first-half mean counts as a drop, above 110% as a rise.
const (
	trendDropRatio = 0.9
	trendRiseRatio = 1.1
)

// Monitor records operation samples in a bounded ring and computes
// aggregate statistics over the most recent window.
type Monitor struct {
	mu      sync.RWMutex
	samples []types.MetricSample
	config  config.PerformanceConfig
	logger  *zap.Logger
}

// NewMonitor creates a performance monitor.
func NewMonitor(cfg config.PerformanceConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		samples: make([]types.MetricSample, 0, cfg.MaxMetrics),
		config:  cfg,
		logger:  logger.Named("perf"),
	}
}

// RecordMetric appends a sample with a heap snapshot, dropping the oldest
// sample once the log is full.
func (m *Monitor) RecordMetric(operation string, duration time.Duration, success bool) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.append(types.MetricSample{
		Timestamp:   time.Now(),
		Operation:   operation,
		Duration:    duration,
		MemoryBytes: memStats.Alloc,
		Success:     success,
	})
}

func (m *Monitor) append(sample types.MetricSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, sample)
	if len(m.samples) > m.config.MaxMetrics {
		m.samples = m.samples[1:]
	}
}

// SampleCount returns the number of samples currently held.
func (m *Monitor) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Reset clears the sample log.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
}

// GetPerformanceStats aggregates the most recent StatsWindow samples:
// average duration among successes, error rate, throughput over the window,
// and average memory usage.
func (m *Monitor) GetPerformanceStats() types.PerformanceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.recent(m.config.StatsWindow)
	if len(window) == 0 {
		return types.PerformanceStats{}
	}

	var successDurations []float64
	memory := make([]float64, 0, len(window))
	failures := 0
	for _, s := range window {
		if s.Success {
			successDurations = append(successDurations, float64(s.Duration))
		} else {
			failures++
		}
		memory = append(memory, float64(s.MemoryBytes))
	}

	stats := types.PerformanceStats{
		SampleCount:   len(window),
		ErrorRate:     float64(failures) / float64(len(window)),
		AverageMemory: uint64(stat.Mean(memory, nil)),
	}
	if len(successDurations) > 0 {
		stats.AverageDuration = time.Duration(stat.Mean(successDurations, nil))
	}
	if elapsed := time.Since(window[0].Timestamp).Seconds(); elapsed > 0 {
		stats.Throughput = float64(len(window)) / elapsed
	}
	return stats
}

// GetPerformanceTrends compares the first and second halves of the most
// recent TrendWindow samples. With fewer than minTrendSamples samples every
// trend reports stable.
func (m *Monitor) GetPerformanceTrends() types.PerformanceTrends {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.recent(m.config.TrendWindow)
	if len(window) < minTrendSamples {
		return types.PerformanceTrends{
			Duration:  types.TrendStable,
			ErrorRate: types.TrendStable,
			Memory:    types.TrendStable,
		}
	}

	half := len(window) / 2
	first, second := window[:half], window[half:]

	return types.PerformanceTrends{
		Duration: classify(meanDuration(first), meanDuration(second),
			types.TrendImproving, types.TrendDegrading),
		ErrorRate: classify(errorRate(first), errorRate(second),
			types.TrendDecreasing, types.TrendIncreasing),
		Memory: classify(meanMemory(first), meanMemory(second),
			types.TrendDecreasing, types.TrendIncreasing),
	}
}

// recent returns the trailing n samples. Caller must hold the lock.
func (m *Monitor) recent(n int) []types.MetricSample {
	if len(m.samples) <= n {
		return m.samples
	}
	return m.samples[len(m.samples)-n:]
}

// classify applies the ±10% bands to a pair of half-window means.
func classify(first, second float64, down, up types.TrendDirection) types.TrendDirection {
	if first == 0 {
		if second > 0 {
			return up
		}
		return types.TrendStable
	}
	ratio := second / first
	switch {
	case ratio < trendDropRatio:
		return down
	case ratio > trendRiseRatio:
		return up
	default:
		return types.TrendStable
	}
}

func meanDuration(samples []types.MetricSample) float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = float64(s.Duration)
	}
	return stat.Mean(values, nil)
}

func meanMemory(samples []types.MetricSample) float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = float64(s.MemoryBytes)
	}
	return stat.Mean(values, nil)
}

func errorRate(samples []types.MetricSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	failures := 0
	for _, s := range samples {
		if !s.Success {
			failures++
		}
	}
	return float64(failures) / float64(len(samples))
}
