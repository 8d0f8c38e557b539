package types

import (
	"context"
	"time"
)

// ComputeFunc is the injected optimization step fronted by the coordinator.
// It may block on I/O or long computation; the coordinator never interrupts
// it beyond passing the caller's context through.
type ComputeFunc func(ctx context.Context, req *Request) (Value, error)

// BatchComputeFunc processes an ordered slice of requests in one downstream
// call and must return one result per request, in the same order.
type BatchComputeFunc func(ctx context.Context, reqs []*Request) ([]Value, error)

// PressureLevel classifies how close the process is to exhausting memory.
type PressureLevel int

const (
	PressureLow PressureLevel = iota
	PressureMedium
	PressureHigh
	PressureCritical
)

// String returns the string representation of the pressure level
func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TrendDirection classifies how a metric moved between the first and second
// half of the trend window.
type TrendDirection string

const (
	TrendImproving  TrendDirection = "improving"
	TrendDegrading  TrendDirection = "degrading"
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
}

// MemoryStats is the snapshot produced on every monitor tick. All byte
// fields are zero when the platform memory API is unavailable.
type MemoryStats struct {
	UsedBytes           uint64        `json:"used_bytes"`
	TotalBytes          uint64        `json:"total_bytes"`
	LimitBytes          uint64        `json:"limit_bytes"`
	PooledResourceCount int           `json:"pooled_resource_count"`
	Pressure            PressureLevel `json:"pressure"`
	Timestamp           time.Time     `json:"timestamp"`
}

// MetricSample is one entry in the performance monitor's rolling log.
type MetricSample struct {
	Timestamp   time.Time     `json:"timestamp"`
	Operation   string        `json:"operation"`
	Duration    time.Duration `json:"duration"`
	MemoryBytes uint64        `json:"memory_bytes"`
	Success     bool          `json:"success"`
}

// PerformanceStats aggregates the most recent samples in the rolling log.
type PerformanceStats struct {
	SampleCount     int           `json:"sample_count"`
	AverageDuration time.Duration `json:"average_duration"`
	ErrorRate       float64       `json:"error_rate"`
	Throughput      float64       `json:"throughput"`
	AverageMemory   uint64        `json:"average_memory"`
}

// PerformanceTrends compares the first and second halves of the trend window.
type PerformanceTrends struct {
	Duration  TrendDirection `json:"duration"`
	ErrorRate TrendDirection `json:"error_rate"`
	Memory    TrendDirection `json:"memory"`
}

// PoolStats represents resource pool statistics
type PoolStats struct {
	PooledResources int            `json:"pooled_resources"`
	BucketSizes     map[string]int `json:"bucket_sizes"`
	Acquires        uint64         `json:"acquires"`
	Reuses          uint64         `json:"reuses"`
	Releases        uint64         `json:"releases"`
	Disposals       uint64         `json:"disposals"`
}

// BatchStats tracks batch processor statistics
type BatchStats struct {
	TotalItems       int64   `json:"total_items"`
	BatchCount       int64   `json:"batch_count"`
	AverageBatchSize float64 `json:"average_batch_size"`
	FlushCount       int64   `json:"flush_count"`
	ErrorCount       int64   `json:"error_count"`
}

// CoordinatorMetrics merges the component snapshots into a single view for
// external observability (dashboards poll this).
type CoordinatorMetrics struct {
	Cache       CacheStats        `json:"cache"`
	Memory      MemoryStats       `json:"memory"`
	Performance PerformanceStats  `json:"performance"`
	Trends      PerformanceTrends `json:"trends"`
	Batch       BatchStats        `json:"batch"`
	Pool        PoolStats         `json:"pool"`
}
