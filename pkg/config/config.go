// Package config defines the coordinator configuration with YAML loading,
// environment overrides, and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/optcoord/optcoord/pkg/errors"
)

// Configuration represents the complete coordinator configuration
type Configuration struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
	Batch       BatchConfig       `yaml:"batch"`
	Pool        PoolConfig        `yaml:"pool"`
	Memory      MemoryConfig      `yaml:"memory"`
	Performance PerformanceConfig `yaml:"performance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// CacheConfig represents intelligent cache settings. Immutable once the
// cache is constructed.
type CacheConfig struct {
	MaxSize         int           `yaml:"max_size"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Namespace       string        `yaml:"namespace"`
}

// BatchConfig represents batch processor settings. Immutable once the
// processor is constructed.
type BatchConfig struct {
	MaxBatchSize   int           `yaml:"max_batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// PoolConfig represents resource pool settings
type PoolConfig struct {
	MaxPoolSize int `yaml:"max_pool_size"`
}

// MemoryConfig represents memory monitor settings. Pressure thresholds are
// in bytes of used process memory and must be strictly increasing.
type MemoryConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	MediumThreshold   uint64        `yaml:"medium_threshold"`
	HighThreshold     uint64        `yaml:"high_threshold"`
	CriticalThreshold uint64        `yaml:"critical_threshold"`
}

// PerformanceConfig represents performance monitor settings
type PerformanceConfig struct {
	MaxMetrics  int `yaml:"max_metrics"`
	StatsWindow int `yaml:"stats_window"`
	TrendWindow int `yaml:"trend_window"`
}

// MetricsConfig represents Prometheus exposition settings. Port 0 keeps the
// built-in endpoint off while still populating the registry for embedding.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

const (
	mb = 1024 * 1024

	// Default pressure thresholds. Used memory below medium classifies low,
	// below high classifies medium, and anything at or above critical
	// classifies critical. The whole 100-500MB span between high and
	// critical classifies high: there is no fourth boundary splitting it
	// at 200MB, since both sides would classify the same.
	DefaultMediumThreshold   = 50 * mb
	DefaultHighThreshold     = 100 * mb
	DefaultCriticalThreshold = 500 * mb
)

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
		Cache: CacheConfig{
			MaxSize:         1000,
			TTL:             5 * time.Minute,
			CleanupInterval: time.Minute,
			Namespace:       "optimize",
		},
		Batch: BatchConfig{
			MaxBatchSize:   10,
			Timeout:        50 * time.Millisecond,
			MaxConcurrency: 4,
		},
		Pool: PoolConfig{
			MaxPoolSize: 8,
		},
		Memory: MemoryConfig{
			SampleInterval:    30 * time.Second,
			MediumThreshold:   DefaultMediumThreshold,
			HighThreshold:     DefaultHighThreshold,
			CriticalThreshold: DefaultCriticalThreshold,
		},
		Performance: PerformanceConfig{
			MaxMetrics:  1000,
			StatsWindow: 100,
			TrendWindow: 50,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "optcoord",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from defaults
// so omitted sections keep their default values.
func LoadFromFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad,
			fmt.Sprintf("cannot parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvironmentOverrides applies OPTCOORD_* environment variables on top
// of the loaded configuration.
func (c *Configuration) ApplyEnvironmentOverrides() {
	if v := os.Getenv("OPTCOORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OPTCOORD_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("OPTCOORD_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("OPTCOORD_BATCH_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.MaxBatchSize = n
		}
	}
	if v := os.Getenv("OPTCOORD_BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Batch.Timeout = d
		}
	}
	if v := os.Getenv("OPTCOORD_POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MaxPoolSize = n
		}
	}
	if v := os.Getenv("OPTCOORD_MEMORY_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Memory.SampleInterval = d
		}
	}
	if v := os.Getenv("OPTCOORD_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("OPTCOORD_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Metrics.Port = n
		}
	}
}

// Validate checks the configuration for invalid values
func (c *Configuration) Validate() error {
	if c.Cache.MaxSize <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.CleanupInterval <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"cache.cleanup_interval must be positive, got %v", c.Cache.CleanupInterval)
	}
	if c.Batch.MaxBatchSize <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"batch.max_batch_size must be positive, got %d", c.Batch.MaxBatchSize)
	}
	if c.Batch.Timeout <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"batch.timeout must be positive, got %v", c.Batch.Timeout)
	}
	if c.Batch.MaxConcurrency <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"batch.max_concurrency must be positive, got %d", c.Batch.MaxConcurrency)
	}
	if c.Pool.MaxPoolSize <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"pool.max_pool_size must be positive, got %d", c.Pool.MaxPoolSize)
	}
	if c.Memory.SampleInterval <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"memory.sample_interval must be positive, got %v", c.Memory.SampleInterval)
	}
	// Pressure thresholds must be strictly increasing
	if c.Memory.MediumThreshold >= c.Memory.HighThreshold ||
		c.Memory.HighThreshold >= c.Memory.CriticalThreshold {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"memory thresholds must be strictly increasing: medium=%d high=%d critical=%d",
			c.Memory.MediumThreshold, c.Memory.HighThreshold, c.Memory.CriticalThreshold)
	}
	if c.Performance.MaxMetrics <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"performance.max_metrics must be positive, got %d", c.Performance.MaxMetrics)
	}
	if c.Performance.StatsWindow <= 0 || c.Performance.TrendWindow <= 0 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"performance windows must be positive, got stats=%d trend=%d",
			c.Performance.StatsWindow, c.Performance.TrendWindow)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"metrics.port must be a valid port, got %d", c.Metrics.Port)
	}
	return nil
}
