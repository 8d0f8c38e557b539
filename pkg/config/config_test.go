package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optcoord/optcoord/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, uint64(DefaultMediumThreshold), cfg.Memory.MediumThreshold)
	assert.Equal(t, uint64(DefaultCriticalThreshold), cfg.Memory.CriticalThreshold)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	content := `
cache:
  max_size: 50
  ttl: 30s
  cleanup_interval: 5s
batch:
  max_batch_size: 25
  timeout: 100ms
metrics:
  enabled: true
  port: 9191
`
	path := filepath.Join(t.TempDir(), "optcoord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 25, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)

	// Omitted sections keep defaults
	assert.Equal(t, 8, cfg.Pool.MaxPoolSize)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrency)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/optcoord.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigLoad))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero cache size", func(c *Configuration) { c.Cache.MaxSize = 0 }},
		{"negative ttl", func(c *Configuration) { c.Cache.TTL = -time.Second }},
		{"zero batch size", func(c *Configuration) { c.Batch.MaxBatchSize = 0 }},
		{"zero pool size", func(c *Configuration) { c.Pool.MaxPoolSize = 0 }},
		{"non-increasing thresholds", func(c *Configuration) {
			c.Memory.HighThreshold = c.Memory.MediumThreshold
		}},
		{"critical below high", func(c *Configuration) {
			c.Memory.CriticalThreshold = c.Memory.HighThreshold - 1
		}},
		{"zero metrics window", func(c *Configuration) { c.Performance.MaxMetrics = 0 }},
		{"bad metrics port", func(c *Configuration) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeConfigValidation))
		})
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPTCOORD_CACHE_MAX_SIZE", "77")
	t.Setenv("OPTCOORD_CACHE_TTL", "90s")
	t.Setenv("OPTCOORD_BATCH_TIMEOUT", "250ms")
	t.Setenv("OPTCOORD_METRICS_ENABLED", "true")

	cfg := NewDefault()
	cfg.ApplyEnvironmentOverrides()

	assert.Equal(t, 77, cfg.Cache.MaxSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}
