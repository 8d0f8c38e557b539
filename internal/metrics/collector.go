package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/types"
)

// Outcome labels for the optimize duration histogram.
const (
	OutcomeComputed = "computed"
	OutcomeCached   = "cached"
	OutcomeError    = "error"
)

// Collector exposes coordinator metrics through a Prometheus registry and,
// when enabled, an HTTP exposition endpoint.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry
	logger   *zap.Logger

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   prometheus.Counter
	optimizeDuration *prometheus.HistogramVec
	batchSize        prometheus.Histogram
	pooledResources  prometheus.Gauge
	memoryPressure   prometheus.Gauge
	memoryUsedBytes  prometheus.Gauge

	server *http.Server
}

// NewCollector creates a metrics collector. A disabled collector is a valid
// no-op sink so callers never need nil checks.
func NewCollector(cfg config.MetricsConfig, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		config: cfg,
		logger: logger.Named("metrics"),
	}
	if !cfg.Enabled {
		return c, nil
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "optcoord"
	}

	c.registry = prometheus.NewRegistry()
	c.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_hits_total",
		Help: "Cache lookups answered from the result cache.",
	})
	c.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_misses_total",
		Help: "Cache lookups that required computation.",
	})
	c.cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_evictions_total",
		Help: "Entries evicted to keep the cache within capacity.",
	})
	c.optimizeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "optimize_duration_seconds",
		Help:    "Duration of optimization requests by outcome.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"outcome"})
	c.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "batch_size",
		Help:    "Number of requests coalesced per flush.",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	})
	c.pooledResources = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "pooled_resources",
		Help: "Idle buffers currently held by the resource pool.",
	})
	c.memoryPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "memory_pressure",
		Help: "Current memory pressure level (0=low 1=medium 2=high 3=critical).",
	})
	c.memoryUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "memory_used_bytes",
		Help: "Process memory usage from the last monitor tick.",
	})

	collectors := []prometheus.Collector{
		c.cacheHits, c.cacheMisses, c.cacheEvictions,
		c.optimizeDuration, c.batchSize,
		c.pooledResources, c.memoryPressure, c.memoryUsedBytes,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Start serves the exposition endpoint when the collector is enabled and a
// port is configured. With Port 0 the registry is populated but not served;
// embedders expose it through Registry instead.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"healthy"}`)
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the exposition endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Registry returns the Prometheus registry, or nil when disabled. Useful
// for embedding the metrics in an existing exposition endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncCacheHit counts a cache hit.
func (c *Collector) IncCacheHit() {
	if c.config.Enabled {
		c.cacheHits.Inc()
	}
}

// IncCacheMiss counts a cache miss.
func (c *Collector) IncCacheMiss() {
	if c.config.Enabled {
		c.cacheMisses.Inc()
	}
}

// IncCacheEviction counts a capacity eviction.
func (c *Collector) IncCacheEviction() {
	if c.config.Enabled {
		c.cacheEvictions.Inc()
	}
}

// ObserveOptimize records one optimization request's duration by outcome.
func (c *Collector) ObserveOptimize(outcome string, duration time.Duration) {
	if c.config.Enabled {
		c.optimizeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// ObserveBatchFlush records the size of one flushed batch.
func (c *Collector) ObserveBatchFlush(size int) {
	if c.config.Enabled {
		c.batchSize.Observe(float64(size))
	}
}

// UpdateMemory refreshes the memory gauges from a monitor snapshot.
func (c *Collector) UpdateMemory(stats types.MemoryStats) {
	if !c.config.Enabled {
		return
	}
	c.pooledResources.Set(float64(stats.PooledResourceCount))
	c.memoryPressure.Set(float64(stats.Pressure))
	c.memoryUsedBytes.Set(float64(stats.UsedBytes))
}
