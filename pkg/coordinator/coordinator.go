// Package coordinator assembles the optimization pipeline: a content-keyed
// result cache, single-flight computation, request batching, and performance
// and memory observability behind one entry point.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/optcoord/optcoord/internal/batch"
	"github.com/optcoord/optcoord/internal/cache"
	"github.com/optcoord/optcoord/internal/metrics"
	"github.com/optcoord/optcoord/internal/perf"
	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/errors"
	"github.com/optcoord/optcoord/pkg/memory"
	"github.com/optcoord/optcoord/pkg/types"
)

// Operation names recorded into the performance log.
const (
	opOptimize      = "optimize"
	opOptimizeCache = "optimize_cached"
	opBatchOptimize = "batch_optimize"
)

// Coordinator is the public entry point: it fronts an injected compute
// function with content-addressed caching, single-flight deduplication,
// request batching, and performance/memory observability.
type Coordinator struct {
	config    *config.Configuration
	cache     *cache.IntelligentCache
	batch     *batch.Processor
	perf      *perf.Monitor
	memory    *memory.Monitor
	collector *metrics.Collector
	logger    *zap.Logger

	flight singleflight.Group
}

// New assembles a coordinator around the injected memory monitor. The
// monitor is caller-owned: the coordinator reads it and registers an
// observer but never starts or stops it. Callers must Close the coordinator
// to release its background goroutines.
func New(cfg *config.Configuration, mon *memory.Monitor, logger *zap.Logger) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mon == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "memory monitor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:    cfg,
		cache:     cache.New(cfg.Cache, logger),
		batch:     batch.NewProcessor(cfg.Batch, logger),
		perf:      perf.NewMonitor(cfg.Performance, logger),
		memory:    mon,
		collector: collector,
		logger:    logger.Named("coordinator"),
	}

	c.batch.OnFlush(func(size int, duration time.Duration, err error) {
		c.perf.RecordMetric(opBatchOptimize, duration, err == nil)
		c.collector.ObserveBatchFlush(size)
	})
	c.cache.OnEvict(func(string) { c.collector.IncCacheEviction() })
	mon.OnMemoryEvent(c.collector.UpdateMemory)

	if err := c.batch.Start(); err != nil {
		return nil, err
	}
	if err := c.collector.Start(context.Background()); err != nil {
		c.batch.Stop()
		return nil, err
	}

	return c, nil
}

// OptimizeWithCaching serves req from the cache when possible; otherwise it
// invokes computeFn exactly once per key, even under concurrent misses
// (single-flight), stores the result, and returns it. Failed computations
// are never cached.
func (c *Coordinator) OptimizeWithCaching(ctx context.Context, req *types.Request, computeFn types.ComputeFunc) (types.Value, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidationFailed, "invalid request", err)
	}

	key, err := cache.GenerateKey(c.config.Cache.Namespace, req.Config, req.Usage)
	if err != nil {
		return nil, err
	}

	if value, ok := c.cache.Get(key); ok {
		c.perf.RecordMetric(opOptimizeCache, time.Since(start), true)
		c.collector.IncCacheHit()
		c.collector.ObserveOptimize(metrics.OutcomeCached, time.Since(start))
		return value, nil
	}
	c.collector.IncCacheMiss()

	value, served, err := c.computeThroughFlight(ctx, req, key, computeFn)
	if err != nil {
		return nil, err
	}

	if served {
		// This caller's result came from someone else's work, either an
		// in-flight computation it attached to or one that finished between
		// its cache miss and entering the flight.
		c.perf.RecordMetric(opOptimizeCache, time.Since(start), true)
		c.collector.ObserveOptimize(metrics.OutcomeCached, time.Since(start))
	}

	return value, nil
}

// computeThroughFlight runs the miss path under single-flight. The callback
// re-checks the cache first: a computation finishing between the caller's
// miss and entering the flight is served instead of recomputed. The second
// return reports whether the result was served rather than computed by this
// caller.
func (c *Coordinator) computeThroughFlight(ctx context.Context, req *types.Request, key string, computeFn types.ComputeFunc) (types.Value, bool, error) {
	var fromCache bool
	value, err, shared := c.flight.Do(key, func() (interface{}, error) {
		if cached, ok := c.cache.Get(key); ok {
			fromCache = true
			return cached, nil
		}

		computeStart := time.Now()
		result, err := computeFn(ctx, req)
		elapsed := time.Since(computeStart)

		if err != nil {
			c.perf.RecordMetric(opOptimize, elapsed, false)
			c.collector.ObserveOptimize(metrics.OutcomeError, elapsed)
			return nil, errors.Wrap(errors.ErrCodeComputeFailed, "compute function failed", err).
				WithContext("cache_key", key)
		}

		c.cache.Set(key, result)
		c.perf.RecordMetric(opOptimize, elapsed, true)
		c.collector.ObserveOptimize(metrics.OutcomeComputed, elapsed)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, shared || fromCache, nil
}

// coarseBatchKey groups requests that are similar enough to process
// together: it discriminates on the usage-record volume, intentionally
// coarser than the cache key so near-identical requests coalesce.
func (c *Coordinator) coarseBatchKey(req *types.Request) string {
	bucket := len(req.Usage) / 8
	return fmt.Sprintf("%s:batch:%d", c.config.Cache.Namespace, bucket)
}

// BatchOptimize routes the requests through the batch processor, coalescing
// them with any concurrent callers that share a coarse key, and returns the
// positional results. Any batch failure fails every request in that batch.
func (c *Coordinator) BatchOptimize(ctx context.Context, reqs []*types.Request, batchFn types.BatchComputeFunc) ([]types.Value, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeValidationFailed,
				fmt.Sprintf("invalid request at index %d", i), err)
		}
	}

	futures := make([]*batch.Future, len(reqs))
	for i, req := range reqs {
		fut, err := c.batch.Submit(req, c.coarseBatchKey, batchFn)
		if err != nil {
			return nil, err
		}
		futures[i] = fut
	}

	results := make([]types.Value, len(reqs))
	for i, fut := range futures {
		value, err := fut.Wait(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = value
	}
	return results, nil
}

// Registry exposes the Prometheus registry for embedding in an existing
// exposition endpoint, or nil when metrics are disabled.
func (c *Coordinator) Registry() *prometheus.Registry {
	return c.collector.Registry()
}

// GetPerformanceMetrics merges the component snapshots into one view.
func (c *Coordinator) GetPerformanceMetrics() types.CoordinatorMetrics {
	m := types.CoordinatorMetrics{
		Cache:       c.cache.GetStats(),
		Memory:      c.memory.GetMemoryStats(),
		Performance: c.perf.GetPerformanceStats(),
		Trends:      c.perf.GetPerformanceTrends(),
		Batch:       c.batch.GetStats(),
	}
	if p := c.memory.Pool(); p != nil {
		m.Pool = p.Stats()
	}
	return m
}

// Clear empties the cache and resets the performance log. The resource pool
// is left untouched.
func (c *Coordinator) Clear() {
	c.cache.Clear()
	c.perf.Reset()
}

// Close stops the coordinator's own background work: the cache sweeper, the
// batch processor (flushing pending batches), and the metrics endpoint. The
// injected memory monitor stays running; its owner stops it.
func (c *Coordinator) Close() error {
	c.cache.Stop()
	err := c.batch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := c.collector.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
