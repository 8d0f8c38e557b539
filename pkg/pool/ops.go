package pool

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/optcoord/optcoord/pkg/types"
)

// PressureSource reports the current memory pressure. Implemented by the
// memory monitor; defined here so the pool package does not depend on it.
type PressureSource interface {
	Pressure() types.PressureLevel
}

// Ops creates buffers and runs batched units of work while consulting the
// memory monitor, trading pooled capacity away under pressure.
type Ops struct {
	pool     *ResourcePool
	pressure PressureSource
	maxConc  int
	logger   *zap.Logger
}

// NewOps wraps a pool with pressure-aware operations. maxConcurrency bounds
// the parallelism of RunBatched.
func NewOps(pool *ResourcePool, pressure PressureSource, maxConcurrency int, logger *zap.Logger) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	return &Ops{
		pool:     pool,
		pressure: pressure,
		maxConc:  maxConcurrency,
		logger:   logger.Named("ops"),
	}
}

// CreateBuffer acquires a buffer, shedding pooled capacity first when the
// process is under memory pressure.
func (o *Ops) CreateBuffer(shape []int, et ElementType, tag string) *Buffer {
	switch o.pressure.Pressure() {
	case types.PressureCritical:
		o.pool.Cleanup(true)
	case types.PressureHigh:
		o.pool.Cleanup(false)
	}
	return o.pool.Acquire(shape, et, tag)
}

// ReleaseBuffer returns a buffer to the pool.
func (o *Ops) ReleaseBuffer(buf *Buffer) {
	o.pool.Release(buf)
}

// RunBatched splits [0, total) into batchSize chunks and runs fn over each
// chunk with bounded parallelism. Between chunk launches it consults the
// pressure source and sheds pooled buffers when pressure is high. The first
// chunk error cancels the remaining chunks.
func (o *Ops) RunBatched(ctx context.Context, total, batchSize int, fn func(ctx context.Context, start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = total
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConc)

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		if level := o.pressure.Pressure(); level >= types.PressureHigh {
			o.pool.Cleanup(level == types.PressureCritical)
			o.logger.Debug("shedding pooled buffers mid-run",
				zap.String("pressure", level.String()))
		}

		start, end := start, end
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, start, end)
		})
	}

	return g.Wait()
}
