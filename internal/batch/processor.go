package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/errors"
	"github.com/optcoord/optcoord/pkg/types"
)

// Future is the caller's handle to a batched result. It resolves to the
// positional result of the flush that included the request, or to the
// batch-wide error.
type Future struct {
	done  chan struct{}
	value types.Value
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the future resolves or ctx is canceled. Cancellation
// only abandons the wait: the batched computation keeps running and the
// request is not removed from its batch.
func (f *Future) Wait(ctx context.Context) (types.Value, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

func (f *Future) resolve(value types.Value, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// item is one queued request with its result future.
type item struct {
	id  string
	req *types.Request
	fut *Future
}

// pendingBatch accumulates items for one coarse key until the flush timer
// fires or the batch reaches MaxBatchSize.
type pendingBatch struct {
	key       string
	items     []*item
	timer     *time.Timer
	processor types.BatchComputeFunc
	armedAt   time.Time
}

// FlushObserver is invoked once per flush with the batch size, processing
// duration, and outcome. Used by the coordinator to record one aggregate
// metric per flush.
type FlushObserver func(size int, duration time.Duration, err error)

// Processor coalesces concurrent requests that share a coarse key into one
// downstream call and fans the positional results back out to the callers.
type Processor struct {
	config config.BatchConfig
	logger *zap.Logger

	mu      sync.Mutex
	batches map[string]*pendingBatch
	started bool

	sem     chan struct{}
	wg      sync.WaitGroup
	onFlush FlushObserver

	totalItems   int64
	flushedItems int64
	batchCount   int64
	flushCount   int64
	errorCount   int64
}

// NewProcessor creates a batch processor. Call Start before submitting.
func NewProcessor(cfg config.BatchConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		config:  cfg,
		logger:  logger.Named("batch"),
		batches: make(map[string]*pendingBatch),
		sem:     make(chan struct{}, cfg.MaxConcurrency),
	}
}

// OnFlush registers the flush observer. Must be called before Start.
func (p *Processor) OnFlush(fn FlushObserver) {
	p.onFlush = fn
}

// Start enables submissions.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New(errors.ErrCodeAlreadyStarted, "batch processor already started")
	}
	p.started = true
	return nil
}

// Stop flushes every pending batch synchronously and rejects further
// submissions.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return errors.New(errors.ErrCodeNotStarted, "batch processor not started")
	}
	p.started = false

	remaining := make([]*pendingBatch, 0, len(p.batches))
	for key, b := range p.batches {
		b.timer.Stop()
		remaining = append(remaining, b)
		delete(p.batches, key)
	}
	p.mu.Unlock()

	for _, b := range remaining {
		p.wg.Add(1)
		go p.process(b)
	}
	p.wg.Wait()
	return nil
}

// Submit queues req under the coarse key produced by keyFn. The first item
// for a key arms exactly one flush timer; reaching MaxBatchSize flushes
// immediately and disarms it. The returned future resolves after the flush.
func (p *Processor) Submit(req *types.Request, keyFn func(*types.Request) string, processor types.BatchComputeFunc) (*Future, error) {
	key := keyFn(req)

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrCodeNotStarted, "batch processor not started")
	}

	b, ok := p.batches[key]
	if !ok {
		b = &pendingBatch{
			key:       key,
			processor: processor,
			armedAt:   time.Now(),
		}
		b.timer = time.AfterFunc(p.config.Timeout, func() {
			p.flushKey(key)
		})
		p.batches[key] = b
	}

	it := &item{
		id:  uuid.NewString(),
		req: req,
		fut: newFuture(),
	}
	b.items = append(b.items, it)
	p.totalItems++

	if len(b.items) >= p.config.MaxBatchSize {
		// Size-triggered flush: disarm the timer and detach the batch so
		// new arrivals for this key start fresh.
		b.timer.Stop()
		delete(p.batches, key)
		p.wg.Add(1)
		go p.process(b)
	}
	p.mu.Unlock()

	return it.fut, nil
}

// flushKey is the timer-triggered flush path. The batch may already be gone
// if a size-triggered flush won the race.
func (p *Processor) flushKey(key string) {
	p.mu.Lock()
	b, ok := p.batches[key]
	if ok {
		delete(p.batches, key)
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if ok {
		go p.process(b)
	}
}

// process invokes the downstream processor once for the whole batch and
// resolves every future. On error the entire batch rejects with the same
// error; there is no partial success.
func (p *Processor) process(b *pendingBatch) {
	defer p.wg.Done()

	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	reqs := make([]*types.Request, len(b.items))
	for i, it := range b.items {
		reqs[i] = it.req
	}

	start := time.Now()
	results, err := b.processor(context.Background(), reqs)
	elapsed := time.Since(start)

	if err == nil && len(results) != len(reqs) {
		err = errors.Newf(errors.ErrCodeResultShape,
			"processor returned %d results for %d requests", len(results), len(reqs))
	}

	p.mu.Lock()
	p.batchCount++
	p.flushCount++
	p.flushedItems += int64(len(b.items))
	if err != nil {
		p.errorCount++
	}
	p.mu.Unlock()

	if err != nil {
		ids := make([]string, len(b.items))
		for i, it := range b.items {
			ids[i] = it.id
		}
		wrapped := errors.Wrap(errors.ErrCodeBatchFailed, "batch processing failed", err).
			WithContext("batch_key", b.key).
			WithContext("item_ids", strings.Join(ids, ","))
		p.logger.Warn("batch failed",
			zap.String("key", b.key),
			zap.Int("size", len(b.items)),
			zap.Strings("item_ids", ids),
			zap.Error(err))
		for _, it := range b.items {
			it.fut.resolve(nil, wrapped)
		}
	} else {
		for i, it := range b.items {
			it.fut.resolve(results[i], nil)
		}
	}

	if p.onFlush != nil {
		p.onFlush(len(b.items), elapsed, err)
	}

	p.logger.Debug("flushed batch",
		zap.String("key", b.key),
		zap.Int("size", len(b.items)),
		zap.Duration("waited", start.Sub(b.armedAt)),
		zap.Duration("elapsed", elapsed))
}

// GetStats returns a snapshot of processor statistics.
func (p *Processor) GetStats() types.BatchStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := types.BatchStats{
		TotalItems: p.totalItems,
		BatchCount: p.batchCount,
		FlushCount: p.flushCount,
		ErrorCount: p.errorCount,
	}
	if p.batchCount > 0 {
		stats.AverageBatchSize = float64(p.flushedItems) / float64(p.batchCount)
	}
	return stats
}
