// Package pool reuses fixed-shape numeric buffers, bounded per bucket and
// shed under memory pressure.
package pool

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/types"
)

// ElementType identifies the numeric element type of a pooled buffer.
type ElementType int

const (
	Float32 ElementType = iota
	Float64
	Int32
)

// String returns the string representation of the element type
func (e ElementType) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-shape numeric buffer. The caller owns it between
// Acquire and Release; the pool owns it while idle.
type Buffer struct {
	Shape []int
	Type  ElementType
	Tag   string

	f32 []float32
	f64 []float64
	i32 []int32
}

// Len returns the element count (the product of the shape dimensions).
func (b *Buffer) Len() int {
	n := 1
	for _, d := range b.Shape {
		n *= d
	}
	return n
}

// Float32s returns the backing float32 slice, or nil for other types.
func (b *Buffer) Float32s() []float32 { return b.f32 }

// Float64s returns the backing float64 slice, or nil for other types.
func (b *Buffer) Float64s() []float64 { return b.f64 }

// Int32s returns the backing int32 slice, or nil for other types.
func (b *Buffer) Int32s() []int32 { return b.i32 }

func (b *Buffer) zero() {
	for i := range b.f32 {
		b.f32[i] = 0
	}
	for i := range b.f64 {
		b.f64[i] = 0
	}
	for i := range b.i32 {
		b.i32[i] = 0
	}
}

// bucketKey is the composite pooling key: shape x element type x tag.
func bucketKey(shape []int, et ElementType, tag string) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(dims, "x") + ":" + et.String() + ":" + tag
}

// ResourcePool reuses fixed-shape numeric buffers to avoid allocation churn.
// Each bucket holds at most MaxPoolSize idle buffers; excess releases are
// disposed instead of growing the pool unbounded.
type ResourcePool struct {
	mu      sync.Mutex
	buckets map[string][]*Buffer
	config  config.PoolConfig
	logger  *zap.Logger

	acquires  uint64
	reuses    uint64
	releases  uint64
	disposals uint64

	// disposeHook, when set, observes every disposed buffer. Used by tests
	// and gauges.
	disposeHook func(*Buffer)
}

// NewResourcePool creates an empty pool.
func NewResourcePool(cfg config.PoolConfig, logger *zap.Logger) *ResourcePool {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResourcePool{
		buckets: make(map[string][]*Buffer),
		config:  cfg,
		logger:  logger.Named("pool"),
	}
}

// OnDispose registers an observer invoked for every disposed buffer.
func (p *ResourcePool) OnDispose(fn func(*Buffer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposeHook = fn
}

// Acquire returns an idle buffer for the composite key, zeroed for reuse,
// or allocates a fresh one when the bucket is empty.
func (p *ResourcePool) Acquire(shape []int, et ElementType, tag string) *Buffer {
	key := bucketKey(shape, et, tag)

	p.mu.Lock()
	p.acquires++
	bucket := p.buckets[key]
	if n := len(bucket); n > 0 {
		buf := bucket[n-1]
		p.buckets[key] = bucket[:n-1]
		p.reuses++
		p.mu.Unlock()

		buf.zero()
		return buf
	}
	p.mu.Unlock()

	return allocate(shape, et, tag)
}

func allocate(shape []int, et ElementType, tag string) *Buffer {
	buf := &Buffer{
		Shape: append([]int(nil), shape...),
		Type:  et,
		Tag:   tag,
	}
	switch et {
	case Float32:
		buf.f32 = make([]float32, buf.Len())
	case Float64:
		buf.f64 = make([]float64, buf.Len())
	case Int32:
		buf.i32 = make([]int32, buf.Len())
	}
	return buf
}

// Release returns a buffer to its bucket, or disposes it when the bucket is
// already at MaxPoolSize.
func (p *ResourcePool) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	key := bucketKey(buf.Shape, buf.Type, buf.Tag)

	p.mu.Lock()
	p.releases++
	if len(p.buckets[key]) < p.config.MaxPoolSize {
		p.buckets[key] = append(p.buckets[key], buf)
		p.mu.Unlock()
		return
	}
	p.disposals++
	hook := p.disposeHook
	p.mu.Unlock()

	if hook != nil {
		hook(buf)
	}
}

// Cleanup drains every bucket down to a target size: zero when aggressive,
// otherwise half of MaxPoolSize.
func (p *ResourcePool) Cleanup(aggressive bool) {
	target := p.config.MaxPoolSize / 2
	if aggressive {
		target = 0
	}

	p.mu.Lock()
	var dropped []*Buffer
	for key, bucket := range p.buckets {
		if len(bucket) > target {
			dropped = append(dropped, bucket[target:]...)
			p.buckets[key] = bucket[:target]
		}
	}
	p.disposals += uint64(len(dropped))
	hook := p.disposeHook
	p.mu.Unlock()

	if hook != nil {
		for _, buf := range dropped {
			hook(buf)
		}
	}

	if len(dropped) > 0 {
		p.logger.Debug("pool cleanup",
			zap.Bool("aggressive", aggressive),
			zap.Int("disposed", len(dropped)))
	}
}

// PooledCount returns the total number of idle buffers across all buckets.
func (p *ResourcePool) PooledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, bucket := range p.buckets {
		total += len(bucket)
	}
	return total
}

// Stats returns a snapshot of pool statistics.
func (p *ResourcePool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	sizes := make(map[string]int, len(p.buckets))
	total := 0
	for key, bucket := range p.buckets {
		sizes[key] = len(bucket)
		total += len(bucket)
	}

	return types.PoolStats{
		PooledResources: total,
		BucketSizes:     sizes,
		Acquires:        p.acquires,
		Reuses:          p.reuses,
		Releases:        p.releases,
		Disposals:       p.disposals,
	}
}
