package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/types"
)

func testPool(maxSize int) *ResourcePool {
	return NewResourcePool(config.PoolConfig{MaxPoolSize: maxSize}, nil)
}

func TestAcquireAllocates(t *testing.T) {
	p := testPool(4)

	buf := p.Acquire([]int{2, 3}, Float64, "weights")
	require.NotNil(t, buf)
	assert.Equal(t, 6, buf.Len())
	assert.Len(t, buf.Float64s(), 6)
	assert.Nil(t, buf.Float32s())
	assert.Equal(t, "weights", buf.Tag)
}

func TestReleaseThenReuse(t *testing.T) {
	p := testPool(4)

	buf := p.Acquire([]int{4}, Float32, "features")
	buf.Float32s()[0] = 42

	p.Release(buf)
	again := p.Acquire([]int{4}, Float32, "features")

	assert.Same(t, buf, again, "idle buffer should be reused")
	assert.Equal(t, float32(0), again.Float32s()[0], "reused buffer must be zeroed")

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Acquires)
	assert.Equal(t, uint64(1), stats.Reuses)
}

func TestBucketsAreDistinct(t *testing.T) {
	p := testPool(4)

	a := p.Acquire([]int{4}, Float64, "a")
	b := p.Acquire([]int{4}, Float64, "b")
	p.Release(a)

	got := p.Acquire([]int{4}, Float64, "b")
	assert.NotSame(t, a, got, "tags partition buckets")
	p.Release(b)
	p.Release(got)

	shaped := p.Acquire([]int{2, 2}, Float64, "a")
	assert.NotSame(t, a, shaped, "shape partitions buckets even with equal length")
}

func TestReleaseBound(t *testing.T) {
	p := testPool(2)

	var disposed int32
	p.OnDispose(func(*Buffer) { atomic.AddInt32(&disposed, 1) })

	bufs := make([]*Buffer, 5)
	for i := range bufs {
		bufs[i] = p.Acquire([]int{8}, Int32, "scratch")
	}
	for _, b := range bufs {
		p.Release(b)
	}

	assert.Equal(t, 2, p.PooledCount(), "bucket never exceeds MaxPoolSize")
	assert.Equal(t, int32(3), atomic.LoadInt32(&disposed), "excess releases dispose")

	stats := p.Stats()
	assert.Equal(t, uint64(5), stats.Releases)
	assert.Equal(t, uint64(3), stats.Disposals)
}

func TestCleanup(t *testing.T) {
	p := testPool(8)

	bufs := make([]*Buffer, 8)
	for i := range bufs {
		bufs[i] = p.Acquire([]int{4}, Float64, "w")
	}
	for _, b := range bufs {
		p.Release(b)
	}
	require.Equal(t, 8, p.PooledCount())

	p.Cleanup(false)
	assert.Equal(t, 4, p.PooledCount(), "moderate cleanup drains to half of MaxPoolSize")

	p.Cleanup(true)
	assert.Equal(t, 0, p.PooledCount(), "aggressive cleanup drains everything")
}

type stubPressure struct {
	level atomic.Int32
}

func (s *stubPressure) Pressure() types.PressureLevel {
	return types.PressureLevel(s.level.Load())
}

func TestCreateBufferUnderPressure(t *testing.T) {
	p := testPool(4)
	src := &stubPressure{}
	ops := NewOps(p, src, 2, nil)

	bufs := make([]*Buffer, 4)
	for i := range bufs {
		bufs[i] = p.Acquire([]int{4}, Float64, "w")
	}
	for _, b := range bufs {
		p.Release(b)
	}
	require.Equal(t, 4, p.PooledCount())

	src.level.Store(int32(types.PressureCritical))
	buf := ops.CreateBuffer([]int{4}, Float64, "w")
	require.NotNil(t, buf)
	assert.Equal(t, 0, p.PooledCount(), "critical pressure drains the pool before allocating")
}

func TestRunBatchedCoversAllIndices(t *testing.T) {
	p := testPool(4)
	ops := NewOps(p, &stubPressure{}, 3, nil)

	var mu sync.Mutex
	seen := make(map[int]bool)

	err := ops.RunBatched(context.Background(), 25, 4, func(_ context.Context, start, end int) error {
		mu.Lock()
		defer mu.Unlock()
		for i := start; i < end; i++ {
			require.False(t, seen[i], "index %d processed twice", i)
			seen[i] = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 25)
}

func TestRunBatchedPropagatesError(t *testing.T) {
	p := testPool(4)
	ops := NewOps(p, &stubPressure{}, 1, nil)

	boom := fmt.Errorf("chunk failed")
	err := ops.RunBatched(context.Background(), 10, 2, func(_ context.Context, start, _ int) error {
		if start >= 4 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunBatchedEmpty(t *testing.T) {
	ops := NewOps(testPool(1), &stubPressure{}, 1, nil)
	err := ops.RunBatched(context.Background(), 0, 4, func(context.Context, int, int) error {
		t.Fatal("fn must not run for empty input")
		return nil
	})
	assert.NoError(t, err)
}
