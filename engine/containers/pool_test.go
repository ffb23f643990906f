package containers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPool = Pool[uint32, int32]

func TestHandlePacking(t *testing.T) {
	handle := NewHandle[uint32, int32](100, 10)
	assert.Equal(t, uint32(100), handle.Index())
	assert.Equal(t, uint32(10), handle.Generation())
	assert.True(t, handle.IsValid())
	assert.Equal(t, handle, HandleFromRaw[uint32, int32](handle.Raw()))

	assert.False(t, Invalid[uint32, int32]().IsValid())
	assert.Equal(t, ^uint32(0), Invalid[uint32, int32]().Raw())

	assert.Panics(t, func() { NewHandle[uint32, int32](MaxIndex, 0) })
	assert.Panics(t, func() { NewHandle[uint32, int32](0, MaxGeneration) })
}

func TestPoolPushGet(t *testing.T) {
	pool := NewPool[uint32, int32]()
	h1 := pool.Push(1, -1)
	h2 := pool.Push(2, -2)
	h3 := pool.Push(3, -3)

	for i, h := range []Handle[uint32, int32]{h1, h2, h3} {
		hot, cold, ok := pool.Get(h)
		require.True(t, ok)
		assert.Equal(t, uint32(i+1), hot)
		assert.Equal(t, int32(-(i + 1)), cold)
	}

	hot, ok := pool.GetHot(h2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), hot)
	cold, ok := pool.GetCold(h3)
	require.True(t, ok)
	assert.Equal(t, int32(-3), cold)
	assert.Equal(t, 3, pool.Len())
}

func TestPoolReuseSlot(t *testing.T) {
	pool := NewPool[uint32, int32]()
	handle := pool.Push(1, -1)
	_, _, ok := pool.Remove(handle)
	require.True(t, ok)

	handle = pool.Push(2, -2)
	assert.Equal(t, uint32(0), handle.Index())
	assert.Equal(t, uint32(1), handle.Generation())
	hot, cold, ok := pool.Get(handle)
	require.True(t, ok)
	assert.Equal(t, uint32(2), hot)
	assert.Equal(t, int32(-2), cold)
}

func TestPoolReuseIsLIFO(t *testing.T) {
	pool := NewPool[uint32, int32]()
	a := pool.Push(1, -1)
	b := pool.Push(2, -2)
	pool.Push(3, -3)
	pool.Remove(a)
	pool.Remove(b)

	assert.Equal(t, b.Index(), pool.Push(4, -4).Index())
	assert.Equal(t, a.Index(), pool.Push(5, -5).Index())
}

func TestPoolStaleHandle(t *testing.T) {
	pool := NewPool[uint32, int32]()
	h1 := pool.Push(1, -1)
	hot, cold, ok := pool.Remove(h1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), hot)
	assert.Equal(t, int32(-1), cold)

	h2 := pool.Push(2, -2)
	_, _, ok = pool.Get(h1)
	assert.False(t, ok)
	_, ok = pool.GetHot(h1)
	assert.False(t, ok)
	_, ok = pool.GetCold(h1)
	assert.False(t, ok)
	assert.Nil(t, pool.GetHotPtr(h1))
	assert.Nil(t, pool.GetColdPtr(h1))
	_, _, ok = pool.Replace(h1, 9, -9)
	assert.False(t, ok)

	// Double remove is a silent no-op.
	_, _, ok = pool.Remove(h1)
	assert.False(t, ok)

	hot, _, ok = pool.Get(h2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), hot)
}

func TestPoolOutOfRangeAndInvalid(t *testing.T) {
	pool := NewPool[uint32, int32]()
	pool.Push(1, -1)

	_, _, ok := pool.Get(NewHandle[uint32, int32](42, 0))
	assert.False(t, ok)
	_, _, ok = pool.Get(Invalid[uint32, int32]())
	assert.False(t, ok)
	_, _, ok = pool.Remove(Invalid[uint32, int32]())
	assert.False(t, ok)
}

func TestPoolGenerationWraps(t *testing.T) {
	pool := NewPool[uint32, int32]()
	first := pool.Push(0, 0)
	handle := first
	for i := 0; i < MaxGeneration; i++ {
		pool.Remove(handle)
		handle = pool.Push(uint32(i), 0)
	}
	assert.Equal(t, first.Index(), handle.Index())
	assert.Equal(t, uint32(0), handle.Generation())
	assert.True(t, pool.IsHandleValid(first), "generation space wrapped")
}

func TestPoolMutateByHandle(t *testing.T) {
	pool := NewPool[uint32, int32]()
	handle := pool.Push(1, -1)

	oldHot, oldCold, ok := pool.Replace(handle, 2, -2)
	require.True(t, ok)
	assert.Equal(t, uint32(1), oldHot)
	assert.Equal(t, int32(-1), oldCold)

	prevHot, ok := pool.ReplaceHot(handle, 3)
	require.True(t, ok)
	assert.Equal(t, uint32(2), prevHot)
	prevCold, ok := pool.ReplaceCold(handle, -3)
	require.True(t, ok)
	assert.Equal(t, int32(-2), prevCold)

	*pool.GetHotPtr(handle) += 1
	*pool.GetColdPtr(handle) -= 1

	hot, cold, ok := pool.Get(handle)
	require.True(t, ok)
	assert.Equal(t, uint32(4), hot)
	assert.Equal(t, int32(-4), cold)
	assert.True(t, pool.IsHandleValid(handle))
}

func collect(p *testPool) ([]uint32, []int32) {
	var hots []uint32
	var colds []int32
	for hot, cold := range p.All() {
		hots = append(hots, hot)
		colds = append(colds, cold)
	}
	return hots, colds
}

func TestPoolIterate(t *testing.T) {
	pool := NewPool[uint32, int32]()
	hots, _ := collect(pool)
	assert.Empty(t, hots)

	pool.Push(1, -1)
	hole := pool.Push(2, -2)
	pool.Push(3, -3)
	pool.Remove(hole)

	hots, colds := collect(pool)
	assert.Equal(t, []uint32{1, 3}, hots)
	assert.Equal(t, []int32{-1, -3}, colds)

	var handles []uint32
	for h := range pool.Handles() {
		handles = append(handles, h.Index())
	}
	assert.Equal(t, []uint32{0, 2}, handles)
}

func TestPoolIterateStopsEarly(t *testing.T) {
	pool := NewPool[uint32, int32]()
	for i := uint32(0); i < 10; i++ {
		pool.Push(i, 0)
	}
	seen := 0
	for range pool.All() {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestPoolDrain(t *testing.T) {
	pool := NewPool[uint32, int32]()
	h1 := pool.Push(1, -1)
	pool.Push(2, -2)
	pool.Push(3, -3)

	var drained []uint32
	for hot := range pool.Drain() {
		drained = append(drained, hot)
	}
	assert.Equal(t, []uint32{1, 2, 3}, drained)
	assert.Zero(t, pool.Len())
	hots, _ := collect(pool)
	assert.Empty(t, hots)

	h := pool.Push(4, -4)
	assert.Equal(t, uint32(0), h.Index())
	assert.False(t, pool.IsHandleValid(h1))
	assert.True(t, pool.IsHandleValid(h))
}

func TestPoolTryPushExhausted(t *testing.T) {
	pool := &testPool{generations: make([]uint32, MaxIndex), occupied: make([]bool, MaxIndex),
		hot: make([]uint32, MaxIndex), cold: make([]int32, MaxIndex)}

	handle, ok := pool.TryPush(1, -1)
	assert.False(t, ok)
	assert.False(t, handle.IsValid())
	assert.Panics(t, func() { pool.Push(1, -1) })
}

// Random push/remove sequences keep every live handle resolvable, every
// removed handle dead and All in step with the live set.
func TestPoolRandomChurn(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := NewPool[uint32, int32]()
	live := map[Handle[uint32, int32]]uint32{}
	var dead []Handle[uint32, int32]
	pushed, removed := 0, 0

	for step := uint32(0); step < 5000; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			h := pool.Push(step, int32(step))
			require.True(t, pool.IsHandleValid(h))
			live[h] = step
			pushed++
			continue
		}
		for h := range live {
			_, _, ok := pool.Remove(h)
			require.True(t, ok)
			require.False(t, pool.IsHandleValid(h))
			delete(live, h)
			dead = append(dead, h)
			removed++
			break
		}
	}

	for h, v := range live {
		hot, ok := pool.GetHot(h)
		require.True(t, ok)
		require.Equal(t, v, hot)
	}
	for _, h := range dead {
		_, _, ok := pool.Get(h)
		require.False(t, ok)
	}

	hots, _ := collect(pool)
	assert.Len(t, hots, pushed-removed)
	assert.Equal(t, pushed-removed, pool.Len())
	prev := -1
	for h := range pool.Handles() {
		require.Greater(t, int(h.Index()), prev)
		prev = int(h.Index())
	}
}

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](2)
	assert.True(t, rq.IsEmpty())
	_, err := rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(3))
	assert.Equal(t, 2, rq.Len())

	v, _ = rq.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = rq.Dequeue()
	assert.Equal(t, 3, v)
	assert.True(t, rq.IsEmpty())
}
