package memory

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// RingAllocator is a lock free wrap-around allocator. It does not track
// what is still in use: callers must not wrap over regions the GPU still
// reads.
type RingAllocator struct {
	size      uint64
	alignment uint64
	head      atomic.Uint64
}

func NewRingAllocator(size, alignment uint64) *RingAllocator {
	if !core.IsPowerOfTwo(alignment) {
		core.LogPanic("ring allocator alignment %d is not a power of two", alignment)
	}
	return &RingAllocator{
		size:      size,
		alignment: alignment,
	}
}

// Allocate returns the offset of size bytes. When the aligned request does
// not fit before the end of the ring it is placed at offset zero.
func (r *RingAllocator) Allocate(size uint64) uint64 {
	if size > r.size {
		core.LogPanic("ring allocation of %d bytes exceeds ring size %d", size, r.size)
	}
	aligned := core.Align(size, r.alignment)
	for {
		oldHead := r.head.Load()
		start, newHead := oldHead, oldHead+aligned
		if newHead > r.size {
			start, newHead = 0, aligned
		}
		if r.head.CompareAndSwap(oldHead, newHead) {
			return start
		}
	}
}

func (r *RingAllocator) Size() uint64 {
	return r.size
}
