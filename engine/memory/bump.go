package memory

import "github.com/spaghettifunk/anima-gpu/engine/core"

// BumpAllocator hands out monotonically increasing offsets inside a fixed
// region. Memory is only reclaimed by Reset. It needs external
// synchronization.
type BumpAllocator struct {
	size      uint64
	alignment uint64
	top       uint64
}

func NewBumpAllocator(size, alignment uint64) *BumpAllocator {
	if !core.IsPowerOfTwo(alignment) {
		core.LogPanic("bump allocator alignment %d is not a power of two", alignment)
	}
	return &BumpAllocator{
		size:      size,
		alignment: alignment,
	}
}

// Allocate returns the aligned offset of a new region of the given size or
// false when the region does not fit.
func (a *BumpAllocator) Allocate(size uint64) (uint64, bool) {
	base := core.Align(a.top, a.alignment)
	if base+size > a.size || base+size < base {
		return 0, false
	}
	a.top = base + size
	return base, true
}

func (a *BumpAllocator) Reset() {
	a.top = 0
}

// Used is the number of bytes consumed so far, alignment padding included.
func (a *BumpAllocator) Used() uint64 {
	return a.top
}

func (a *BumpAllocator) Size() uint64 {
	return a.size
}
