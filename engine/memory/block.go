package memory

import "github.com/spaghettifunk/anima-gpu/engine/core"

// BlockAllocator hands out fixed size chunks of a region. Free chunks are
// kept on a stack so the lowest offsets are handed out first on a fresh
// allocator.
type BlockAllocator struct {
	chunkSize  uint64
	chunkCount uint64
	empty      []uint64
	free       []bool
}

func NewBlockAllocator(chunkSize, chunkCount uint64) *BlockAllocator {
	if chunkSize == 0 {
		core.LogPanic("block allocator chunk size must not be zero")
	}
	a := &BlockAllocator{
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		empty:      make([]uint64, 0, chunkCount),
		free:       make([]bool, chunkCount),
	}
	for i := chunkCount; i > 0; i-- {
		a.empty = append(a.empty, i-1)
		a.free[i-1] = true
	}
	return a
}

// Allocate returns the offset of a free chunk or false when all chunks are in use.
func (a *BlockAllocator) Allocate() (uint64, bool) {
	n := len(a.empty)
	if n == 0 {
		return 0, false
	}
	slot := a.empty[n-1]
	a.empty = a.empty[:n-1]
	a.free[slot] = false
	return slot * a.chunkSize, true
}

// Deallocate returns the chunk at offset. Foreign offsets and double frees
// are fatal.
func (a *BlockAllocator) Deallocate(offset uint64) {
	index := offset / a.chunkSize
	if index >= a.chunkCount || offset%a.chunkSize != 0 {
		core.LogPanic("offset %d does not belong to block allocator (chunk %d x %d)", offset, a.chunkSize, a.chunkCount)
	}
	if a.free[index] {
		core.LogPanic("double free of block at offset %d", offset)
	}
	a.free[index] = true
	a.empty = append(a.empty, index)
}

// Allocated is the number of chunks currently in use.
func (a *BlockAllocator) Allocated() uint64 {
	return a.chunkCount - uint64(len(a.empty))
}

func (a *BlockAllocator) ChunkSize() uint64 {
	return a.chunkSize
}

func (a *BlockAllocator) ChunkCount() uint64 {
	return a.chunkCount
}
