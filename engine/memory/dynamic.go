package memory

import (
	"fmt"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// Block is one extent of a DynamicAllocator region.
type Block struct {
	Offset uint64
	Size   uint64
	Used   bool
}

func (b Block) String() string {
	state := "free"
	if b.Used {
		state = "used"
	}
	return fmt.Sprintf("%s[%d+%d]", state, b.Offset, b.Size)
}

// DynamicAllocator is a free list allocator over a fixed region. Extents are
// kept sorted by offset; adjacent free extents are always merged. It needs
// external synchronization.
type DynamicAllocator struct {
	size        uint64
	granularity uint64
	blocks      []Block
}

func NewDynamicAllocator(size, granularity uint64) *DynamicAllocator {
	if !core.IsPowerOfTwo(granularity) {
		core.LogPanic("dynamic allocator granularity %d is not a power of two", granularity)
	}
	blocks := make([]Block, 1, 256)
	blocks[0] = Block{Offset: 0, Size: size}
	return &DynamicAllocator{
		size:        size,
		granularity: granularity,
		blocks:      blocks,
	}
}

// Allocate takes the first free extent large enough for size, rounded up to
// the granularity, and returns its offset.
func (a *DynamicAllocator) Allocate(size uint64) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	size = core.Align(size, a.granularity)
	for i := range a.blocks {
		if !a.blocks[i].Used && a.blocks[i].Size >= size {
			return a.split(i, size), true
		}
	}
	return 0, false
}

// AllocateBack takes the last free extent large enough for size and carves
// the allocation from its end.
func (a *DynamicAllocator) AllocateBack(size uint64) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	size = core.Align(size, a.granularity)
	for i := len(a.blocks) - 1; i >= 0; i-- {
		if !a.blocks[i].Used && a.blocks[i].Size >= size {
			return a.splitEnd(i, size), true
		}
	}
	return 0, false
}

// Deallocate frees the extent starting at offset. Freeing an offset that is
// not the start of a used extent is fatal.
func (a *DynamicAllocator) Deallocate(offset uint64) {
	for i := range a.blocks {
		if a.blocks[i].Used && a.blocks[i].Offset == offset {
			a.blocks[i].Used = false
			a.merge(i)
			return
		}
	}
	core.LogPanic("attempt to free already freed block or block from different allocator (offset %d)", offset)
}

func (a *DynamicAllocator) split(index int, size uint64) uint64 {
	block := a.blocks[index]
	rest := block.Size - size
	a.blocks[index] = Block{Offset: block.Offset, Size: size, Used: true}
	if rest > 0 {
		a.insert(index+1, Block{Offset: block.Offset + size, Size: rest})
	}
	return block.Offset
}

func (a *DynamicAllocator) splitEnd(index int, size uint64) uint64 {
	block := a.blocks[index]
	rest := block.Size - size
	a.blocks[index] = Block{Offset: block.Offset + rest, Size: size, Used: true}
	if rest > 0 {
		a.insert(index, Block{Offset: block.Offset, Size: rest})
	}
	return block.Offset + rest
}

func (a *DynamicAllocator) insert(index int, block Block) {
	a.blocks = append(a.blocks, Block{})
	copy(a.blocks[index+1:], a.blocks[index:])
	a.blocks[index] = block
}

func (a *DynamicAllocator) merge(index int) {
	for index > 0 && !a.blocks[index-1].Used {
		index--
	}
	for index+1 < len(a.blocks) && !a.blocks[index+1].Used {
		a.blocks[index].Size += a.blocks[index+1].Size
		a.blocks = append(a.blocks[:index+1], a.blocks[index+2:]...)
	}
}

// Blocks returns a snapshot of the extent list in offset order.
func (a *DynamicAllocator) Blocks() []Block {
	out := make([]Block, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// FreeSize is the sum of all free extents.
func (a *DynamicAllocator) FreeSize() uint64 {
	var free uint64
	for _, b := range a.blocks {
		if !b.Used {
			free += b.Size
		}
	}
	return free
}

func (a *DynamicAllocator) Size() uint64 {
	return a.size
}

func (a *DynamicAllocator) Granularity() uint64 {
	return a.granularity
}
