package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/memory"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// arena is one "device memory object". The shared arena is carved up by a
// dynamic allocator, dedicated arenas back exactly one block.
type arena struct {
	data  []byte
	alloc *memory.DynamicAllocator
	live  int
}

// MemoryAllocator hands out blocks of arena memory. Device local requests
// are placed at the front of the shared arena and host visible ones at the
// back, keeping the two populations from fragmenting each other.
type MemoryAllocator struct {
	backend *Backend
	shared  metadata.RawMemory
	arenas  map[metadata.RawMemory]*arena
	mapped  uint64
}

// mapLocked maps a new arena within the heap budget. b.mu must be held.
func (m *MemoryAllocator) mapLocked(size uint64) ([]byte, error) {
	heap := m.backend.cfg.HeapSize
	if m.mapped+size > heap || m.mapped+size < size {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "heap exhausted (%d of %d bytes mapped, %d requested)", m.mapped, heap, size)
	}
	data, err := mapArena(size)
	if err != nil {
		return nil, errors.Mark(err, core.ErrOutOfMemory)
	}
	m.mapped += size
	return data, nil
}

func (m *MemoryAllocator) Allocate(req metadata.MemoryRequest) (metadata.MemoryBlock, error) {
	b := m.backend
	if req.Size == 0 {
		return metadata.MemoryBlock{}, errors.Wrap(core.ErrNotSupported, "zero sized allocation")
	}
	if req.Alignment != 0 && !core.IsPowerOfTwo(req.Alignment) {
		return metadata.MemoryBlock{}, errors.Wrapf(core.ErrNotSupported, "alignment %d", req.Alignment)
	}

	memoryType := uint32(memoryTypeDeviceLocal)
	if req.Usage.HostVisible() {
		memoryType = memoryTypeHostVisible
	}
	if req.MemoryTypeBits != 0 && req.MemoryTypeBits&(1<<memoryType) == 0 {
		return metadata.MemoryBlock{}, errors.Wrapf(core.ErrNotSupported,
			"no memory type for usage %s in bits %#b", req.Usage, req.MemoryTypeBits)
	}

	block := metadata.MemoryBlock{
		Size:         req.Size,
		Usage:        req.Usage,
		MemoryType:   memoryType,
		HostCoherent: true,
	}
	if req.Dedicated || req.Alignment > b.cfg.Granularity || req.Size > b.cfg.ArenaSize/2 {
		return m.allocateDedicated(block)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if m.shared == 0 {
		data, err := m.mapLocked(b.cfg.ArenaSize)
		if err != nil {
			return metadata.MemoryBlock{}, err
		}
		m.shared = metadata.RawMemory(b.id())
		m.arenas[m.shared] = &arena{data: data, alloc: memory.NewDynamicAllocator(b.cfg.ArenaSize, b.cfg.Granularity)}
		core.LogDebug("soft: shared arena %d mapped (%d bytes)", m.shared, b.cfg.ArenaSize)
	}
	shared := m.arenas[m.shared]

	var (
		offset uint64
		ok     bool
	)
	if memoryType == memoryTypeHostVisible {
		offset, ok = shared.alloc.AllocateBack(req.Size)
	} else {
		offset, ok = shared.alloc.Allocate(req.Size)
	}
	if !ok {
		return metadata.MemoryBlock{}, errors.Wrapf(core.ErrOutOfMemory,
			"shared arena cannot fit %d bytes (%d free)", req.Size, shared.alloc.FreeSize())
	}
	shared.live++
	block.Memory = m.shared
	block.Offset = offset
	return block, nil
}

func (m *MemoryAllocator) allocateDedicated(block metadata.MemoryBlock) (metadata.MemoryBlock, error) {
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := m.mapLocked(block.Size)
	if err != nil {
		return metadata.MemoryBlock{}, errors.Wrap(err, "dedicated allocation")
	}
	block.Memory = metadata.RawMemory(b.id())
	block.Dedicated = true
	m.arenas[block.Memory] = &arena{data: data, live: 1}
	return block, nil
}

// Map returns the bytes of a host visible block. The slice stays valid until
// the block is freed.
func (m *MemoryAllocator) Map(block metadata.MemoryBlock) ([]byte, error) {
	if block.MemoryType != memoryTypeHostVisible {
		return nil, errors.Wrapf(core.ErrNotSupported, "%s is not host visible", block)
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	a, ok := m.arenas[block.Memory]
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "memory %d", block.Memory)
	}
	end := block.Offset + block.Size
	if end > uint64(len(a.data)) {
		return nil, errors.Newf("%s exceeds arena of %d bytes", block, len(a.data))
	}
	return a.data[block.Offset:end:end], nil
}

func (m *MemoryAllocator) Free(block metadata.MemoryBlock) {
	b := m.backend
	b.mu.Lock()
	a, ok := m.arenas[block.Memory]
	if !ok {
		b.mu.Unlock()
		core.LogPanic("freeing %s from unknown memory", block)
	}
	if owner, bound := b.bindings[bindingKey{block.Memory, block.Offset}]; bound {
		b.mu.Unlock()
		core.LogPanic("freeing %s still bound to object %d", block, owner)
	}
	if a.alloc == nil {
		delete(m.arenas, block.Memory)
		delete(b.names, uint64(block.Memory))
		m.mapped -= uint64(len(a.data))
		b.mu.Unlock()
		if err := unmapArena(a.data); err != nil {
			core.LogError("failed to unmap dedicated memory %d: %v", block.Memory, err)
		}
		return
	}
	defer b.mu.Unlock()
	a.alloc.Deallocate(block.Offset)
	a.live--
}

// Cleanup releases the shared arena. Blocks still allocated at this point
// are leaks and are reported.
func (m *MemoryAllocator) Cleanup() {
	b := m.backend
	b.mu.Lock()
	arenas := m.arenas
	m.arenas = make(map[metadata.RawMemory]*arena)
	m.shared = 0
	m.mapped = 0
	b.mu.Unlock()

	for raw, a := range arenas {
		if a.live > 0 {
			core.LogWarn("soft: memory %d released with %d live blocks", raw, a.live)
		}
		if err := unmapArena(a.data); err != nil {
			core.LogError("failed to unmap memory %d: %v", raw, err)
		}
	}
}

// LiveBlocks counts blocks handed out and not freed.
func (m *MemoryAllocator) LiveBlocks() int {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	live := 0
	for _, a := range m.arenas {
		live += a.live
	}
	return live
}
