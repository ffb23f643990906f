package vulkan

import (
	"iter"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/memory"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// memoryChunk is one VkDeviceMemory. Regular chunks are sub-allocated,
// dedicated ones back a single block. Host visible chunks stay mapped for
// their whole life.
type memoryChunk struct {
	typeIndex uint32
	size      uint64
	alloc     *memory.DynamicAllocator
	mapped    []byte
	coherent  bool
	live      int
}

// MemoryAllocator sub-allocates device memory in chunks of one memory type.
type MemoryAllocator struct {
	backend *Backend
	chunks  registry[vk.DeviceMemory, *memoryChunk]
}

func newMemoryAllocator(backend *Backend) *MemoryAllocator {
	return &MemoryAllocator{backend: backend, chunks: newRegistry[vk.DeviceMemory, *memoryChunk]()}
}

func (m *MemoryAllocator) findMemoryType(req metadata.MemoryRequest) (uint32, error) {
	context := m.backend.context
	required, preferred := memoryProperties(req.Usage)
	typeBits := req.MemoryTypeBits
	if typeBits == 0 {
		typeBits = ^uint32(0)
	}
	if index := context.FindMemoryIndex(typeBits, uint32(required|preferred)); index >= 0 {
		return uint32(index), nil
	}
	if index := context.FindMemoryIndex(typeBits, uint32(required)); index >= 0 {
		return uint32(index), nil
	}
	return 0, errors.Wrapf(core.ErrNotSupported, "no memory type for usage %s in bits %#b", req.Usage, req.MemoryTypeBits)
}

func (m *MemoryAllocator) Allocate(req metadata.MemoryRequest) (metadata.MemoryBlock, error) {
	if req.Size == 0 {
		return metadata.MemoryBlock{}, errors.Wrap(core.ErrNotSupported, "zero sized allocation")
	}
	typeIndex, err := m.findMemoryType(req)
	if err != nil {
		return metadata.MemoryBlock{}, err
	}
	cfg := m.backend.cfg
	dedicated := req.Dedicated || req.Alignment > cfg.Granularity || req.Size > cfg.ChunkSize/2

	var block metadata.MemoryBlock
	err = m.backend.locks.SafeCall(MemoryManagement, func() error {
		if !dedicated {
			for raw, chunk := range m.chunkCandidates(typeIndex) {
				if offset, ok := chunk.alloc.Allocate(req.Size); ok {
					chunk.live++
					block = m.blockOf(raw, chunk, offset, req)
					return nil
				}
			}
		}
		size := cfg.ChunkSize
		if dedicated {
			size = req.Size
		}
		raw, chunk, err := m.allocateChunk(typeIndex, size, dedicated)
		if err != nil {
			return err
		}
		offset := uint64(0)
		if !dedicated {
			offset, _ = chunk.alloc.Allocate(req.Size)
		}
		chunk.live++
		block = m.blockOf(raw, chunk, offset, req)
		block.Dedicated = dedicated
		return nil
	})
	return block, err
}

// chunkCandidates yields the shared chunks of a memory type.
func (m *MemoryAllocator) chunkCandidates(typeIndex uint32) iter.Seq2[uint64, *memoryChunk] {
	return func(yield func(uint64, *memoryChunk) bool) {
		for h := range m.chunks.pool.Handles() {
			chunk, _ := m.chunks.pool.GetCold(h)
			if chunk.alloc == nil || chunk.typeIndex != typeIndex {
				continue
			}
			if !yield(uint64(h.Raw())+1, chunk) {
				return
			}
		}
	}
}

func (m *MemoryAllocator) blockOf(raw uint64, chunk *memoryChunk, offset uint64, req metadata.MemoryRequest) metadata.MemoryBlock {
	return metadata.MemoryBlock{
		Memory:       metadata.RawMemory(raw),
		Offset:       offset,
		Size:         req.Size,
		Usage:        req.Usage,
		MemoryType:   chunk.typeIndex,
		HostCoherent: chunk.coherent,
	}
}

func (m *MemoryAllocator) allocateChunk(typeIndex uint32, size uint64, dedicated bool) (uint64, *memoryChunk, error) {
	context := m.backend.context
	device := context.Device.LogicalDevice
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}
	var native vk.DeviceMemory
	if err := resultError(vk.AllocateMemory(device, &allocateInfo, context.Allocator, &native), "vkAllocateMemory"); err != nil {
		return 0, nil, errors.Wrapf(err, "%d bytes of memory type %d", size, typeIndex)
	}

	flags := vk.MemoryPropertyFlagBits(context.MemoryTypeFlags(typeIndex))
	chunk := &memoryChunk{
		typeIndex: typeIndex,
		size:      size,
		coherent:  flags&vk.MemoryPropertyHostCoherentBit != 0,
	}
	if !dedicated {
		chunk.alloc = memory.NewDynamicAllocator(size, m.backend.cfg.Granularity)
	}
	if flags&vk.MemoryPropertyHostVisibleBit != 0 {
		var data unsafe.Pointer
		if err := resultError(vk.MapMemory(device, native, 0, vk.DeviceSize(size), 0, &data), "vkMapMemory"); err != nil {
			vk.FreeMemory(device, native, context.Allocator)
			return 0, nil, err
		}
		chunk.mapped = unsafe.Slice((*byte)(data), size)
	}

	raw, err := m.chunks.add(native, chunk)
	if err != nil {
		m.release(native, chunk)
		return 0, nil, err
	}
	core.LogDebug("vulkan: memory chunk %d of %d bytes (type %d, dedicated %t)", raw, size, typeIndex, dedicated)
	return raw, chunk, nil
}

func (m *MemoryAllocator) release(native vk.DeviceMemory, chunk *memoryChunk) {
	device := m.backend.context.Device.LogicalDevice
	if chunk.mapped != nil {
		vk.UnmapMemory(device, native)
		chunk.mapped = nil
	}
	vk.FreeMemory(device, native, m.backend.context.Allocator)
}

func (m *MemoryAllocator) Map(block metadata.MemoryBlock) ([]byte, error) {
	var mapped []byte
	err := m.backend.locks.SafeCall(MemoryManagement, func() error {
		_, chunk, ok := m.chunks.get(uint64(block.Memory))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "memory %d", block.Memory)
		}
		if chunk.mapped == nil {
			return errors.Wrapf(core.ErrNotSupported, "%s is not host visible", block)
		}
		end := block.Offset + block.Size
		mapped = chunk.mapped[block.Offset:end:end]
		return nil
	})
	return mapped, err
}

func (m *MemoryAllocator) Free(block metadata.MemoryBlock) {
	_ = m.backend.locks.SafeCall(MemoryManagement, func() error {
		native, chunk, ok := m.chunks.get(uint64(block.Memory))
		if !ok {
			core.LogPanic("freeing %s from unknown memory", block)
		}
		if chunk.alloc != nil {
			chunk.alloc.Deallocate(block.Offset)
		}
		chunk.live--
		if chunk.live == 0 && (chunk.alloc == nil || m.chunks.len() > 1) {
			m.chunks.remove(uint64(block.Memory))
			m.release(native, chunk)
		}
		return nil
	})
}

func (m *MemoryAllocator) Cleanup() {
	_ = m.backend.locks.SafeCall(MemoryManagement, func() error {
		for native, chunk := range m.chunks.drain() {
			if chunk.live > 0 {
				core.LogWarn("vulkan: memory chunk released with %d live blocks", chunk.live)
			}
			m.release(native, chunk)
		}
		return nil
	})
}
