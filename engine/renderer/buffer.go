package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type Buffer struct {
	raw       metadata.RawBuffer
	desc      metadata.BufferDesc
	memory    metadata.MemoryBlock
	hasMemory bool
	mapping   MappedRange
}

type (
	BufferHandle  = containers.Handle[metadata.RawBuffer, *Buffer]
	BufferStorage = containers.Pool[metadata.RawBuffer, *Buffer]
)

func (b *Buffer) Desc() metadata.BufferDesc {
	return b.desc
}

// toDrop moves the buffer and its memory to dl. The buffer is unusable afterwards.
func (b *Buffer) toDrop(dl *DropList) {
	if b.hasMemory {
		dl.FreeMemory(b.memory)
		dl.DropBuffer(b.raw)
		b.hasMemory = false
		b.mapping = MappedRange{}
	}
}

func requestFor(req metadata.MemoryRequirements, usage metadata.MemoryUsage, alignment uint64, dedicated bool) metadata.MemoryRequest {
	request := metadata.NewMemoryRequest(req, usage, dedicated)
	if alignment > request.Alignment {
		request.Alignment = alignment
	}
	return request
}

func createBufferImpl(backend RendererBackend, allocator MemoryAllocator, desc metadata.BufferCreateDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.New("buffer size must not be zero")
	}
	raw, req, err := backend.CreateBuffer(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %q", desc.Name)
	}
	block, err := allocator.Allocate(requestFor(req, desc.MemoryLocation, desc.Alignment, desc.Dedicated))
	if err != nil {
		backend.DestroyBuffer(raw)
		return nil, errors.Wrapf(err, "failed to allocate %d bytes for buffer %q", req.Size, desc.Name)
	}
	if err := backend.BindBufferMemory(raw, block); err != nil {
		backend.DestroyBuffer(raw)
		allocator.Free(block)
		return nil, errors.Wrapf(err, "failed to bind memory of buffer %q", desc.Name)
	}
	buffer := &Buffer{
		raw:       raw,
		desc:      desc.Desc(),
		memory:    block,
		hasMemory: true,
	}
	if desc.MemoryLocation.HostVisible() {
		mapped, err := allocator.Map(block)
		if err != nil {
			backend.DestroyBuffer(raw)
			allocator.Free(block)
			return nil, errors.Wrapf(err, "failed to map buffer %q", desc.Name)
		}
		buffer.mapping = NewMappedRange(mapped[:desc.Size])
	}
	if desc.Name != "" {
		backend.SetObjectName(metadata.ObjectTypeBuffer, uint64(raw), desc.Name)
	}
	return buffer, nil
}

// createMappedBuffer creates a device owned host visible buffer that is not
// tracked by the buffer pool.
func createMappedBuffer(backend RendererBackend, allocator MemoryAllocator, desc metadata.BufferCreateDesc) (metadata.RawBuffer, metadata.MemoryBlock, []byte, error) {
	buffer, err := createBufferImpl(backend, allocator, desc)
	if err != nil {
		return 0, metadata.MemoryBlock{}, nil, err
	}
	if !buffer.mapping.IsMapped() {
		backend.DestroyBuffer(buffer.raw)
		allocator.Free(buffer.memory)
		return 0, metadata.MemoryBlock{}, nil, errors.Newf("buffer %q is not host visible", desc.Name)
	}
	return buffer.raw, buffer.memory, buffer.mapping.data, nil
}
