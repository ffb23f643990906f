package renderer

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type FrameState int32

const (
	FrameStateIdle FrameState = iota
	FrameStateRecording
	FrameStateSubmitted
)

func (s FrameState) String() string {
	switch s {
	case FrameStateIdle:
		return "idle"
	case FrameStateRecording:
		return "recording"
	case FrameStateSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("FrameState(%d)", int32(s))
}

// CommandBufferKind selects one of the two command buffers of a frame.
type CommandBufferKind uint8

const (
	CommandBufferMain CommandBufferKind = iota
	CommandBufferPresent
)

// CommandBuffer pairs a primary command buffer with the fence signaled when
// its last submission completes.
type CommandBuffer struct {
	Raw   metadata.RawCommandBuffer
	Fence metadata.RawFence
}

// Frame owns the resources of one pipelined frame. The Device keeps two of
// them and hands one out at a time through a FrameLease.
type Frame struct {
	index    int
	pool     metadata.RawCommandPool
	main     CommandBuffer
	present  CommandBuffer
	finished metadata.RawSemaphore

	tempBuffer    metadata.RawBuffer
	tempMemory    metadata.MemoryBlock
	tempMapping   MappedRange
	tempSize      uint32
	tempAlignment uint32
	tempTop       atomic.Uint32

	dropList *DropList

	leased atomic.Bool
	state  atomic.Int32
	number uint64
	freed  bool
}

func newFrame(index int, backend RendererBackend, allocator MemoryAllocator, cfg Config) (*Frame, error) {
	f := &Frame{
		index:         index,
		tempSize:      uint32(cfg.TempMemorySize),
		tempAlignment: uint32(cfg.TempAlignment),
		dropList:      NewDropList(cfg.DropListReserve),
	}
	if err := f.create(backend, allocator, cfg); err != nil {
		f.destroyObjects(backend, allocator)
		return nil, err
	}
	return f, nil
}

func (f *Frame) create(backend RendererBackend, allocator MemoryAllocator, cfg Config) error {
	var err error
	if f.pool, err = backend.CreateCommandPool(); err != nil {
		return errors.Wrap(err, "failed to create frame command pool")
	}
	for _, cb := range []*CommandBuffer{&f.main, &f.present} {
		if cb.Raw, err = backend.AllocateCommandBuffer(f.pool); err != nil {
			return errors.Wrap(err, "failed to allocate frame command buffer")
		}
		// Signaled so the first BeginFrame does not block.
		if cb.Fence, err = backend.CreateFence(true); err != nil {
			return errors.Wrap(err, "failed to create frame fence")
		}
	}
	if f.finished, err = backend.CreateSemaphore(); err != nil {
		return errors.Wrap(err, "failed to create frame semaphore")
	}

	usage := metadata.BufferUsageVertexBuffer | metadata.BufferUsageIndexBuffer | metadata.BufferUsageUniformBuffer
	desc := metadata.SharedBuffer(cfg.TempMemorySize, usage).
		WithName(fmt.Sprintf("%s/frame%d/temp", cfg.Name, f.index))
	buffer, block, mapped, err := createMappedBuffer(backend, allocator, desc)
	if err != nil {
		return errors.Wrap(err, "failed to create frame temp buffer")
	}
	f.tempBuffer = buffer
	f.tempMemory = block
	f.tempMapping = NewMappedRange(mapped)
	return nil
}

func (f *Frame) destroyObjects(backend RendererBackend, allocator MemoryAllocator) {
	if f.tempBuffer != 0 {
		backend.DestroyBuffer(f.tempBuffer)
		allocator.Free(f.tempMemory)
		f.tempBuffer = 0
		f.tempMapping = MappedRange{}
	}
	for _, cb := range []*CommandBuffer{&f.main, &f.present} {
		if cb.Fence != 0 {
			backend.DestroyFence(cb.Fence)
			cb.Fence = 0
		}
	}
	if f.finished != 0 {
		backend.DestroySemaphore(f.finished)
		f.finished = 0
	}
	// Command buffers are released with their pool.
	if f.pool != 0 {
		backend.DestroyCommandPool(f.pool)
		f.pool = 0
	}
}

func (f *Frame) fences() []metadata.RawFence {
	return []metadata.RawFence{f.present.Fence, f.main.Fence}
}

// reset recycles the frame once its fences are signaled: queued objects are
// destroyed, the scratch region rewinds and the command pool is reset.
func (f *Frame) reset(backend RendererBackend, allocator MemoryAllocator, descriptors DescriptorAllocator, uniforms *UniformStorage) error {
	f.dropList.Purge(backend, allocator, descriptors, uniforms)
	f.tempTop.Store(0)
	if err := backend.ResetCommandPool(f.pool); err != nil {
		return errors.Wrap(err, "failed to reset frame command pool")
	}
	return nil
}

// free tears the frame down. The GPU must be idle.
func (f *Frame) free(backend RendererBackend, allocator MemoryAllocator, descriptors DescriptorAllocator, uniforms *UniformStorage) {
	if f.freed {
		return
	}
	if err := backend.WaitForFences(f.fences(), metadata.WaitForever); err != nil {
		core.LogPanic("failed to wait for frame %d fences at teardown: %v", f.index, err)
	}
	f.destroyObjects(backend, allocator)
	f.dropList.Purge(backend, allocator, descriptors, uniforms)
	f.freed = true
}

// allocate reserves size bytes of the scratch region and returns their
// offset. The cursor is rounded up to the alignment after every allocation.
func (f *Frame) allocate(size uint32) (uint32, bool) {
	for {
		top := f.tempTop.Load()
		end := uint64(top) + uint64(size)
		newTop := core.Align(end, uint64(f.tempAlignment))
		if newTop > uint64(f.tempSize) {
			return 0, false
		}
		if f.tempTop.CompareAndSwap(top, uint32(newTop)) {
			return top, true
		}
	}
}

func (f *Frame) pushTemp(data []byte) (uint32, error) {
	if uint64(len(data)) > uint64(f.tempSize) {
		return 0, errors.Wrapf(core.ErrOutOfTempMemory, "temp push of %d bytes exceeds region of %d", len(data), f.tempSize)
	}
	offset, ok := f.allocate(uint32(len(data)))
	if !ok {
		return 0, errors.Wrapf(core.ErrOutOfTempMemory, "temp push of %d bytes (used %d of %d)", len(data), f.tempTop.Load(), f.tempSize)
	}
	f.tempMapping.Write(uint64(offset), data)
	return offset, nil
}

func (f *Frame) commandBuffer(kind CommandBufferKind) *CommandBuffer {
	if kind == CommandBufferPresent {
		return &f.present
	}
	return &f.main
}

// FrameLease is the exclusive token for the frame being recorded. It is
// returned by Device.BeginFrame and consumed by Device.EndFrame; using it
// afterwards is fatal. Its methods may be called from several goroutines.
type FrameLease struct {
	frame    *Frame
	released atomic.Bool
}

func (l *FrameLease) get() *Frame {
	if l == nil || l.released.Load() {
		core.LogPanic("frame lease used after EndFrame")
	}
	return l.frame
}

// PushTemp copies data into the frame's scratch buffer and returns its
// offset. The bytes stay valid until the frame is recycled.
func (l *FrameLease) PushTemp(data []byte) (uint32, error) {
	return l.get().pushTemp(data)
}

// PushTempSlice is PushTemp for a slice of plain values.
func PushTempSlice[T any](l *FrameLease, values []T) (uint32, error) {
	return l.PushTemp(SliceAsBytes(values))
}

// TempBuffer is the buffer PushTemp offsets refer to.
func (l *FrameLease) TempBuffer() metadata.RawBuffer {
	return l.get().tempBuffer
}

// TempUsed is the number of scratch bytes consumed, padding included.
func (l *FrameLease) TempUsed() uint32 {
	return l.get().tempTop.Load()
}

func (l *FrameLease) TempMapping() MappedRange {
	return l.get().tempMapping
}

func (l *FrameLease) MainCommandBuffer() metadata.RawCommandBuffer {
	return l.get().main.Raw
}

func (l *FrameLease) PresentCommandBuffer() metadata.RawCommandBuffer {
	return l.get().present.Raw
}

// FinishedSemaphore is signaled when the main command buffer completes.
func (l *FrameLease) FinishedSemaphore() metadata.RawSemaphore {
	return l.get().finished
}

func (l *FrameLease) State() FrameState {
	return FrameState(l.get().state.Load())
}

// Number is the device wide sequence number of this frame.
func (l *FrameLease) Number() uint64 {
	return l.get().number
}

// Index is the slot (0 or 1) the frame was created in.
func (l *FrameLease) Index() int {
	return l.get().index
}
