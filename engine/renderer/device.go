package renderer

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

const framesInFlight = 2

// Device owns the resource tables, the uniform slab, the staging ring and
// the two pipelined frames of one backend device. Every shared allocator is
// owned here and guarded by its own lock.
type Device struct {
	id      uuid.UUID
	cfg     Config
	backend RendererBackend

	memoryMu sync.Mutex
	memory   MemoryAllocator

	descriptorMu sync.Mutex
	descriptors  DescriptorAllocator

	uniformMu sync.Mutex
	uniforms  *UniformStorage

	imagesMu  sync.RWMutex
	images    *ImageStorage
	buffersMu sync.RWMutex
	buffers   *BufferStorage

	// Destructions since the last BeginFrame land here.
	dropMu          sync.Mutex
	currentDropList *DropList

	staging *StagingRing

	frameMu [framesInFlight]sync.Mutex
	frames  [framesInFlight]*Frame

	frameCounter atomic.Uint64
	destroyed    atomic.Bool
}

// NewDevice builds the device side state over a bootstrapped backend. The
// device takes ownership of both allocators.
func NewDevice(backend RendererBackend, allocator MemoryAllocator, descriptors DescriptorAllocator, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid renderer config")
	}

	d := &Device{
		id:              uuid.New(),
		cfg:             cfg,
		backend:         backend,
		memory:          allocator,
		descriptors:     descriptors,
		images:          containers.NewPool[metadata.RawImage, *Image](),
		buffers:         containers.NewPool[metadata.RawBuffer, *Buffer](),
		currentDropList: NewDropList(cfg.DropListReserve),
	}

	var err error
	for i := range d.frames {
		if d.frames[i], err = newFrame(i, backend, allocator, cfg); err != nil {
			d.abandon()
			return nil, errors.Wrapf(err, "failed to create frame %d", i)
		}
	}
	if d.uniforms, err = createUniformStorage(backend, allocator, cfg); err != nil {
		d.abandon()
		return nil, errors.Wrap(err, "failed to create uniform storage")
	}
	if d.staging, err = createStagingRing(backend, allocator, cfg); err != nil {
		d.abandon()
		return nil, err
	}

	core.LogInfo("device %s created on %s backend (%d frames, %d uniform buckets)",
		d.id, backend.Name(), framesInFlight, d.uniforms.bucketCount)
	return d, nil
}

// abandon releases whatever a failed NewDevice managed to create.
func (d *Device) abandon() {
	if d.staging != nil {
		d.staging.free(d.backend, d.memory)
	}
	if d.uniforms != nil {
		d.uniforms.free(d.backend, d.memory)
	}
	for _, f := range d.frames {
		if f != nil {
			f.destroyObjects(d.backend, d.memory)
		}
	}
	d.descriptors.Cleanup()
	d.memory.Cleanup()
}

func (d *Device) ID() uuid.UUID {
	return d.id
}

func (d *Device) Config() Config {
	return d.cfg
}

// CreateBuffer creates a buffer with its own memory block.
func (d *Device) CreateBuffer(desc metadata.BufferCreateDesc) (BufferHandle, error) {
	d.memoryMu.Lock()
	buffer, err := createBufferImpl(d.backend, d.memory, desc)
	d.memoryMu.Unlock()
	if err != nil {
		return containers.Invalid[metadata.RawBuffer, *Buffer](), err
	}

	d.buffersMu.Lock()
	handle, ok := d.buffers.TryPush(buffer.raw, buffer)
	d.buffersMu.Unlock()
	if !ok {
		d.dropMu.Lock()
		buffer.toDrop(d.currentDropList)
		d.dropMu.Unlock()
		return handle, errors.Wrap(core.ErrTooManyObjects, "buffer table is full")
	}
	return handle, nil
}

// CreateImage creates a device local image with its own memory block.
func (d *Device) CreateImage(desc metadata.ImageCreateDesc) (ImageHandle, error) {
	d.memoryMu.Lock()
	image, err := createImageImpl(d.backend, d.memory, desc)
	d.memoryMu.Unlock()
	if err != nil {
		return containers.Invalid[metadata.RawImage, *Image](), err
	}

	d.imagesMu.Lock()
	handle, ok := d.images.TryPush(image.raw, image)
	d.imagesMu.Unlock()
	if !ok {
		d.dropMu.Lock()
		image.toDrop(d.currentDropList)
		d.dropMu.Unlock()
		return handle, errors.Wrap(core.ErrTooManyObjects, "image table is full")
	}
	return handle, nil
}

// DestroyBuffer queues the buffer for destruction once the frames that may
// use it have completed. Stale handles are ignored.
func (d *Device) DestroyBuffer(handle BufferHandle) {
	d.buffersMu.Lock()
	_, buffer, ok := d.buffers.Remove(handle)
	d.buffersMu.Unlock()
	if !ok {
		return
	}
	d.dropMu.Lock()
	buffer.toDrop(d.currentDropList)
	d.dropMu.Unlock()
}

// DestroyImage queues the image and all of its views for destruction.
func (d *Device) DestroyImage(handle ImageHandle) {
	d.imagesMu.Lock()
	_, image, ok := d.images.Remove(handle)
	d.imagesMu.Unlock()
	if !ok {
		return
	}
	d.dropMu.Lock()
	image.toDrop(d.currentDropList)
	d.dropMu.Unlock()
}

func (d *Device) BufferDesc(handle BufferHandle) (metadata.BufferDesc, error) {
	d.buffersMu.RLock()
	defer d.buffersMu.RUnlock()
	buffer, ok := d.buffers.GetCold(handle)
	if !ok {
		return metadata.BufferDesc{}, errors.Wrapf(core.ErrInvalidHandle, "buffer %s", handle)
	}
	return buffer.desc, nil
}

func (d *Device) ImageDesc(handle ImageHandle) (metadata.ImageDesc, error) {
	d.imagesMu.RLock()
	defer d.imagesMu.RUnlock()
	image, ok := d.images.GetCold(handle)
	if !ok {
		return metadata.ImageDesc{}, errors.Wrapf(core.ErrInvalidHandle, "image %s", handle)
	}
	return image.desc, nil
}

// RawBuffer resolves a handle for command recording.
func (d *Device) RawBuffer(handle BufferHandle) (metadata.RawBuffer, error) {
	d.buffersMu.RLock()
	defer d.buffersMu.RUnlock()
	raw, ok := d.buffers.GetHot(handle)
	if !ok {
		return 0, errors.Wrapf(core.ErrInvalidHandle, "buffer %s", handle)
	}
	return raw, nil
}

func (d *Device) RawImage(handle ImageHandle) (metadata.RawImage, error) {
	d.imagesMu.RLock()
	defer d.imagesMu.RUnlock()
	raw, ok := d.images.GetHot(handle)
	if !ok {
		return 0, errors.Wrapf(core.ErrInvalidHandle, "image %s", handle)
	}
	return raw, nil
}

// ImageView returns the view of the image matching desc, creating it on
// first request. The view lives as long as the image.
func (d *Device) ImageView(handle ImageHandle, desc metadata.ImageViewDesc) (metadata.RawImageView, error) {
	d.imagesMu.RLock()
	defer d.imagesMu.RUnlock()
	image, ok := d.images.GetCold(handle)
	if !ok {
		return 0, errors.Wrapf(core.ErrInvalidHandle, "image %s", handle)
	}
	return image.GetOrCreateView(d.backend, desc)
}

// WriteBuffer copies data into a host visible buffer at offset.
func (d *Device) WriteBuffer(handle BufferHandle, offset uint64, data []byte) error {
	d.buffersMu.RLock()
	defer d.buffersMu.RUnlock()
	buffer, ok := d.buffers.GetCold(handle)
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "buffer %s", handle)
	}
	if !buffer.mapping.IsMapped() {
		return errors.Wrapf(core.ErrNotSupported, "buffer %s is not host visible", handle)
	}
	if offset+uint64(len(data)) > buffer.desc.Size || offset+uint64(len(data)) < offset {
		return errors.Wrapf(core.ErrOutOfAllocatedSpace, "write [%d, %d) past buffer size %d", offset, offset+uint64(len(data)), buffer.desc.Size)
	}
	buffer.mapping.Write(offset, data)
	return nil
}

// Buffers and Images report the number of live table entries.
func (d *Device) Buffers() int {
	d.buffersMu.RLock()
	defer d.buffersMu.RUnlock()
	return d.buffers.Len()
}

func (d *Device) Images() int {
	d.imagesMu.RLock()
	defer d.imagesMu.RUnlock()
	return d.images.Len()
}

func (d *Device) AllocateDescriptorSets(layout metadata.RawDescriptorSetLayout, count uint32) ([]metadata.RawDescriptorSet, error) {
	d.descriptorMu.Lock()
	defer d.descriptorMu.Unlock()
	sets, err := d.descriptors.Allocate(layout, count)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d descriptor sets", count)
	}
	return sets, nil
}

// DropDescriptorSets queues descriptor sets for release.
func (d *Device) DropDescriptorSets(sets ...metadata.RawDescriptorSet) {
	d.dropMu.Lock()
	d.currentDropList.FreeDescriptorSets(sets...)
	d.dropMu.Unlock()
}

// PushUniformBytes copies data into the uniform slab and returns its offset
// in UniformBuffer. Release it with FreeUniform.
func (d *Device) PushUniformBytes(data []byte) (uint64, error) {
	d.uniformMu.Lock()
	defer d.uniformMu.Unlock()
	return d.uniforms.Push(data)
}

// PushUniform copies *value into the uniform slab. T must not contain pointers.
func PushUniform[T any](d *Device, value *T) (uint64, error) {
	return d.PushUniformBytes(AsBytes(value))
}

// FreeUniform queues a uniform block for release.
func (d *Device) FreeUniform(offset uint64) {
	d.dropMu.Lock()
	d.currentDropList.FreeUniform(offset)
	d.dropMu.Unlock()
}

func (d *Device) UniformBuffer() metadata.RawBuffer {
	return d.uniforms.Buffer()
}

// PushStaging copies data into the shared upload ring.
func (d *Device) PushStaging(data []byte) (uint64, error) {
	return d.staging.Push(data)
}

func (d *Device) StagingBuffer() metadata.RawBuffer {
	return d.staging.Buffer()
}

// FrameNumber is the number of frames begun so far.
func (d *Device) FrameNumber() uint64 {
	return d.frameCounter.Load()
}

// BeginFrame waits until the GPU finished the frame recorded two frames ago,
// recycles it and leases it to the caller. Calling it again before EndFrame
// is fatal. It blocks without timeout.
func (d *Device) BeginFrame() (*FrameLease, error) {
	d.frameMu[0].Lock()
	defer d.frameMu[0].Unlock()

	frame := d.frames[0]
	if frame.freed {
		core.LogPanic("unable to begin frame: device %s was destroyed", d.id)
	}
	if !frame.leased.CompareAndSwap(false, true) {
		core.LogPanic("unable to begin frame: frame data is being held by user code")
	}

	if err := d.backend.WaitForFences(frame.fences(), metadata.WaitForever); err != nil {
		frame.leased.Store(false)
		return nil, errors.Wrap(err, "failed to wait for frame fences")
	}
	frame.state.Store(int32(FrameStateIdle))

	d.memoryMu.Lock()
	d.descriptorMu.Lock()
	d.uniformMu.Lock()
	err := frame.reset(d.backend, d.memory, d.descriptors, d.uniforms)
	d.uniformMu.Unlock()
	d.descriptorMu.Unlock()
	d.memoryMu.Unlock()
	if err != nil {
		frame.leased.Store(false)
		return nil, err
	}

	// The purged list becomes the collector for the next frame.
	d.dropMu.Lock()
	frame.dropList, d.currentDropList = d.currentDropList, frame.dropList
	d.dropMu.Unlock()

	frame.number = d.frameCounter.Add(1)
	frame.state.Store(int32(FrameStateRecording))
	return &FrameLease{frame: frame}, nil
}

// Submit sends one of the frame's command buffers to the queue. The command
// buffer's fence is signaled when it completes.
func (d *Device) Submit(lease *FrameLease, kind CommandBufferKind, wait, signal []metadata.RawSemaphore) error {
	frame := lease.get()
	cb := frame.commandBuffer(kind)
	if err := d.backend.ResetFences([]metadata.RawFence{cb.Fence}); err != nil {
		return errors.Wrap(err, "failed to reset command buffer fence")
	}
	err := d.backend.Submit(metadata.SubmitInfo{
		CommandBuffers:   []metadata.RawCommandBuffer{cb.Raw},
		WaitSemaphores:   wait,
		SignalSemaphores: signal,
		Fence:            cb.Fence,
	})
	if err != nil {
		// A fence left unsignaled would block the next BeginFrame forever.
		core.LogPanic("failed to submit frame %d: %v", frame.number, err)
	}
	frame.state.Store(int32(FrameStateSubmitted))
	return nil
}

// EndFrame returns the lease and rotates the frames so the next BeginFrame
// works on the oldest one.
func (d *Device) EndFrame(lease *FrameLease) {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		core.LogPanic("unable to finish frame: lease already returned")
	}

	d.frameMu[0].Lock()
	defer d.frameMu[0].Unlock()
	frame := d.frames[0]
	if lease.frame != frame {
		core.LogPanic("unable to finish frame: lease does not belong to the current frame")
	}
	frame.state.CompareAndSwap(int32(FrameStateRecording), int32(FrameStateIdle))
	frame.leased.Store(false)

	d.frameMu[1].Lock()
	d.frames[0], d.frames[1] = d.frames[1], d.frames[0]
	d.frameMu[1].Unlock()
}

// Destroy waits for the GPU and releases every object owned by the device.
// Frames still leased are fatal.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		core.LogWarn("device %s destroyed twice", d.id)
		return
	}
	for i := range d.frames {
		d.frameMu[i].Lock()
		leased := d.frames[i].leased.Load()
		d.frameMu[i].Unlock()
		if leased {
			core.LogPanic("frame data shouldn't be kept by anybody else at teardown")
		}
	}
	if err := d.backend.WaitIdle(); err != nil {
		core.LogPanic("failed to wait for device idle: %v", err)
	}

	d.memoryMu.Lock()
	defer d.memoryMu.Unlock()
	d.descriptorMu.Lock()
	defer d.descriptorMu.Unlock()
	d.uniformMu.Lock()
	defer d.uniformMu.Unlock()

	dropList := NewDropList(d.cfg.DropListReserve)
	d.imagesMu.Lock()
	for _, image := range d.images.Drain() {
		image.toDrop(dropList)
	}
	d.imagesMu.Unlock()
	d.buffersMu.Lock()
	for _, buffer := range d.buffers.Drain() {
		buffer.toDrop(dropList)
	}
	d.buffersMu.Unlock()

	d.dropMu.Lock()
	dropList.Purge(d.backend, d.memory, d.descriptors, d.uniforms)
	d.currentDropList.Purge(d.backend, d.memory, d.descriptors, d.uniforms)
	d.dropMu.Unlock()

	for i := range d.frames {
		d.frameMu[i].Lock()
		frame := d.frames[i]
		frame.free(d.backend, d.memory, d.descriptors, d.uniforms)
		d.frameMu[i].Unlock()
	}

	d.staging.free(d.backend, d.memory)
	d.uniforms.free(d.backend, d.memory)
	d.descriptors.Cleanup()
	d.memory.Cleanup()
	core.LogInfo("device %s destroyed", d.id)
}
