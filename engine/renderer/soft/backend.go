package soft

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/memory"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

const (
	memoryTypeDeviceLocal = 0
	memoryTypeHostVisible = 1
	allMemoryTypes        = 1<<memoryTypeDeviceLocal | 1<<memoryTypeHostVisible
)

type bindingKey struct {
	memory metadata.RawMemory
	offset uint64
}

type buffer struct {
	desc  metadata.BufferCreateDesc
	req   metadata.MemoryRequirements
	bound bool
	block metadata.MemoryBlock
}

type image struct {
	desc  metadata.ImageCreateDesc
	req   metadata.MemoryRequirements
	bound bool
	block metadata.MemoryBlock
	views int
}

type commandPool struct {
	arena   *memory.BumpAllocator
	data    []byte
	buffers []metadata.RawCommandBuffer
}

type commandBuffer struct {
	pool     metadata.RawCommandPool
	recorded [][]byte
	pending  int
}

type fence struct {
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f
}

func (f *fence) signal() {
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

type semaphore struct {
	signaled bool
}

// Backend is an in-process device. Objects live in Go maps, memory in
// anonymous mappings, and a worker goroutine plays the GPU queue: it
// completes submissions in order and signals their semaphores and fences.
// Misuse that a real driver would turn into undefined behavior is fatal.
type Backend struct {
	cfg Config

	mu     sync.Mutex
	cond   *sync.Cond
	nextID uint64

	buffers        map[metadata.RawBuffer]*buffer
	images         map[metadata.RawImage]*image
	views          map[metadata.RawImageView]metadata.RawImage
	pools          map[metadata.RawCommandPool]*commandPool
	commandBuffers map[metadata.RawCommandBuffer]*commandBuffer
	fences         map[metadata.RawFence]*fence
	semaphores     map[metadata.RawSemaphore]*semaphore
	bindings       map[bindingKey]uint64
	names          map[uint64]string

	pending *containers.RingQueue[metadata.SubmitInfo]
	busy    bool
	closed  bool
	worker  sync.WaitGroup

	submissions   atomic.Uint64
	executedBytes atomic.Uint64

	memory      *MemoryAllocator
	descriptors *DescriptorAllocator
}

// New starts a software device. Call Shutdown once the renderer device is destroyed.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid soft backend config")
	}
	b := &Backend{
		cfg:            cfg,
		buffers:        make(map[metadata.RawBuffer]*buffer),
		images:         make(map[metadata.RawImage]*image),
		views:          make(map[metadata.RawImageView]metadata.RawImage),
		pools:          make(map[metadata.RawCommandPool]*commandPool),
		commandBuffers: make(map[metadata.RawCommandBuffer]*commandBuffer),
		fences:         make(map[metadata.RawFence]*fence),
		semaphores:     make(map[metadata.RawSemaphore]*semaphore),
		bindings:       make(map[bindingKey]uint64),
		names:          make(map[uint64]string),
		pending:        containers.NewRingQueue[metadata.SubmitInfo](cfg.QueueDepth),
	}
	b.cond = sync.NewCond(&b.mu)
	b.memory = &MemoryAllocator{backend: b, arenas: make(map[metadata.RawMemory]*arena)}
	b.descriptors = &DescriptorAllocator{backend: b, live: make(map[metadata.RawDescriptorSet]metadata.RawDescriptorSetLayout)}

	b.worker.Add(1)
	go b.run()
	core.LogDebug("soft backend started (arena %d bytes, queue depth %d)", cfg.ArenaSize, cfg.QueueDepth)
	return b, nil
}

func (b *Backend) Name() string {
	return "soft"
}

func (b *Backend) MemoryAllocator() *MemoryAllocator {
	return b.memory
}

func (b *Backend) DescriptorAllocator() *DescriptorAllocator {
	return b.descriptors
}

// id must be called with b.mu held.
func (b *Backend) id() uint64 {
	b.nextID++
	return b.nextID
}

func (b *Backend) CreateBuffer(desc metadata.BufferCreateDesc) (metadata.RawBuffer, metadata.MemoryRequirements, error) {
	if desc.Size == 0 {
		return 0, metadata.MemoryRequirements{}, errors.Wrap(core.ErrNotSupported, "zero sized buffer")
	}
	req := metadata.MemoryRequirements{
		Size:           core.Align(desc.Size, b.cfg.Granularity),
		Alignment:      b.cfg.Granularity,
		MemoryTypeBits: allMemoryTypes,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := metadata.RawBuffer(b.id())
	b.buffers[raw] = &buffer{desc: desc, req: req}
	return raw, req, nil
}

func (b *Backend) BindBufferMemory(raw metadata.RawBuffer, block metadata.MemoryBlock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[raw]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "buffer %d", raw)
	}
	if err := b.checkBinding(buf.bound, buf.req, block); err != nil {
		return errors.Wrapf(err, "buffer %d", raw)
	}
	buf.bound = true
	buf.block = block
	b.bindings[bindingKey{block.Memory, block.Offset}] = uint64(raw)
	return nil
}

func (b *Backend) DestroyBuffer(raw metadata.RawBuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[raw]
	if !ok {
		core.LogPanic("destroying unknown buffer %d", raw)
	}
	if buf.bound {
		delete(b.bindings, bindingKey{buf.block.Memory, buf.block.Offset})
	}
	delete(b.buffers, raw)
	delete(b.names, uint64(raw))
}

func (b *Backend) CreateImage(desc metadata.ImageCreateDesc) (metadata.RawImage, metadata.MemoryRequirements, error) {
	extent, err := desc.Extent3D()
	if err != nil {
		return 0, metadata.MemoryRequirements{}, errors.Mark(err, core.ErrNotSupported)
	}
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return 0, metadata.MemoryRequirements{}, errors.Wrapf(core.ErrNotSupported, "format %d", desc.Format)
	}
	var size uint64
	w, h, depth := uint64(extent[0]), uint64(extent[1]), uint64(extent[2])
	for level := uint32(0); level < desc.MipLevels; level++ {
		size += w * h * depth * bpp
		w, h, depth = max(w/2, 1), max(h/2, 1), max(depth/2, 1)
	}
	size *= uint64(desc.Layers())
	req := metadata.MemoryRequirements{
		Size:           core.Align(size, b.cfg.Granularity),
		Alignment:      b.cfg.Granularity,
		MemoryTypeBits: 1 << memoryTypeDeviceLocal,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	raw := metadata.RawImage(b.id())
	b.images[raw] = &image{desc: desc, req: req}
	return raw, req, nil
}

func (b *Backend) BindImageMemory(raw metadata.RawImage, block metadata.MemoryBlock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[raw]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "image %d", raw)
	}
	if err := b.checkBinding(img.bound, img.req, block); err != nil {
		return errors.Wrapf(err, "image %d", raw)
	}
	img.bound = true
	img.block = block
	b.bindings[bindingKey{block.Memory, block.Offset}] = uint64(raw)
	return nil
}

func (b *Backend) checkBinding(bound bool, req metadata.MemoryRequirements, block metadata.MemoryBlock) error {
	if bound {
		return errors.New("memory already bound")
	}
	if _, ok := b.memory.arenas[block.Memory]; !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "memory %d", block.Memory)
	}
	if block.Size < req.Size {
		return errors.Newf("block of %d bytes is smaller than the required %d", block.Size, req.Size)
	}
	if block.Offset%req.Alignment != 0 {
		return errors.Newf("block offset %d is not aligned to %d", block.Offset, req.Alignment)
	}
	if req.MemoryTypeBits&(1<<block.MemoryType) == 0 {
		return errors.Wrapf(core.ErrNotSupported, "memory type %d", block.MemoryType)
	}
	return nil
}

func (b *Backend) DestroyImage(raw metadata.RawImage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[raw]
	if !ok {
		core.LogPanic("destroying unknown image %d", raw)
	}
	if img.views > 0 {
		core.LogPanic("destroying image %d with %d live views", raw, img.views)
	}
	if img.bound {
		delete(b.bindings, bindingKey{img.block.Memory, img.block.Offset})
	}
	delete(b.images, raw)
	delete(b.names, uint64(raw))
}

func (b *Backend) CreateImageView(raw metadata.RawImage, view metadata.ResolvedImageView) (metadata.RawImageView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[raw]
	if !ok {
		return 0, errors.Wrapf(core.ErrInvalidHandle, "image %d", raw)
	}
	if !img.bound {
		return 0, errors.Newf("image %d has no memory bound", raw)
	}
	if view.BaseMipLevel+view.LevelCount > img.desc.MipLevels {
		return 0, errors.Wrapf(core.ErrNotSupported, "view levels [%d, %d) exceed image levels %d",
			view.BaseMipLevel, view.BaseMipLevel+view.LevelCount, img.desc.MipLevels)
	}
	id := metadata.RawImageView(b.id())
	b.views[id] = raw
	img.views++
	return id, nil
}

func (b *Backend) DestroyImageView(view metadata.RawImageView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.views[view]
	if !ok {
		core.LogPanic("destroying unknown image view %d", view)
	}
	if img, ok := b.images[raw]; ok {
		img.views--
	}
	delete(b.views, view)
}

func (b *Backend) CreateCommandPool() (metadata.RawCommandPool, error) {
	data, err := mapArena(b.cfg.CommandArenaSize)
	if err != nil {
		return 0, errors.Mark(err, core.ErrOutOfMemory)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := metadata.RawCommandPool(b.id())
	b.pools[raw] = &commandPool{
		arena: memory.NewBumpAllocator(b.cfg.CommandArenaSize, 16),
		data:  data,
	}
	return raw, nil
}

func (b *Backend) ResetCommandPool(raw metadata.RawCommandPool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[raw]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "command pool %d", raw)
	}
	for _, cb := range pool.buffers {
		if b.commandBuffers[cb].pending > 0 {
			core.LogPanic("command pool %d reset while command buffer %d is executing", raw, cb)
		}
		b.commandBuffers[cb].recorded = nil
	}
	pool.arena.Reset()
	return nil
}

func (b *Backend) DestroyCommandPool(raw metadata.RawCommandPool) {
	b.mu.Lock()
	pool, ok := b.pools[raw]
	if !ok {
		b.mu.Unlock()
		core.LogPanic("destroying unknown command pool %d", raw)
	}
	for _, cb := range pool.buffers {
		if b.commandBuffers[cb].pending > 0 {
			b.mu.Unlock()
			core.LogPanic("command pool %d destroyed while command buffer %d is executing", raw, cb)
		}
		delete(b.commandBuffers, cb)
	}
	delete(b.pools, raw)
	b.mu.Unlock()

	if err := unmapArena(pool.data); err != nil {
		core.LogError("failed to unmap command arena: %v", err)
	}
}

func (b *Backend) AllocateCommandBuffer(raw metadata.RawCommandPool) (metadata.RawCommandBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[raw]
	if !ok {
		return 0, errors.Wrapf(core.ErrInvalidHandle, "command pool %d", raw)
	}
	cb := metadata.RawCommandBuffer(b.id())
	b.commandBuffers[cb] = &commandBuffer{pool: raw}
	pool.buffers = append(pool.buffers, cb)
	return cb, nil
}

// Record appends an opaque command payload to cb. The bytes live in the
// pool's arena until the pool is reset.
func (b *Backend) Record(cb metadata.RawCommandBuffer, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.commandBuffers[cb]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "command buffer %d", cb)
	}
	if buf.pending > 0 {
		core.LogPanic("recording into command buffer %d while it is executing", cb)
	}
	pool := b.pools[buf.pool]
	offset, ok := pool.arena.Allocate(uint64(len(payload)))
	if !ok {
		return errors.Wrapf(core.ErrOutOfMemory, "command arena full (%d of %d bytes)", pool.arena.Used(), pool.arena.Size())
	}
	dst := pool.data[offset : offset+uint64(len(payload))]
	copy(dst, payload)
	buf.recorded = append(buf.recorded, dst)
	return nil
}

func (b *Backend) CreateFence(signaled bool) (metadata.RawFence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := metadata.RawFence(b.id())
	b.fences[raw] = newFence(signaled)
	return raw, nil
}

func (b *Backend) ResetFences(fences []metadata.RawFence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, raw := range fences {
		f, ok := b.fences[raw]
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "fence %d", raw)
		}
		if f.signaled {
			b.fences[raw] = newFence(false)
		}
	}
	return nil
}

func (b *Backend) DestroyFence(raw metadata.RawFence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fences[raw]; !ok {
		core.LogPanic("destroying unknown fence %d", raw)
	}
	delete(b.fences, raw)
}

// FenceSignaled reports the current state of a fence.
func (b *Backend) FenceSignaled(raw metadata.RawFence) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fences[raw]
	return ok && f.signaled
}

func (b *Backend) CreateSemaphore() (metadata.RawSemaphore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := metadata.RawSemaphore(b.id())
	b.semaphores[raw] = &semaphore{}
	return raw, nil
}

func (b *Backend) DestroySemaphore(raw metadata.RawSemaphore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.semaphores[raw]; !ok {
		core.LogPanic("destroying unknown semaphore %d", raw)
	}
	delete(b.semaphores, raw)
}

func (b *Backend) SetObjectName(object metadata.ObjectType, raw uint64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[raw] = name
	core.LogDebug("soft: %s %d named %q", object, raw, name)
}

// ObjectName returns the debug name given to an object.
func (b *Backend) ObjectName(raw uint64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.names[raw]
}
