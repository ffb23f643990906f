package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type bufferInfo struct {
	bound bool
}

type imageInfo struct {
	bound bool
	views int
}

type nameKey struct {
	object metadata.ObjectType
	raw    uint64
}

// Backend drives a Vulkan device. Native handles never leave the package:
// the renderer only sees the raw ids of the registries.
type Backend struct {
	cfg     Config
	context *VulkanContext
	locks   *VulkanLockPool

	buffers        registry[vk.Buffer, bufferInfo]
	images         registry[vk.Image, imageInfo]
	views          registry[vk.ImageView, uint64]
	pools          registry[vk.CommandPool, []uint64]
	commandBuffers registry[vk.CommandBuffer, commandBufferInfo]
	fences         registry[vk.Fence, struct{}]
	semaphores     registry[vk.Semaphore, struct{}]
	names          map[nameKey]string

	memory      *MemoryAllocator
	descriptors *DescriptorAllocator
}

func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid vulkan config")
	}
	context, err := NewContext(cfg)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		cfg:            cfg,
		context:        context,
		locks:          NewVulkanLockPool(),
		buffers:        newRegistry[vk.Buffer, bufferInfo](),
		images:         newRegistry[vk.Image, imageInfo](),
		views:          newRegistry[vk.ImageView, uint64](),
		pools:          newRegistry[vk.CommandPool, []uint64](),
		commandBuffers: newRegistry[vk.CommandBuffer, commandBufferInfo](),
		fences:         newRegistry[vk.Fence, struct{}](),
		semaphores:     newRegistry[vk.Semaphore, struct{}](),
		names:          make(map[nameKey]string),
	}
	b.locks.SetQueueFamily(context.Device.GraphicsQueueIndex)
	b.memory = newMemoryAllocator(b)
	b.descriptors = newDescriptorAllocator(b)
	return b, nil
}

func (b *Backend) Name() string {
	return "vulkan"
}

func (b *Backend) MemoryAllocator() *MemoryAllocator {
	return b.memory
}

func (b *Backend) DescriptorAllocator() *DescriptorAllocator {
	return b.descriptors
}

func (b *Backend) device() vk.Device {
	return b.context.Device.LogicalDevice
}

// memoryOf resolves a block to its native memory object.
func (b *Backend) memoryOf(block metadata.MemoryBlock) (vk.DeviceMemory, error) {
	var native vk.DeviceMemory
	err := b.locks.SafeCall(MemoryManagement, func() error {
		var ok bool
		if native, _, ok = b.memory.chunks.get(uint64(block.Memory)); !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "memory %d", block.Memory)
		}
		return nil
	})
	return native, err
}

func (b *Backend) CreateBuffer(desc metadata.BufferCreateDesc) (metadata.RawBuffer, metadata.MemoryRequirements, error) {
	createInfo := toVkBufferCreateInfo(desc)
	var (
		raw uint64
		req metadata.MemoryRequirements
	)
	err := b.locks.SafeCall(BufferManagement, func() error {
		var buffer vk.Buffer
		if err := resultError(vk.CreateBuffer(b.device(), &createInfo, b.context.Allocator, &buffer), "vkCreateBuffer"); err != nil {
			return err
		}
		var requirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(b.device(), buffer, &requirements)
		requirements.Deref()
		req = metadata.MemoryRequirements{
			Size:           uint64(requirements.Size),
			Alignment:      uint64(requirements.Alignment),
			MemoryTypeBits: requirements.MemoryTypeBits,
		}
		var err error
		if raw, err = b.buffers.add(buffer, bufferInfo{}); err != nil {
			vk.DestroyBuffer(b.device(), buffer, b.context.Allocator)
		}
		return err
	})
	return metadata.RawBuffer(raw), req, err
}

func (b *Backend) BindBufferMemory(raw metadata.RawBuffer, block metadata.MemoryBlock) error {
	memory, err := b.memoryOf(block)
	if err != nil {
		return err
	}
	return b.locks.SafeCall(BufferManagement, func() error {
		buffer, _, ok := b.buffers.get(uint64(raw))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "buffer %d", raw)
		}
		if err := resultError(vk.BindBufferMemory(b.device(), buffer, memory, vk.DeviceSize(block.Offset)), "vkBindBufferMemory"); err != nil {
			return err
		}
		b.buffers.info(uint64(raw)).bound = true
		return nil
	})
}

func (b *Backend) DestroyBuffer(raw metadata.RawBuffer) {
	_ = b.locks.SafeCall(BufferManagement, func() error {
		buffer, _, ok := b.buffers.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown buffer %d", raw)
		}
		vk.DestroyBuffer(b.device(), buffer, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeBuffer, uint64(raw))
}

func (b *Backend) CreateImage(desc metadata.ImageCreateDesc) (metadata.RawImage, metadata.MemoryRequirements, error) {
	createInfo, err := toVkImageCreateInfo(desc)
	if err != nil {
		return 0, metadata.MemoryRequirements{}, err
	}
	var (
		raw uint64
		req metadata.MemoryRequirements
	)
	err = b.locks.SafeCall(ImageManagement, func() error {
		var image vk.Image
		if err := resultError(vk.CreateImage(b.device(), &createInfo, b.context.Allocator, &image), "vkCreateImage"); err != nil {
			return err
		}
		var requirements vk.MemoryRequirements
		vk.GetImageMemoryRequirements(b.device(), image, &requirements)
		requirements.Deref()
		req = metadata.MemoryRequirements{
			Size:           uint64(requirements.Size),
			Alignment:      uint64(requirements.Alignment),
			MemoryTypeBits: requirements.MemoryTypeBits,
		}
		var err error
		if raw, err = b.images.add(image, imageInfo{}); err != nil {
			vk.DestroyImage(b.device(), image, b.context.Allocator)
		}
		return err
	})
	return metadata.RawImage(raw), req, err
}

func (b *Backend) BindImageMemory(raw metadata.RawImage, block metadata.MemoryBlock) error {
	memory, err := b.memoryOf(block)
	if err != nil {
		return err
	}
	return b.locks.SafeCall(ImageManagement, func() error {
		image, _, ok := b.images.get(uint64(raw))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "image %d", raw)
		}
		if err := resultError(vk.BindImageMemory(b.device(), image, memory, vk.DeviceSize(block.Offset)), "vkBindImageMemory"); err != nil {
			return err
		}
		b.images.info(uint64(raw)).bound = true
		return nil
	})
}

func (b *Backend) DestroyImage(raw metadata.RawImage) {
	_ = b.locks.SafeCall(ImageManagement, func() error {
		info := b.images.info(uint64(raw))
		if info == nil {
			core.LogPanic("destroying unknown image %d", raw)
		}
		if info.views > 0 {
			core.LogPanic("destroying image %d with %d live views", raw, info.views)
		}
		image, _, _ := b.images.remove(uint64(raw))
		vk.DestroyImage(b.device(), image, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeImage, uint64(raw))
}

func (b *Backend) CreateImageView(raw metadata.RawImage, view metadata.ResolvedImageView) (metadata.RawImageView, error) {
	var id uint64
	err := b.locks.SafeCall(ImageManagement, func() error {
		image, info, ok := b.images.get(uint64(raw))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "image %d", raw)
		}
		if !info.bound {
			return errors.Newf("image %d has no memory bound", raw)
		}
		createInfo, err := toVkImageViewCreateInfo(image, view)
		if err != nil {
			return err
		}
		var native vk.ImageView
		if err := resultError(vk.CreateImageView(b.device(), &createInfo, b.context.Allocator, &native), "vkCreateImageView"); err != nil {
			return err
		}
		if id, err = b.views.add(native, uint64(raw)); err != nil {
			vk.DestroyImageView(b.device(), native, b.context.Allocator)
			return err
		}
		b.images.info(uint64(raw)).views++
		return nil
	})
	return metadata.RawImageView(id), err
}

func (b *Backend) DestroyImageView(raw metadata.RawImageView) {
	_ = b.locks.SafeCall(ImageManagement, func() error {
		view, image, ok := b.views.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown image view %d", raw)
		}
		if info := b.images.info(image); info != nil {
			info.views--
		}
		vk.DestroyImageView(b.device(), view, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeImageView, uint64(raw))
}

// SetObjectName records a debug name. The names show up in leak reports.
func (b *Backend) SetObjectName(object metadata.ObjectType, raw uint64, name string) {
	_ = b.locks.SafeCall(DebugManagement, func() error {
		b.names[nameKey{object, raw}] = name
		return nil
	})
}

func (b *Backend) forget(object metadata.ObjectType, raw uint64) {
	_ = b.locks.SafeCall(DebugManagement, func() error {
		delete(b.names, nameKey{object, raw})
		return nil
	})
}

// Shutdown destroys the device and the instance. Objects still registered
// are reported and destroyed.
func (b *Backend) Shutdown() error {
	if res := vk.DeviceWaitIdle(b.device()); res != vk.Success {
		core.LogError("vkDeviceWaitIdle failed: %s", VulkanResultString(res, true))
	}
	leaks := b.buffers.len() + b.images.len() + b.views.len() + b.pools.len() + b.fences.len() + b.semaphores.len()
	for key, name := range b.names {
		core.LogWarn("vulkan: %s %d %q still alive at shutdown", key.object, key.raw, name)
	}
	for view := range b.views.drain() {
		vk.DestroyImageView(b.device(), view, b.context.Allocator)
	}
	for image := range b.images.drain() {
		vk.DestroyImage(b.device(), image, b.context.Allocator)
	}
	for buffer := range b.buffers.drain() {
		vk.DestroyBuffer(b.device(), buffer, b.context.Allocator)
	}
	for pool := range b.pools.drain() {
		vk.DestroyCommandPool(b.device(), pool, b.context.Allocator)
	}
	for range b.commandBuffers.drain() {
	}
	for fence := range b.fences.drain() {
		vk.DestroyFence(b.device(), fence, b.context.Allocator)
	}
	for semaphore := range b.semaphores.drain() {
		vk.DestroySemaphore(b.device(), semaphore, b.context.Allocator)
	}
	b.descriptors.Cleanup()
	b.memory.Cleanup()
	b.context.Destroy()
	if leaks > 0 {
		return errors.Newf("%d objects leaked", leaks)
	}
	return nil
}
