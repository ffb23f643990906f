package renderer

import "github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"

// RendererBackend is the graphics API a Device drives. Implementations own
// the native objects and hand out raw ids; the Device never destroys an
// object the GPU may still use.
type RendererBackend interface {
	// Name identifies the backend in logs.
	Name() string

	CreateBuffer(desc metadata.BufferCreateDesc) (metadata.RawBuffer, metadata.MemoryRequirements, error)
	BindBufferMemory(buffer metadata.RawBuffer, block metadata.MemoryBlock) error
	DestroyBuffer(buffer metadata.RawBuffer)

	CreateImage(desc metadata.ImageCreateDesc) (metadata.RawImage, metadata.MemoryRequirements, error)
	BindImageMemory(image metadata.RawImage, block metadata.MemoryBlock) error
	DestroyImage(image metadata.RawImage)
	CreateImageView(image metadata.RawImage, view metadata.ResolvedImageView) (metadata.RawImageView, error)
	DestroyImageView(view metadata.RawImageView)

	CreateCommandPool() (metadata.RawCommandPool, error)
	ResetCommandPool(pool metadata.RawCommandPool) error
	DestroyCommandPool(pool metadata.RawCommandPool)
	AllocateCommandBuffer(pool metadata.RawCommandPool) (metadata.RawCommandBuffer, error)

	CreateFence(signaled bool) (metadata.RawFence, error)
	// WaitForFences blocks until every fence is signaled or timeout
	// nanoseconds pass. metadata.WaitForever never times out.
	WaitForFences(fences []metadata.RawFence, timeout uint64) error
	ResetFences(fences []metadata.RawFence) error
	DestroyFence(fence metadata.RawFence)
	CreateSemaphore() (metadata.RawSemaphore, error)
	DestroySemaphore(semaphore metadata.RawSemaphore)

	Submit(info metadata.SubmitInfo) error
	WaitIdle() error

	// SetObjectName attaches a debug name. Backends without debug tooling ignore it.
	SetObjectName(object metadata.ObjectType, raw uint64, name string)
}

// MemoryAllocator sub-allocates device memory. A Device serializes every call.
type MemoryAllocator interface {
	Allocate(request metadata.MemoryRequest) (metadata.MemoryBlock, error)
	// Map returns the persistently mapped bytes of a host visible block. The
	// slice stays valid until the block is freed.
	Map(block metadata.MemoryBlock) ([]byte, error)
	Free(block metadata.MemoryBlock)
	// Cleanup releases every memory object. Called once at device teardown.
	Cleanup()
}

// DescriptorAllocator hands out descriptor sets. A Device serializes every call.
type DescriptorAllocator interface {
	Allocate(layout metadata.RawDescriptorSetLayout, count uint32) ([]metadata.RawDescriptorSet, error)
	Free(sets []metadata.RawDescriptorSet) error
	Cleanup()
}
