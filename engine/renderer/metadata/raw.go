package metadata

import "fmt"

// Raw object identifiers handed out by a RendererBackend. They never leave the
// renderer package: callers only ever see pool handles. Zero is "no object".
type (
	RawBuffer              uint64
	RawImage               uint64
	RawImageView           uint64
	RawMemory              uint64
	RawCommandPool         uint64
	RawCommandBuffer       uint64
	RawFence               uint64
	RawSemaphore           uint64
	RawDescriptorSet       uint64
	RawDescriptorSetLayout uint64
)

/** @brief The kind of backend object, used when naming objects for debug tools. */
type ObjectType uint8

const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeBuffer
	ObjectTypeImage
	ObjectTypeImageView
	ObjectTypeMemory
	ObjectTypeCommandPool
	ObjectTypeCommandBuffer
	ObjectTypeFence
	ObjectTypeSemaphore
	ObjectTypeDescriptorSet
)

func (o ObjectType) String() string {
	switch o {
	case ObjectTypeBuffer:
		return "buffer"
	case ObjectTypeImage:
		return "image"
	case ObjectTypeImageView:
		return "image_view"
	case ObjectTypeMemory:
		return "memory"
	case ObjectTypeCommandPool:
		return "command_pool"
	case ObjectTypeCommandBuffer:
		return "command_buffer"
	case ObjectTypeFence:
		return "fence"
	case ObjectTypeSemaphore:
		return "semaphore"
	case ObjectTypeDescriptorSet:
		return "descriptor_set"
	}
	return fmt.Sprintf("ObjectType(%d)", uint8(o))
}
