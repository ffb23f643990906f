package metadata

import "fmt"

/** @brief Where an allocation should live. Flags may be combined. */
type MemoryUsage uint8

const (
	/** @brief Memory the GPU reads and writes at full speed. */
	MemoryUsageFastDeviceAccess MemoryUsage = 1 << iota
	/** @brief Memory the host can map. */
	MemoryUsageHostAccess
	/** @brief Host visible memory written once by the host and read by the GPU. */
	MemoryUsageUpload
	/** @brief Host visible memory written by the GPU and read back by the host. */
	MemoryUsageDownload
	/** @brief Short lived memory, reclaimed within a few frames. */
	MemoryUsageTransient
)

// HostVisible reports whether allocations with this usage can be mapped.
func (u MemoryUsage) HostVisible() bool {
	return u&(MemoryUsageHostAccess|MemoryUsageUpload|MemoryUsageDownload) != 0
}

func (u MemoryUsage) String() string {
	return fmt.Sprintf("MemoryUsage(%#x)", uint8(u))
}

/** @brief What a backend object needs from the memory allocator. */
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

/** @brief A request to a MemoryAllocator. */
type MemoryRequest struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
	Usage          MemoryUsage
	/** @brief Asks for a device memory object of its own instead of a sub-allocation. */
	Dedicated bool
}

// NewMemoryRequest combines backend requirements with the caller's placement.
func NewMemoryRequest(req MemoryRequirements, usage MemoryUsage, dedicated bool) MemoryRequest {
	return MemoryRequest{
		Size:           req.Size,
		Alignment:      req.Alignment,
		MemoryTypeBits: req.MemoryTypeBits,
		Usage:          usage,
		Dedicated:      dedicated,
	}
}

/** @brief A range of device memory owned by exactly one buffer or image. */
type MemoryBlock struct {
	/** @brief The device memory object the block lives in. */
	Memory RawMemory
	Offset uint64
	Size   uint64
	Usage  MemoryUsage
	/** @brief The memory type index chosen by the allocator. */
	MemoryType uint32
	Dedicated  bool
	/** @brief Host writes are visible to the GPU without an explicit flush. */
	HostCoherent bool
}

func (b MemoryBlock) String() string {
	return fmt.Sprintf("MemoryBlock(mem: %d off: %d size: %d)", b.Memory, b.Offset, b.Size)
}
