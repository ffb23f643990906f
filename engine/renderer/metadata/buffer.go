package metadata

/** @brief Buffer usage bits. Values match the Vulkan bits. */
type BufferUsage uint32

const (
	BufferUsageTransferSrc        BufferUsage = 0x00000001
	BufferUsageTransferDst        BufferUsage = 0x00000002
	BufferUsageUniformTexelBuffer BufferUsage = 0x00000004
	BufferUsageStorageTexelBuffer BufferUsage = 0x00000008
	BufferUsageUniformBuffer      BufferUsage = 0x00000010
	BufferUsageStorageBuffer      BufferUsage = 0x00000020
	BufferUsageIndexBuffer        BufferUsage = 0x00000040
	BufferUsageVertexBuffer       BufferUsage = 0x00000080
	BufferUsageIndirectBuffer     BufferUsage = 0x00000100
)

/** @brief The immutable description of a live buffer. */
type BufferDesc struct {
	Size  uint64
	Usage BufferUsage
}

/** @brief Everything needed to create a buffer and its memory. */
type BufferCreateDesc struct {
	Size           uint64
	Usage          BufferUsage
	MemoryLocation MemoryUsage
	/** @brief Minimum alignment of the memory block, zero for the backend default. */
	Alignment uint64
	Dedicated bool
	/** @brief Optional debug name. */
	Name string
}

// GPUBuffer describes a device local buffer.
func GPUBuffer(size uint64, usage BufferUsage) BufferCreateDesc {
	return BufferCreateDesc{Size: size, Usage: usage, MemoryLocation: MemoryUsageFastDeviceAccess}
}

// HostBuffer describes a buffer the host can map.
func HostBuffer(size uint64, usage BufferUsage) BufferCreateDesc {
	return BufferCreateDesc{Size: size, Usage: usage, MemoryLocation: MemoryUsageHostAccess}
}

// UploadBuffer describes a host written, GPU read buffer.
func UploadBuffer(size uint64, usage BufferUsage) BufferCreateDesc {
	return BufferCreateDesc{Size: size, Usage: usage, MemoryLocation: MemoryUsageUpload}
}

// SharedBuffer describes a mappable buffer in fast device memory with its own
// memory object.
func SharedBuffer(size uint64, usage BufferUsage) BufferCreateDesc {
	return BufferCreateDesc{
		Size:           size,
		Usage:          usage,
		MemoryLocation: MemoryUsageHostAccess | MemoryUsageFastDeviceAccess,
		Dedicated:      true,
	}
}

func (d BufferCreateDesc) WithAlignment(alignment uint64) BufferCreateDesc {
	d.Alignment = alignment
	return d
}

func (d BufferCreateDesc) WithDedicated(dedicated bool) BufferCreateDesc {
	d.Dedicated = dedicated
	return d
}

func (d BufferCreateDesc) WithName(name string) BufferCreateDesc {
	d.Name = name
	return d
}

func (d BufferCreateDesc) Desc() BufferDesc {
	return BufferDesc{Size: d.Size, Usage: d.Usage}
}
