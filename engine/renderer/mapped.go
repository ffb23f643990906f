package renderer

import (
	"unsafe"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// MappedRange is a bounds checked window over persistently mapped GPU
// memory. It is the only place the renderer copies into mapped memory.
// Concurrent writes are allowed as long as they target disjoint ranges.
type MappedRange struct {
	data []byte
}

func NewMappedRange(data []byte) MappedRange {
	return MappedRange{data: data}
}

func (m MappedRange) Len() uint64 {
	return uint64(len(m.data))
}

func (m MappedRange) IsMapped() bool {
	return m.data != nil
}

// Write copies src at offset. Offsets come from the allocator that owns the
// range, so an out of bounds write is an allocator bug and is fatal.
func (m MappedRange) Write(offset uint64, src []byte) {
	end := offset + uint64(len(src))
	if end < offset || end > uint64(len(m.data)) {
		core.LogPanic("mapped write [%d, %d) out of bounds (mapped %d bytes)", offset, end, len(m.data))
	}
	copy(m.data[offset:end], src)
}

// Read returns a view of size bytes at offset.
func (m MappedRange) Read(offset, size uint64) []byte {
	end := offset + size
	if end < offset || end > uint64(len(m.data)) {
		core.LogPanic("mapped read [%d, %d) out of bounds (mapped %d bytes)", offset, end, len(m.data))
	}
	return m.data[offset:end:end]
}

// AsBytes reinterprets *value as raw bytes for upload. T must not contain
// Go pointers.
func AsBytes[T any](value *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(value)), unsafe.Sizeof(*value))
}

// SliceAsBytes reinterprets a slice of plain values as raw bytes for upload.
func SliceAsBytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), uintptr(len(values))*unsafe.Sizeof(zero))
}
