package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/memory"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

const (
	MinUniformSize = 0x100
	MaxUniformSize = 0x4000
)

// Size classes, largest first. A payload of n bytes goes to the first class
// with from < n <= to and is stored in a block of to bytes.
var uniformSizeRanges = [...]struct{ from, to uint64 }{
	{8192, 16384},
	{4096, 8192},
	{2048, 4096},
	{1024, 2048},
	{512, 1024},
	{256, 512},
	{0, 256},
}

func uniformSizeRange(size uint64) (uint64, uint64, bool) {
	for _, r := range uniformSizeRanges {
		if size > r.from && size <= r.to {
			return r.from, r.to, true
		}
	}
	return 0, 0, false
}

type uniformBucket struct {
	from      uint64
	to        uint64
	allocated uint64
	free      uint64
	allocator *memory.BlockAllocator
}

func (b *uniformBucket) init(from, to, bucketSize uint64) {
	if to < MinUniformSize || to > MaxUniformSize || from >= to {
		core.LogPanic("invalid uniform size class (%d, %d]", from, to)
	}
	b.from = from
	b.to = to
	b.allocated = 0
	b.free = bucketSize / to
	b.allocator = memory.NewBlockAllocator(to, bucketSize/to)
}

func (b *uniformBucket) isSuitable(size uint64) bool {
	return b.allocator != nil && b.free > 0 && size > b.from && size <= b.to
}

func (b *uniformBucket) alloc() uint64 {
	if b.allocator == nil {
		core.LogPanic("allocator isn't initialized for this bucket")
	}
	offset, ok := b.allocator.Allocate()
	if !ok {
		core.LogPanic("uniform bucket (%d, %d] reported free space but is full", b.from, b.to)
	}
	b.allocated++
	b.free--
	return offset
}

// dealloc reports whether the bucket still holds live blocks.
func (b *uniformBucket) dealloc(offset uint64) bool {
	if b.allocator == nil {
		core.LogPanic("allocator isn't initialized for this bucket")
	}
	b.allocator.Deallocate(offset)
	b.allocated--
	b.free++
	return b.allocated > 0
}

func (b *uniformBucket) release() {
	if b.allocated != 0 {
		core.LogPanic("releasing uniform bucket with %d live blocks", b.allocated)
	}
	*b = uniformBucket{}
}

// UniformStorage is a bucketed slab over one persistently mapped uniform
// buffer. Buckets are committed to a size class on demand and returned to
// the pool once empty. It is not safe for concurrent use; the Device guards
// it with a mutex.
type UniformStorage struct {
	buffer      metadata.RawBuffer
	block       metadata.MemoryBlock
	mapping     MappedRange
	bucketSize  uint64
	bucketCount uint64
	buckets     []uniformBucket
	freeBuckets []uint64
}

// NewUniformStorage lays out a slab over an already mapped range.
func NewUniformStorage(mapping MappedRange, bucketSize uint64) *UniformStorage {
	if bucketSize < MaxUniformSize || mapping.Len()%bucketSize != 0 {
		core.LogPanic("uniform buffer of %d bytes cannot be split in buckets of %d", mapping.Len(), bucketSize)
	}
	count := mapping.Len() / bucketSize
	return &UniformStorage{
		mapping:     mapping,
		bucketSize:  bucketSize,
		bucketCount: count,
		buckets:     make([]uniformBucket, 0, count),
		freeBuckets: make([]uint64, 0, count),
	}
}

func createUniformStorage(backend RendererBackend, allocator MemoryAllocator, cfg Config) (*UniformStorage, error) {
	desc := metadata.SharedBuffer(cfg.UniformBufferSize, metadata.BufferUsageUniformBuffer).
		WithName(cfg.Name + "/uniforms")
	buffer, block, mapped, err := createMappedBuffer(backend, allocator, desc)
	if err != nil {
		return nil, err
	}
	if !block.HostCoherent {
		backend.DestroyBuffer(buffer)
		allocator.Free(block)
		return nil, errors.Wrap(core.ErrNotSupported, "uniform storage requires host coherent memory")
	}
	storage := NewUniformStorage(NewMappedRange(mapped[:cfg.UniformBufferSize]), cfg.UniformBucketSize)
	storage.buffer = buffer
	storage.block = block
	return storage, nil
}

// Push copies data into a free block and returns its offset in the buffer.
func (s *UniformStorage) Push(data []byte) (uint64, error) {
	size := uint64(len(data))
	if size == 0 {
		return 0, errors.Wrap(core.ErrNotSupported, "empty uniform")
	}
	if size > MaxUniformSize {
		return 0, errors.Wrapf(core.ErrNotSupported, "uniform of %d bytes exceeds %d", size, MaxUniformSize)
	}
	index, ok := s.findBucket(size)
	if !ok {
		index, ok = s.allocateBucket(size)
	}
	if !ok {
		return 0, errors.Wrapf(core.ErrOutOfAllocatedSpace, "all %d uniform buckets are committed", s.bucketCount)
	}
	offset := index*s.bucketSize + s.buckets[index].alloc()
	s.mapping.Write(offset, data)
	return offset, nil
}

// Dealloc returns the block at offset. Emptied buckets go back to the pool.
func (s *UniformStorage) Dealloc(offset uint64) {
	index := offset / s.bucketSize
	if index >= uint64(len(s.buckets)) {
		core.LogPanic("uniform offset %d is outside the committed buckets", offset)
	}
	bucket := &s.buckets[index]
	if !bucket.dealloc(offset - index*s.bucketSize) {
		bucket.release()
		s.freeBuckets = append(s.freeBuckets, index)
	}
}

func (s *UniformStorage) findBucket(size uint64) (uint64, bool) {
	for i := range s.buckets {
		if s.buckets[i].isSuitable(size) {
			return uint64(i), true
		}
	}
	return 0, false
}

func (s *UniformStorage) allocateBucket(size uint64) (uint64, bool) {
	from, to, ok := uniformSizeRange(size)
	if !ok {
		return 0, false
	}
	if n := len(s.freeBuckets); n > 0 {
		index := s.freeBuckets[n-1]
		s.freeBuckets = s.freeBuckets[:n-1]
		s.buckets[index].init(from, to, s.bucketSize)
		return index, true
	}
	if uint64(len(s.buckets)) == s.bucketCount {
		return 0, false
	}
	s.buckets = append(s.buckets, uniformBucket{})
	index := uint64(len(s.buckets) - 1)
	s.buckets[index].init(from, to, s.bucketSize)
	return index, true
}

// Stride is the block size serving the bucket at offset, zero when the
// bucket is not committed.
func (s *UniformStorage) Stride(offset uint64) uint64 {
	index := offset / s.bucketSize
	if index >= uint64(len(s.buckets)) {
		return 0
	}
	return s.buckets[index].to
}

// Live is the number of blocks currently allocated.
func (s *UniformStorage) Live() uint64 {
	var live uint64
	for i := range s.buckets {
		live += s.buckets[i].allocated
	}
	return live
}

func (s *UniformStorage) Buffer() metadata.RawBuffer {
	return s.buffer
}

func (s *UniformStorage) Mapping() MappedRange {
	return s.mapping
}

func (s *UniformStorage) free(backend RendererBackend, allocator MemoryAllocator) {
	if s.buffer != 0 {
		backend.DestroyBuffer(s.buffer)
		allocator.Free(s.block)
		s.buffer = 0
	}
	s.buckets = s.buckets[:0]
	s.freeBuckets = s.freeBuckets[:0]
}
