package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/memory"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// StagingRing is the upload ring shared by every frame. Offsets wrap without
// tracking, so one frame may push at most half the ring for the two frames
// in flight to stay disjoint.
type StagingRing struct {
	buffer  metadata.RawBuffer
	block   metadata.MemoryBlock
	mapping MappedRange
	ring    *memory.RingAllocator
}

// NewStagingRing lays out a ring over an already mapped range.
func NewStagingRing(mapping MappedRange, alignment uint64) *StagingRing {
	return &StagingRing{
		mapping: mapping,
		ring:    memory.NewRingAllocator(mapping.Len(), alignment),
	}
}

func createStagingRing(backend RendererBackend, allocator MemoryAllocator, cfg Config) (*StagingRing, error) {
	desc := metadata.UploadBuffer(cfg.StagingSize, metadata.BufferUsageTransferSrc).
		WithAlignment(cfg.StagingAlignment).
		WithName(cfg.Name + "/staging")
	buffer, block, mapped, err := createMappedBuffer(backend, allocator, desc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging ring")
	}
	ring := NewStagingRing(NewMappedRange(mapped), cfg.StagingAlignment)
	ring.buffer = buffer
	ring.block = block
	return ring, nil
}

// Push copies data into the ring and returns its offset. Safe for concurrent use.
func (s *StagingRing) Push(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty staging push")
	}
	if uint64(len(data)) > s.ring.Size() {
		return 0, errors.Wrapf(core.ErrOutOfAllocatedSpace, "staging push of %d bytes exceeds ring of %d", len(data), s.ring.Size())
	}
	offset := s.ring.Allocate(uint64(len(data)))
	s.mapping.Write(offset, data)
	return offset, nil
}

func (s *StagingRing) Buffer() metadata.RawBuffer {
	return s.buffer
}

func (s *StagingRing) Mapping() MappedRange {
	return s.mapping
}

func (s *StagingRing) free(backend RendererBackend, allocator MemoryAllocator) {
	if s.buffer != 0 {
		backend.DestroyBuffer(s.buffer)
		allocator.Free(s.block)
		s.buffer = 0
		s.mapping = MappedRange{}
	}
}
