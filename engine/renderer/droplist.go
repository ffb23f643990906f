package renderer

import (
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// DropList collects objects that left their tables but may still be in use
// by the GPU. Objects are only destroyed by Purge, once the frame that last
// used them has completed. A DropList is owned by one goroutine at a time.
type DropList struct {
	reserve        int
	imageViews     []metadata.RawImageView
	images         []metadata.RawImage
	buffers        []metadata.RawBuffer
	memory         []metadata.MemoryBlock
	descriptorSets []metadata.RawDescriptorSet
	uniforms       []uint64
}

func NewDropList(reserve int) *DropList {
	return &DropList{
		reserve:        reserve,
		imageViews:     make([]metadata.RawImageView, 0, reserve),
		images:         make([]metadata.RawImage, 0, reserve),
		buffers:        make([]metadata.RawBuffer, 0, reserve),
		memory:         make([]metadata.MemoryBlock, 0, reserve),
		descriptorSets: make([]metadata.RawDescriptorSet, 0, reserve),
		uniforms:       make([]uint64, 0, reserve),
	}
}

func (dl *DropList) DropImage(image metadata.RawImage) {
	dl.images = append(dl.images, image)
}

func (dl *DropList) DropImageView(view metadata.RawImageView) {
	dl.imageViews = append(dl.imageViews, view)
}

func (dl *DropList) DropBuffer(buffer metadata.RawBuffer) {
	dl.buffers = append(dl.buffers, buffer)
}

func (dl *DropList) FreeMemory(block metadata.MemoryBlock) {
	dl.memory = append(dl.memory, block)
}

func (dl *DropList) FreeDescriptorSets(sets ...metadata.RawDescriptorSet) {
	dl.descriptorSets = append(dl.descriptorSets, sets...)
}

// FreeUniform queues an offset returned by UniformStorage.Push.
func (dl *DropList) FreeUniform(offset uint64) {
	dl.uniforms = append(dl.uniforms, offset)
}

// Len is the number of queued objects.
func (dl *DropList) Len() int {
	return len(dl.imageViews) + len(dl.images) + len(dl.buffers) +
		len(dl.memory) + len(dl.descriptorSets) + len(dl.uniforms)
}

// Purge destroys everything queued: views before their images, then
// buffers, memory, descriptor sets and uniforms. Failures are fatal since a
// half destroyed batch cannot be rolled back. The caller must hold the
// allocators exclusively.
func (dl *DropList) Purge(backend RendererBackend, memory MemoryAllocator, descriptors DescriptorAllocator, uniforms *UniformStorage) {
	for _, view := range dl.imageViews {
		backend.DestroyImageView(view)
	}
	for _, image := range dl.images {
		backend.DestroyImage(image)
	}
	for _, buffer := range dl.buffers {
		backend.DestroyBuffer(buffer)
	}
	for _, block := range dl.memory {
		memory.Free(block)
	}
	if len(dl.descriptorSets) > 0 {
		if err := descriptors.Free(dl.descriptorSets); err != nil {
			core.LogPanic("failed to free %d descriptor sets: %v", len(dl.descriptorSets), err)
		}
	}
	for _, offset := range dl.uniforms {
		uniforms.Dealloc(offset)
	}

	dl.imageViews = shrink(dl.imageViews, dl.reserve)
	dl.images = shrink(dl.images, dl.reserve)
	dl.buffers = shrink(dl.buffers, dl.reserve)
	dl.memory = shrink(dl.memory, dl.reserve)
	dl.descriptorSets = shrink(dl.descriptorSets, dl.reserve)
	dl.uniforms = shrink(dl.uniforms, dl.reserve)
}

func shrink[T any](s []T, reserve int) []T {
	if cap(s) > reserve {
		return make([]T, 0, reserve)
	}
	clear(s)
	return s[:0]
}
