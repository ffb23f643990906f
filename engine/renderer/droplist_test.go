package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func TestDropListPurgeOrder(t *testing.T) {
	backend := newTestBackend(t)
	mem := backend.MemoryAllocator()
	descriptors := backend.DescriptorAllocator()
	uniforms := newTestUniforms(1)

	image, err := createImageImpl(backend, mem, metadata.TextureImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{4, 4}))
	require.NoError(t, err)
	_, err = image.GetOrCreateView(backend, metadata.ImageViewDesc{})
	require.NoError(t, err)
	buffer, err := createBufferImpl(backend, mem, metadata.HostBuffer(32, metadata.BufferUsageUniformBuffer))
	require.NoError(t, err)
	sets, err := descriptors.Allocate(1, 2)
	require.NoError(t, err)
	offset, err := uniforms.Push(make([]byte, 32))
	require.NoError(t, err)

	// Queue everything in the reverse of the order it must be destroyed.
	dl := NewDropList(1)
	dl.FreeUniform(offset)
	dl.FreeDescriptorSets(sets...)
	dl.FreeMemory(buffer.memory)
	dl.FreeMemory(image.memory)
	dl.DropBuffer(buffer.raw)
	dl.DropImage(image.raw)
	for _, view := range image.views {
		dl.DropImageView(view)
	}
	assert.Equal(t, 8, dl.Len())

	dl.Purge(backend, mem, descriptors, uniforms)
	assert.Equal(t, 0, dl.Len())
	assert.Equal(t, uint64(0), uniforms.Live())

	dl.Purge(backend, mem, descriptors, uniforms)
	mem.Cleanup()
	require.NoError(t, backend.Shutdown())
}

func TestDropListShrinksToReserve(t *testing.T) {
	backend := newTestBackend(t)
	dl := NewDropList(2)
	for i := 0; i < 8; i++ {
		dl.FreeUniform(uint64(i))
	}
	assert.Greater(t, cap(dl.uniforms), 2)
	dl.uniforms = dl.uniforms[:0]
	dl.Purge(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), nil)
	assert.Equal(t, 2, cap(dl.uniforms))
	require.NoError(t, backend.Shutdown())
}

func TestBufferToDrop(t *testing.T) {
	backend := newTestBackend(t)
	mem := backend.MemoryAllocator()
	buffer, err := createBufferImpl(backend, mem, metadata.GPUBuffer(32, metadata.BufferUsageStorageBuffer))
	require.NoError(t, err)

	dl := NewDropList(4)
	buffer.toDrop(dl)
	buffer.toDrop(dl)
	assert.Equal(t, 2, dl.Len(), "a buffer is queued once")

	dl.Purge(backend, mem, backend.DescriptorAllocator(), nil)
	mem.Cleanup()
	require.NoError(t, backend.Shutdown())
}
