package renderer

import (
	"bytes"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/soft"
)

var (
	_ RendererBackend     = (*soft.Backend)(nil)
	_ MemoryAllocator     = (*soft.MemoryAllocator)(nil)
	_ DescriptorAllocator = (*soft.DescriptorAllocator)(nil)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.TempMemorySize = 64 * KiB
	cfg.UniformBufferSize = 256 * KiB
	cfg.StagingSize = 64 * KiB
	cfg.DropListReserve = 8
	return cfg
}

func newTestBackend(t *testing.T) *soft.Backend {
	t.Helper()
	cfg := soft.DefaultConfig()
	cfg.HeapSize = 16 * MiB
	cfg.ArenaSize = 8 * MiB
	cfg.CommandArenaSize = 64 * KiB
	backend, err := soft.New(cfg)
	require.NoError(t, err)
	return backend
}

// newTestDevice returns a device whose teardown is checked for leaks.
func newTestDevice(t *testing.T) (*Device, *soft.Backend) {
	t.Helper()
	backend := newTestBackend(t)
	device, err := NewDevice(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		if !device.destroyed.Load() {
			device.Destroy()
		}
		assert.NoError(t, backend.Shutdown())
	})
	return device, backend
}

// cycle runs n empty frames.
func cycle(t *testing.T, d *Device, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		lease, err := d.BeginFrame()
		require.NoError(t, err)
		d.EndFrame(lease)
	}
}

func TestNewDeviceRejectsConfig(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig()
	cfg.TempAlignment = 3
	_, err := NewDevice(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), cfg)
	require.Error(t, err)
	require.NoError(t, backend.Shutdown())
}

func TestNewDeviceCleansUpOnFailure(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig()
	cfg.StagingSize = 16 * MiB // does not fit the soft heap
	_, err := NewDevice(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))
	require.NoError(t, backend.Shutdown(), "a failed device leaves nothing behind")
}

func TestDeviceBuffers(t *testing.T) {
	d, _ := newTestDevice(t)

	handle, err := d.CreateBuffer(metadata.HostBuffer(64, metadata.BufferUsageVertexBuffer).WithName("vertices"))
	require.NoError(t, err)
	assert.True(t, handle.IsValid())
	assert.Equal(t, 1, d.Buffers())

	desc, err := d.BufferDesc(handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), desc.Size)

	require.NoError(t, d.WriteBuffer(handle, 60, []byte{1, 2, 3, 4}))
	err = d.WriteBuffer(handle, 62, []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, core.ErrOutOfAllocatedSpace))

	gpu, err := d.CreateBuffer(metadata.GPUBuffer(64, metadata.BufferUsageStorageBuffer))
	require.NoError(t, err)
	err = d.WriteBuffer(gpu, 0, []byte{1})
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	_, err = d.CreateBuffer(metadata.GPUBuffer(0, metadata.BufferUsageStorageBuffer))
	require.Error(t, err)

	d.DestroyBuffer(handle)
	_, err = d.RawBuffer(handle)
	assert.True(t, errors.Is(err, core.ErrInvalidHandle), "stale handles are rejected right away")
	d.DestroyBuffer(handle)
	assert.Equal(t, 1, d.Buffers())
}

func TestDeviceImageViews(t *testing.T) {
	d, backend := newTestDevice(t)

	handle, err := d.CreateImage(metadata.CubemapImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{8, 8}).WithName("sky"))
	require.NoError(t, err)
	desc, err := d.ImageDesc(handle)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), desc.Layers())

	view, err := d.ImageView(handle, metadata.ImageViewDesc{})
	require.NoError(t, err)
	again, err := d.ImageView(handle, metadata.ImageViewDesc{})
	require.NoError(t, err)
	assert.Equal(t, view, again)

	other, err := d.ImageView(handle, metadata.ImageViewDesc{}.WithFormat(metadata.FormatR8G8B8A8Srgb))
	require.NoError(t, err)
	assert.NotEqual(t, view, other)
	assert.Equal(t, 2, backend.Stats().ImageViews)

	_, err = d.ImageView(handle, metadata.ImageViewDesc{}.WithBaseMipLevel(3))
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	d.DestroyImage(handle)
	_, err = d.ImageView(handle, metadata.ImageViewDesc{})
	assert.True(t, errors.Is(err, core.ErrInvalidHandle))

	cycle(t, d, 3)
	assert.Equal(t, 0, backend.Stats().ImageViews)
	assert.Equal(t, 0, backend.Stats().Images)
}

func TestBeginFrameOnFreshDevice(t *testing.T) {
	d, _ := newTestDevice(t)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lease.Number())
	assert.Equal(t, 0, lease.Index())
	assert.Equal(t, FrameStateRecording, lease.State())
	d.EndFrame(lease)
}

func TestBeginFrameTwiceIsFatal(t *testing.T) {
	d, _ := newTestDevice(t)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = d.BeginFrame() })
	d.EndFrame(lease)
}

func TestFrameRotation(t *testing.T) {
	d, _ := newTestDevice(t)

	var indices []int
	for i := 0; i < 4; i++ {
		lease, err := d.BeginFrame()
		require.NoError(t, err)
		indices = append(indices, lease.Index())
		d.EndFrame(lease)

		assert.Panics(t, func() { lease.PushTemp([]byte{1}) }, "lease is dead after EndFrame")
		assert.Panics(t, func() { d.EndFrame(lease) })
	}
	assert.Equal(t, []int{0, 1, 0, 1}, indices)
	assert.Equal(t, uint64(4), d.FrameNumber())
}

func TestPushTemp(t *testing.T) {
	d, _ := newTestDevice(t)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	defer d.EndFrame(lease)

	data := bytes.Repeat([]byte{7}, 100)
	first, err := lease.PushTemp(data)
	require.NoError(t, err)
	second, err := lease.PushTemp(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first)
	assert.Equal(t, uint32(256), second)
	assert.Equal(t, uint32(512), lease.TempUsed())
	assert.Equal(t, data, lease.TempMapping().Read(uint64(second), 100))

	offset, err := PushTempSlice(lease, []vertex{{Color: 1}, {Color: 2}})
	require.NoError(t, err)
	assert.Equal(t, uint32(512), offset)

	_, err = lease.PushTemp(make([]byte, 64*KiB))
	assert.True(t, errors.Is(err, core.ErrOutOfTempMemory))
	_, err = lease.PushTemp(make([]byte, 64*KiB+1))
	assert.True(t, errors.Is(err, core.ErrOutOfTempMemory))
}

func TestPushTempConcurrent(t *testing.T) {
	d, _ := newTestDevice(t)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	defer d.EndFrame(lease)

	const workers, pushes = 8, 16
	var (
		mu      sync.Mutex
		offsets = make(map[uint32]bool)
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				offset, err := lease.PushTemp(make([]byte, 200))
				assert.NoError(t, err)
				mu.Lock()
				offsets[offset] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, offsets, workers*pushes)
	assert.Equal(t, uint32(workers*pushes*256), lease.TempUsed())
}

func TestTempRegionRewinds(t *testing.T) {
	d, _ := newTestDevice(t)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	_, err = lease.PushTemp(make([]byte, 1000))
	require.NoError(t, err)
	d.EndFrame(lease)
	cycle(t, d, 1)

	lease, err = d.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, 0, lease.Index())
	assert.Equal(t, uint32(0), lease.TempUsed())
	d.EndFrame(lease)
}

func TestSubmitAndRecycle(t *testing.T) {
	d, backend := newTestDevice(t)

	for i := 0; i < 6; i++ {
		lease, err := d.BeginFrame()
		require.NoError(t, err)
		require.NoError(t, backend.Record(lease.MainCommandBuffer(), []byte("draw")))
		require.NoError(t, d.Submit(lease, CommandBufferMain, nil, []metadata.RawSemaphore{lease.FinishedSemaphore()}))
		require.NoError(t, backend.Record(lease.PresentCommandBuffer(), []byte("present")))
		require.NoError(t, d.Submit(lease, CommandBufferPresent, []metadata.RawSemaphore{lease.FinishedSemaphore()}, nil))
		assert.Equal(t, FrameStateSubmitted, lease.State())
		d.EndFrame(lease)
	}
	require.NoError(t, backend.WaitIdle())
	stats := backend.Stats()
	assert.Equal(t, uint64(12), stats.Submissions)
	assert.Equal(t, uint64(6*len("drawpresent")), stats.ExecutedBytes)
}

func TestDeferredDestruction(t *testing.T) {
	d, backend := newTestDevice(t)
	baseline := backend.Stats().Buffers

	handle, err := d.CreateBuffer(metadata.GPUBuffer(256, metadata.BufferUsageStorageBuffer))
	require.NoError(t, err)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	d.DestroyBuffer(handle)
	d.EndFrame(lease)
	assert.Equal(t, baseline+1, backend.Stats().Buffers)

	// The buffer may be referenced by the frame that was recording when it
	// was dropped, and by the one after it.
	cycle(t, d, 2)
	assert.Equal(t, baseline+1, backend.Stats().Buffers)
	cycle(t, d, 1)
	assert.Equal(t, baseline, backend.Stats().Buffers)
}

func TestDeviceUniforms(t *testing.T) {
	d, _ := newTestDevice(t)

	type skin struct {
		Model [16]float32
		Bones [4][16]float32
		Tint  [4]float32
	}
	value := skin{Tint: [4]float32{1, 0, 0, 1}}
	offset, err := PushUniform(d, &value)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), d.uniforms.Stride(offset))
	assert.NotZero(t, d.UniformBuffer())

	_, err = d.PushUniformBytes(nil)
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	d.FreeUniform(offset)
	assert.Equal(t, uint64(1), d.uniforms.Live())
	cycle(t, d, 3)
	assert.Equal(t, uint64(0), d.uniforms.Live())
}

func TestDeviceDescriptorSets(t *testing.T) {
	d, backend := newTestDevice(t)

	sets, err := d.AllocateDescriptorSets(1, 3)
	require.NoError(t, err)
	assert.Len(t, sets, 3)
	_, err = d.AllocateDescriptorSets(0, 1)
	require.Error(t, err)

	d.DropDescriptorSets(sets...)
	assert.Equal(t, 3, backend.Stats().DescriptorSets)
	cycle(t, d, 3)
	assert.Equal(t, 0, backend.Stats().DescriptorSets)
}

func TestDeviceStaging(t *testing.T) {
	d, _ := newTestDevice(t)

	first, err := d.PushStaging([]byte("texels"))
	require.NoError(t, err)
	second, err := d.PushStaging([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(256), second)
	assert.NotZero(t, d.StagingBuffer())

	_, err = d.PushStaging(nil)
	require.Error(t, err)
	_, err = d.PushStaging(make([]byte, 64*KiB+1))
	assert.True(t, errors.Is(err, core.ErrOutOfAllocatedSpace))
}

func TestDestroyReleasesEverything(t *testing.T) {
	backend := newTestBackend(t)
	d, err := NewDevice(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), testConfig())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := d.CreateBuffer(metadata.HostBuffer(128, metadata.BufferUsageUniformBuffer))
		require.NoError(t, err)
		image, err := d.CreateImage(metadata.TextureImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{4, 4}))
		require.NoError(t, err)
		_, err = d.ImageView(image, metadata.ImageViewDesc{})
		require.NoError(t, err)
	}
	sets, err := d.AllocateDescriptorSets(1, 2)
	require.NoError(t, err)
	d.DropDescriptorSets(sets...)
	_, err = d.PushUniformBytes(make([]byte, 64))
	require.NoError(t, err)

	lease, err := d.BeginFrame()
	require.NoError(t, err)
	require.NoError(t, d.Submit(lease, CommandBufferMain, nil, nil))
	d.EndFrame(lease)

	d.Destroy()
	d.Destroy()
	assert.Equal(t, 0, backend.Stats().Live(), backend.Stats().String())
	require.NoError(t, backend.Shutdown())
}

func TestDestroyWhileLeasedIsFatal(t *testing.T) {
	backend := newTestBackend(t)
	d, err := NewDevice(backend, backend.MemoryAllocator(), backend.DescriptorAllocator(), testConfig())
	require.NoError(t, err)

	_, err = d.BeginFrame()
	require.NoError(t, err)
	assert.Panics(t, d.Destroy)
	_ = backend.Shutdown()
}
