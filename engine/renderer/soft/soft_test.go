package soft

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func newTestBackend(t *testing.T, mutate ...func(*Config)) *Backend {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ArenaSize = 4 << 20
	cfg.CommandArenaSize = 64 << 10
	for _, m := range mutate {
		m(&cfg)
	}
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func TestConfigDecode(t *testing.T) {
	cfg := DefaultConfig()
	err := toml.Unmarshal([]byte(`
queue_latency = "2ms"
queue_depth = 4
`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, Latency(2*time.Millisecond), cfg.QueueLatency)
	assert.Equal(t, 4, cfg.QueueDepth)
	require.NoError(t, cfg.Validate())

	cfg.Granularity = 100
	require.Error(t, cfg.Validate())

	_, err = New(Config{})
	require.Error(t, err)
}

func TestMemoryPlacement(t *testing.T) {
	b := newTestBackend(t)
	mem := b.MemoryAllocator()

	req := metadata.MemoryRequest{Size: 1024, Alignment: 256, MemoryTypeBits: allMemoryTypes}
	local, err := mem.Allocate(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), local.Offset)
	assert.Equal(t, uint32(memoryTypeDeviceLocal), local.MemoryType)
	assert.False(t, local.Dedicated)

	req.Usage = metadata.MemoryUsageUpload
	host, err := mem.Allocate(req)
	require.NoError(t, err)
	assert.Equal(t, local.Memory, host.Memory)
	assert.Equal(t, uint64(4<<20-1024), host.Offset)
	assert.True(t, host.HostCoherent)

	mapped, err := mem.Map(host)
	require.NoError(t, err)
	assert.Len(t, mapped, 1024)
	_, err = mem.Map(local)
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	mem.Free(local)
	mem.Free(host)
	assert.Equal(t, 0, mem.LiveBlocks())
}

func TestMemoryDedicated(t *testing.T) {
	b := newTestBackend(t)
	mem := b.MemoryAllocator()

	block, err := mem.Allocate(metadata.MemoryRequest{Size: 512, Alignment: 64 << 10, Usage: metadata.MemoryUsageHostAccess})
	require.NoError(t, err)
	assert.True(t, block.Dedicated)
	assert.Equal(t, uint64(0), block.Offset)
	assert.Equal(t, 1, b.Stats().MemoryObjects)

	mem.Free(block)
	assert.Equal(t, 0, b.Stats().MemoryObjects)
}

func TestMemoryErrors(t *testing.T) {
	b := newTestBackend(t)
	mem := b.MemoryAllocator()

	_, err := mem.Allocate(metadata.MemoryRequest{})
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	_, err = mem.Allocate(metadata.MemoryRequest{Size: 64, Usage: metadata.MemoryUsageHostAccess, MemoryTypeBits: 1 << memoryTypeDeviceLocal})
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	_, err = mem.Allocate(metadata.MemoryRequest{Size: 1 << 20})
	require.NoError(t, err)
	_, err = mem.Allocate(metadata.MemoryRequest{Size: 2 << 20})
	require.NoError(t, err)
	_, err = mem.Allocate(metadata.MemoryRequest{Size: 2 << 20})
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))
	mem.Cleanup()
}

func TestBufferBinding(t *testing.T) {
	b := newTestBackend(t)
	mem := b.MemoryAllocator()

	raw, req, err := b.CreateBuffer(metadata.HostBuffer(100, metadata.BufferUsageUniformBuffer))
	require.NoError(t, err)
	assert.Equal(t, uint64(256), req.Size)

	block, err := mem.Allocate(metadata.NewMemoryRequest(req, metadata.MemoryUsageHostAccess, false))
	require.NoError(t, err)
	require.NoError(t, b.BindBufferMemory(raw, block))
	require.Error(t, b.BindBufferMemory(raw, block))

	assert.Panics(t, func() { mem.Free(block) })

	b.SetObjectName(metadata.ObjectTypeBuffer, uint64(raw), "uniforms")
	assert.Equal(t, "uniforms", b.ObjectName(uint64(raw)))

	b.DestroyBuffer(raw)
	mem.Free(block)
	assert.Panics(t, func() { b.DestroyBuffer(raw) })
	assert.Equal(t, 0, b.Stats().Buffers)
	assert.Equal(t, 0, b.Stats().MemoryBlocks)
}

func TestImageViews(t *testing.T) {
	b := newTestBackend(t)
	mem := b.MemoryAllocator()

	desc := metadata.TextureImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{16, 16}).WithMipLevels(2)
	raw, req, err := b.CreateImage(desc)
	require.NoError(t, err)
	assert.Equal(t, core.Align(uint64(16*16*4+8*8*4), 256), req.Size)

	resolved, err := metadata.ImageViewDesc{}.Resolve(desc.ImageDesc)
	require.NoError(t, err)
	_, err = b.CreateImageView(raw, resolved)
	require.Error(t, err, "views need bound memory")

	block, err := mem.Allocate(metadata.NewMemoryRequest(req, metadata.MemoryUsageFastDeviceAccess, false))
	require.NoError(t, err)
	require.NoError(t, b.BindImageMemory(raw, block))
	view, err := b.CreateImageView(raw, resolved)
	require.NoError(t, err)

	assert.Panics(t, func() { b.DestroyImage(raw) })
	b.DestroyImageView(view)
	b.DestroyImage(raw)
	mem.Free(block)
	assert.Equal(t, 0, b.Stats().Images)
}

func TestSubmitSignalsFence(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.QueueLatency = Latency(50 * time.Millisecond) })

	pool, err := b.CreateCommandPool()
	require.NoError(t, err)
	cb, err := b.AllocateCommandBuffer(pool)
	require.NoError(t, err)
	require.NoError(t, b.Record(cb, []byte("draw")))
	fence, err := b.CreateFence(false)
	require.NoError(t, err)
	done, err := b.CreateSemaphore()
	require.NoError(t, err)

	require.NoError(t, b.Submit(metadata.SubmitInfo{
		CommandBuffers:   []metadata.RawCommandBuffer{cb},
		SignalSemaphores: []metadata.RawSemaphore{done},
		Fence:            fence,
	}))
	assert.Panics(t, func() { _ = b.ResetCommandPool(pool) }, "pool reset while executing")

	require.NoError(t, b.WaitForFences([]metadata.RawFence{fence}, metadata.WaitForever))
	assert.True(t, b.FenceSignaled(fence))
	assert.Equal(t, uint64(4), b.Stats().ExecutedBytes)

	require.Error(t, b.Submit(metadata.SubmitInfo{Fence: fence}), "fence must be reset first")
	require.NoError(t, b.ResetFences([]metadata.RawFence{fence}))
	assert.False(t, b.FenceSignaled(fence))

	err = b.WaitForFences([]metadata.RawFence{fence}, uint64(time.Millisecond))
	assert.True(t, errors.Is(err, core.ErrTimeout))

	require.NoError(t, b.ResetCommandPool(pool))
	require.NoError(t, b.WaitIdle())
	b.DestroySemaphore(done)
	b.DestroyFence(fence)
	b.DestroyCommandPool(pool)
	assert.Equal(t, 0, b.Stats().Live())
}

func TestSubmitOrderAndBackpressure(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.QueueDepth = 2 })

	fences := make([]metadata.RawFence, 16)
	for i := range fences {
		var err error
		fences[i], err = b.CreateFence(false)
		require.NoError(t, err)
		require.NoError(t, b.Submit(metadata.SubmitInfo{Fence: fences[i]}))
	}
	require.NoError(t, b.WaitForFences(fences[len(fences)-1:], metadata.WaitForever))
	for _, f := range fences {
		assert.True(t, b.FenceSignaled(f))
		b.DestroyFence(f)
	}
	assert.Equal(t, uint64(16), b.Stats().Submissions)
}

func TestRecordArenaExhaustion(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.CommandArenaSize = 64 })

	pool, err := b.CreateCommandPool()
	require.NoError(t, err)
	cb, err := b.AllocateCommandBuffer(pool)
	require.NoError(t, err)
	require.NoError(t, b.Record(cb, make([]byte, 48)))
	err = b.Record(cb, make([]byte, 32))
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))

	require.NoError(t, b.ResetCommandPool(pool))
	require.NoError(t, b.Record(cb, make([]byte, 64)))
	b.DestroyCommandPool(pool)
}

func TestDescriptorAllocator(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.MaxDescriptorSets = 4 })
	d := b.DescriptorAllocator()

	_, err := d.Allocate(0, 1)
	assert.True(t, errors.Is(err, core.ErrInvalidHandle))

	sets, err := d.Allocate(7, 3)
	require.NoError(t, err)
	assert.Len(t, sets, 3)
	_, err = d.Allocate(7, 2)
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))

	require.NoError(t, d.Free(sets[:1]))
	require.Error(t, d.Free(sets[:1]))
	assert.Equal(t, 2, d.Live())
	d.Cleanup()
	assert.Equal(t, 0, d.Live())
}

func TestShutdownReportsLeaks(t *testing.T) {
	b, err := New(DefaultConfig())
	require.NoError(t, err)
	fence, err := b.CreateFence(true)
	require.NoError(t, err)
	require.Error(t, b.Shutdown())

	b.DestroyFence(fence)
	require.NoError(t, b.Shutdown())
	err = b.Submit(metadata.SubmitInfo{})
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
}
