package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "op"))
	assert.NoError(t, resultError(vk.Incomplete, "op"))

	cases := map[vk.Result]error{
		vk.Timeout:                   core.ErrTimeout,
		vk.ErrorOutOfDeviceMemory:    core.ErrOutOfMemory,
		vk.ErrorOutOfPoolMemory:      core.ErrOutOfMemory,
		vk.ErrorFragmentedPool:       core.ErrOutOfMemory,
		vk.ErrorTooManyObjects:       core.ErrTooManyObjects,
		vk.ErrorFormatNotSupported:   core.ErrNotSupported,
		vk.ErrorDeviceLost:           core.ErrDeviceLost,
		vk.ErrorInitializationFailed: core.ErrFail,
		vk.ErrorUnknown:              core.ErrUnknown,
	}
	for result, want := range cases {
		err := resultError(result, "vkTest")
		require.Error(t, err)
		assert.True(t, errors.Is(err, want), "%s: %v", VulkanResultString(result, false), err)
		assert.Contains(t, err.Error(), "vkTest")
	}
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_DEVICE_LOST", VulkanResultString(vk.ErrorDeviceLost, false))
	assert.Equal(t, "VK_SUCCESS Command successfully completed", VulkanResultString(vk.Success, true))
	assert.Equal(t, "VK_ERROR_UNKNOWN", VulkanResultString(vk.Result(-12345), false))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc\x00"))
	assert.Equal(t, "llvmpipe", cString([]byte{'l', 'l', 'v', 'm', 'p', 'i', 'p', 'e', 0, 0, 0}))
}

func TestRegistry(t *testing.T) {
	r := newRegistry[string, int]()
	a, err := r.add("a", 1)
	require.NoError(t, err)
	assert.NotZero(t, a)
	b, err := r.add("b", 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	native, info, ok := r.get(a)
	require.True(t, ok)
	assert.Equal(t, "a", native)
	assert.Equal(t, 1, info)

	*r.info(b) = 5
	_, info, _ = r.get(b)
	assert.Equal(t, 5, info)

	_, _, ok = r.remove(a)
	assert.True(t, ok)
	_, _, ok = r.get(a)
	assert.False(t, ok, "stale id must not resolve")
	assert.Nil(t, r.info(a))

	c, err := r.add("c", 3)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "reused slot gets a new generation")

	_, _, ok = r.get(0)
	assert.False(t, ok)
	_, _, ok = r.get(1 << 40)
	assert.False(t, ok)

	seen := map[string]int{}
	for native, info := range r.drain() {
		seen[native] = info
	}
	assert.Equal(t, map[string]int{"b": 5, "c": 3}, seen)
	assert.Zero(t, r.len())
}

func TestImageConversion(t *testing.T) {
	desc := metadata.CubemapImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{64, 64}).WithMipLevels(7)
	info, err := toVkImageCreateInfo(desc)
	require.NoError(t, err)
	assert.Equal(t, vk.ImageType2d, info.ImageType)
	assert.Equal(t, vk.Extent3D{Width: 64, Height: 64, Depth: 1}, info.Extent)
	assert.Equal(t, uint32(6), info.ArrayLayers)
	assert.Equal(t, uint32(7), info.MipLevels)
	assert.Equal(t, vk.Format(metadata.FormatR8G8B8A8Unorm), info.Format)
	assert.Equal(t, vk.ImageTilingOptimal, info.Tiling)

	volume := metadata.TextureImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{16, 16}).
		WithType(metadata.ImageType3D).
		WithArrayElements(8)
	info, err = toVkImageCreateInfo(volume)
	require.NoError(t, err)
	assert.Equal(t, vk.Extent3D{Width: 16, Height: 16, Depth: 8}, info.Extent)
	assert.Equal(t, uint32(1), info.ArrayLayers)

	_, err = toVkImageCreateInfo(volume.WithType(metadata.ImageType(9)))
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}

func TestImageViewTypes(t *testing.T) {
	cases := map[metadata.ImageViewType]vk.ImageViewType{
		metadata.ImageViewType1D:        vk.ImageViewType1d,
		metadata.ImageViewType2D:        vk.ImageViewType2d,
		metadata.ImageViewType3D:        vk.ImageViewType3d,
		metadata.ImageViewTypeCube:      vk.ImageViewTypeCube,
		metadata.ImageViewType1DArray:   vk.ImageViewType1dArray,
		metadata.ImageViewType2DArray:   vk.ImageViewType2dArray,
		metadata.ImageViewTypeCubeArray: vk.ImageViewTypeCubeArray,
	}
	for in, want := range cases {
		got, err := toVkImageViewType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := toVkImageViewType(metadata.ImageViewTypeAuto)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}

func TestMemoryProperties(t *testing.T) {
	required, preferred := memoryProperties(metadata.MemoryUsageFastDeviceAccess)
	assert.Equal(t, vk.MemoryPropertyDeviceLocalBit, required)
	assert.Equal(t, vk.MemoryPropertyDeviceLocalBit, preferred)

	required, preferred = memoryProperties(metadata.MemoryUsageUpload)
	assert.Equal(t, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, required)
	assert.Zero(t, preferred)

	required, preferred = memoryProperties(metadata.MemoryUsageDownload)
	assert.NotZero(t, required&vk.MemoryPropertyHostVisibleBit)
	assert.Equal(t, vk.MemoryPropertyHostCachedBit, preferred)

	required, preferred = memoryProperties(metadata.MemoryUsageFastDeviceAccess | metadata.MemoryUsageUpload)
	assert.Zero(t, required&vk.MemoryPropertyDeviceLocalBit)
	assert.Equal(t, vk.MemoryPropertyDeviceLocalBit, preferred)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Granularity = 3000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ChunkSize = cfg.Granularity*4 + 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DescriptorPoolSets = 0
	assert.Error(t, cfg.Validate())
}

func TestCommandBufferStateString(t *testing.T) {
	assert.Equal(t, "ready", COMMAND_BUFFER_STATE_READY.String())
	assert.Equal(t, "submitted", COMMAND_BUFFER_STATE_SUBMITTED.String())
	assert.Equal(t, "unknown", VulkanCommandBufferState(42).String())
}
