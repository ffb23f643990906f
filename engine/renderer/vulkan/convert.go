package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// Formats, usage bits and create flags in metadata carry the Vulkan values,
// so most conversions are plain casts.

func toVkImageType(t metadata.ImageType) vk.ImageType {
	switch t {
	case metadata.ImageType1D:
		return vk.ImageType1d
	case metadata.ImageType3D:
		return vk.ImageType3d
	}
	return vk.ImageType2d
}

func toVkImageTiling(t metadata.ImageTiling) vk.ImageTiling {
	if t == metadata.ImageTilingLinear {
		return vk.ImageTilingLinear
	}
	return vk.ImageTilingOptimal
}

// toVkImageViewType maps a resolved view type. metadata reserves zero for
// "follow the image", so every other value is one past the Vulkan value.
func toVkImageViewType(t metadata.ImageViewType) (vk.ImageViewType, error) {
	if t == metadata.ImageViewTypeAuto || t > metadata.ImageViewTypeCubeArray {
		return 0, errors.Wrapf(core.ErrNotSupported, "image view type %d", t)
	}
	return vk.ImageViewType(t - 1), nil
}

func toVkBufferCreateInfo(desc metadata.BufferCreateDesc) vk.BufferCreateInfo {
	return vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
}

func toVkImageCreateInfo(desc metadata.ImageCreateDesc) (vk.ImageCreateInfo, error) {
	extent, err := desc.Extent3D()
	if err != nil {
		return vk.ImageCreateInfo{}, errors.Mark(err, core.ErrNotSupported)
	}
	return vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     vk.ImageCreateFlags(desc.Flags),
		ImageType: toVkImageType(desc.Type),
		Format:    vk.Format(desc.Format),
		Extent: vk.Extent3D{
			Width:  extent[0],
			Height: extent[1],
			Depth:  extent[2],
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.Layers(),
		Samples:       vk.SampleCount1Bit,
		Tiling:        toVkImageTiling(desc.Tiling),
		Usage:         vk.ImageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil
}

func toVkImageViewCreateInfo(image vk.Image, view metadata.ResolvedImageView) (vk.ImageViewCreateInfo, error) {
	viewType, err := toVkImageViewType(view.ViewType)
	if err != nil {
		return vk.ImageViewCreateInfo{}, err
	}
	return vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   vk.Format(view.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(view.AspectMask),
			BaseMipLevel:   view.BaseMipLevel,
			LevelCount:     view.LevelCount,
			BaseArrayLayer: view.BaseArrayLayer,
			LayerCount:     view.LayerCount,
		},
	}, nil
}

// memoryProperties returns the property flags a memory type must have for
// usage and the ones that are nice to have.
func memoryProperties(usage metadata.MemoryUsage) (required, preferred vk.MemoryPropertyFlagBits) {
	if usage&metadata.MemoryUsageFastDeviceAccess != 0 {
		preferred |= vk.MemoryPropertyDeviceLocalBit
	}
	if usage.HostVisible() {
		required |= vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	if usage&metadata.MemoryUsageDownload != 0 {
		preferred |= vk.MemoryPropertyHostCachedBit
	}
	if usage == metadata.MemoryUsageFastDeviceAccess {
		required |= vk.MemoryPropertyDeviceLocalBit
	}
	return required, preferred
}
