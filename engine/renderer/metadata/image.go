package metadata

import "fmt"

/** @brief Pixel formats. Values match the Vulkan enumeration. */
type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8Unorm            Format = 9
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// BytesPerPixel is the texel size of the format, zero when unknown.
func (f Format) BytesPerPixel() uint64 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint, FormatR16G16B16A16Sfloat:
		return 8
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

/** @brief Image usage bits. Values match the Vulkan bits. */
type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x00000001
	ImageUsageTransferDst            ImageUsage = 0x00000002
	ImageUsageSampled                ImageUsage = 0x00000004
	ImageUsageStorage                ImageUsage = 0x00000008
	ImageUsageColorAttachment        ImageUsage = 0x00000010
	ImageUsageDepthStencilAttachment ImageUsage = 0x00000020
	ImageUsageTransientAttachment    ImageUsage = 0x00000040
	ImageUsageInputAttachment        ImageUsage = 0x00000080
)

/** @brief Image creation flags. Values match the Vulkan bits. */
type ImageCreateFlags uint32

const (
	ImageCreateCubeCompatible ImageCreateFlags = 0x00000010
)

type ImageType uint32

const (
	ImageType1D ImageType = iota
	ImageType2D
	ImageType3D
)

type ImageTiling uint32

const (
	ImageTilingOptimal ImageTiling = iota
	ImageTilingLinear
)

/** @brief Image view types. The zero value lets the view follow its image. */
type ImageViewType uint32

const (
	ImageViewTypeAuto ImageViewType = iota
	ImageViewType1D
	ImageViewType2D
	ImageViewType3D
	ImageViewTypeCube
	ImageViewType1DArray
	ImageViewType2DArray
	ImageViewTypeCubeArray
)

type ImageAspect uint32

const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

/** @brief The immutable description of a live image. */
type ImageDesc struct {
	Extent        [2]uint32
	Type          ImageType
	Usage         ImageUsage
	Flags         ImageCreateFlags
	Format        Format
	Tiling        ImageTiling
	MipLevels     uint32
	ArrayElements uint32
}

/** @brief Everything needed to create an image and its memory. */
type ImageCreateDesc struct {
	ImageDesc
	Dedicated bool
	/** @brief Optional debug name. */
	Name string
}

func NewImageCreateDesc(format Format, extent [2]uint32) ImageCreateDesc {
	return ImageCreateDesc{ImageDesc: ImageDesc{
		Extent:        extent,
		Type:          ImageType2D,
		Format:        format,
		Tiling:        ImageTilingOptimal,
		MipLevels:     1,
		ArrayElements: 1,
	}}
}

// TextureImage describes a sampled 2D image filled by transfers.
func TextureImage(format Format, extent [2]uint32) ImageCreateDesc {
	return NewImageCreateDesc(format, extent).WithUsage(ImageUsageSampled | ImageUsageTransferDst)
}

// CubemapImage describes a sampled six layer cube.
func CubemapImage(format Format, extent [2]uint32) ImageCreateDesc {
	return TextureImage(format, extent).
		WithFlags(ImageCreateCubeCompatible).
		WithArrayElements(6)
}

func ColorAttachmentImage(format Format, extent [2]uint32) ImageCreateDesc {
	return NewImageCreateDesc(format, extent).WithUsage(ImageUsageSampled | ImageUsageColorAttachment)
}

func DepthStencilAttachmentImage(format Format, extent [2]uint32) ImageCreateDesc {
	return NewImageCreateDesc(format, extent).WithUsage(ImageUsageSampled | ImageUsageDepthStencilAttachment)
}

func (d ImageCreateDesc) WithType(value ImageType) ImageCreateDesc {
	d.Type = value
	return d
}

func (d ImageCreateDesc) WithUsage(value ImageUsage) ImageCreateDesc {
	d.Usage = value
	return d
}

func (d ImageCreateDesc) WithFlags(value ImageCreateFlags) ImageCreateDesc {
	d.Flags = value
	return d
}

func (d ImageCreateDesc) WithTiling(value ImageTiling) ImageCreateDesc {
	d.Tiling = value
	return d
}

func (d ImageCreateDesc) WithMipLevels(value uint32) ImageCreateDesc {
	d.MipLevels = value
	return d
}

func (d ImageCreateDesc) WithArrayElements(value uint32) ImageCreateDesc {
	d.ArrayElements = value
	return d
}

func (d ImageCreateDesc) WithDedicated(value bool) ImageCreateDesc {
	d.Dedicated = value
	return d
}

func (d ImageCreateDesc) WithName(name string) ImageCreateDesc {
	d.Name = name
	return d
}

// Extent3D expands the 2D extent for the image type. 3D images take their
// depth from ArrayElements.
func (d ImageDesc) Extent3D() ([3]uint32, error) {
	switch d.Type {
	case ImageType1D:
		return [3]uint32{d.Extent[0], 1, 1}, nil
	case ImageType2D:
		return [3]uint32{d.Extent[0], d.Extent[1], 1}, nil
	case ImageType3D:
		return [3]uint32{d.Extent[0], d.Extent[1], d.ArrayElements}, nil
	}
	return [3]uint32{}, fmt.Errorf("unknown image type %d", d.Type)
}

// Layers is the number of array layers backing the image.
func (d ImageDesc) Layers() uint32 {
	if d.Type == ImageType3D || d.ArrayElements == 0 {
		return 1
	}
	return d.ArrayElements
}

/**
 * @brief Describes a view of an image. Zero fields follow the image: the view
 * type is derived from the image type, the format and level count are copied.
 * Comparable so it can key a view cache.
 */
type ImageViewDesc struct {
	ViewType     ImageViewType
	Format       Format
	AspectMask   ImageAspect
	BaseMipLevel uint32
	LevelCount   uint32
}

func (v ImageViewDesc) WithViewType(value ImageViewType) ImageViewDesc {
	v.ViewType = value
	return v
}

func (v ImageViewDesc) WithFormat(value Format) ImageViewDesc {
	v.Format = value
	return v
}

func (v ImageViewDesc) WithAspectMask(value ImageAspect) ImageViewDesc {
	v.AspectMask = value
	return v
}

func (v ImageViewDesc) WithBaseMipLevel(value uint32) ImageViewDesc {
	v.BaseMipLevel = value
	return v
}

func (v ImageViewDesc) WithLevelCount(value uint32) ImageViewDesc {
	v.LevelCount = value
	return v
}

/** @brief A view description with every field resolved against its image. */
type ResolvedImageView struct {
	ViewType       ImageViewType
	Format         Format
	AspectMask     ImageAspect
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// Resolve fills the zero fields of v from image.
func (v ImageViewDesc) Resolve(image ImageDesc) (ResolvedImageView, error) {
	out := ResolvedImageView{
		ViewType:     v.ViewType,
		Format:       v.Format,
		AspectMask:   v.AspectMask,
		BaseMipLevel: v.BaseMipLevel,
		LevelCount:   v.LevelCount,
		LayerCount:   image.Layers(),
	}
	if out.Format == FormatUndefined {
		out.Format = image.Format
	}
	if out.AspectMask == 0 {
		out.AspectMask = ImageAspectColor
		if out.Format.IsDepth() {
			out.AspectMask = ImageAspectDepth
		}
	}
	if out.LevelCount == 0 {
		if v.BaseMipLevel >= image.MipLevels {
			return out, fmt.Errorf("base mip level %d out of range (%d levels)", v.BaseMipLevel, image.MipLevels)
		}
		out.LevelCount = image.MipLevels - v.BaseMipLevel
	}
	if out.ViewType == ImageViewTypeAuto {
		viewType, err := defaultViewType(image)
		if err != nil {
			return out, err
		}
		out.ViewType = viewType
	}
	return out, nil
}

func defaultViewType(image ImageDesc) (ImageViewType, error) {
	layers := image.Layers()
	switch image.Type {
	case ImageType1D:
		if layers == 1 {
			return ImageViewType1D, nil
		}
		return ImageViewType1DArray, nil
	case ImageType2D:
		if image.Flags&ImageCreateCubeCompatible != 0 && layers == 6 {
			return ImageViewTypeCube, nil
		}
		if layers == 1 {
			return ImageViewType2D, nil
		}
		return ImageViewType2DArray, nil
	case ImageType3D:
		return ImageViewType3D, nil
	}
	return ImageViewTypeAuto, fmt.Errorf("unknown image type %d", image.Type)
}
