package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// Image is a device image and the views created from it. Views are cached
// per description and destroyed together with the image.
type Image struct {
	raw       metadata.RawImage
	desc      metadata.ImageDesc
	memory    metadata.MemoryBlock
	hasMemory bool

	viewsMu sync.RWMutex
	views   map[metadata.ImageViewDesc]metadata.RawImageView
}

type (
	ImageHandle  = containers.Handle[metadata.RawImage, *Image]
	ImageStorage = containers.Pool[metadata.RawImage, *Image]
)

func (i *Image) Desc() metadata.ImageDesc {
	return i.desc
}

// GetOrCreateView returns the cached view for desc, creating it on first use.
func (i *Image) GetOrCreateView(backend RendererBackend, desc metadata.ImageViewDesc) (metadata.RawImageView, error) {
	i.viewsMu.RLock()
	view, ok := i.views[desc]
	i.viewsMu.RUnlock()
	if ok {
		return view, nil
	}

	i.viewsMu.Lock()
	defer i.viewsMu.Unlock()
	if view, ok := i.views[desc]; ok {
		return view, nil
	}
	if !i.hasMemory {
		return 0, errors.Wrap(core.ErrInvalidHandle, "image was destroyed")
	}
	resolved, err := desc.Resolve(i.desc)
	if err != nil {
		return 0, errors.Mark(err, core.ErrNotSupported)
	}
	view, err = backend.CreateImageView(i.raw, resolved)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create image view")
	}
	if i.views == nil {
		i.views = make(map[metadata.ImageViewDesc]metadata.RawImageView)
	}
	i.views[desc] = view
	return view, nil
}

// ViewCount is the number of cached views.
func (i *Image) ViewCount() int {
	i.viewsMu.RLock()
	defer i.viewsMu.RUnlock()
	return len(i.views)
}

// toDrop moves the views, the image and its memory to dl.
func (i *Image) toDrop(dl *DropList) {
	i.viewsMu.Lock()
	defer i.viewsMu.Unlock()
	for _, view := range i.views {
		dl.DropImageView(view)
	}
	clear(i.views)
	if i.hasMemory {
		dl.FreeMemory(i.memory)
		dl.DropImage(i.raw)
		i.hasMemory = false
	}
}

func createImageImpl(backend RendererBackend, allocator MemoryAllocator, desc metadata.ImageCreateDesc) (*Image, error) {
	if desc.Extent[0] == 0 || desc.MipLevels == 0 || desc.ArrayElements == 0 {
		return nil, errors.Newf("image %q has an empty extent, mip chain or layer count", desc.Name)
	}
	if _, err := desc.Extent3D(); err != nil {
		return nil, errors.Mark(err, core.ErrNotSupported)
	}
	raw, req, err := backend.CreateImage(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create image %q", desc.Name)
	}
	block, err := allocator.Allocate(requestFor(req, metadata.MemoryUsageFastDeviceAccess, 0, desc.Dedicated))
	if err != nil {
		backend.DestroyImage(raw)
		return nil, errors.Wrapf(err, "failed to allocate %d bytes for image %q", req.Size, desc.Name)
	}
	if err := backend.BindImageMemory(raw, block); err != nil {
		backend.DestroyImage(raw)
		allocator.Free(block)
		return nil, errors.Wrapf(err, "failed to bind memory of image %q", desc.Name)
	}
	if desc.Name != "" {
		backend.SetObjectName(metadata.ObjectTypeImage, uint64(raw), desc.Name)
	}
	return &Image{
		raw:       raw,
		desc:      desc.ImageDesc,
		memory:    block,
		hasMemory: true,
	}, nil
}
