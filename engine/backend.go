package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/soft"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/vulkan"
)

// openDevice creates the configured backend and a Device on top of it. The
// returned function shuts the backend down once the Device is destroyed.
func openDevice(cfg ApplicationConfig) (*renderer.Device, renderer.RendererBackend, func() error, error) {
	var (
		backend     renderer.RendererBackend
		allocator   renderer.MemoryAllocator
		descriptors renderer.DescriptorAllocator
		shutdown    func() error
	)
	switch cfg.Backend {
	case BackendSoft:
		b, err := soft.New(cfg.Soft)
		if err != nil {
			return nil, nil, nil, err
		}
		backend, allocator, descriptors, shutdown = b, b.MemoryAllocator(), b.DescriptorAllocator(), b.Shutdown
	case BackendVulkan:
		b, err := vulkan.New(cfg.Vulkan)
		if err != nil {
			return nil, nil, nil, err
		}
		backend, allocator, descriptors, shutdown = b, b.MemoryAllocator(), b.DescriptorAllocator(), b.Shutdown
	default:
		return nil, nil, nil, errors.Wrapf(core.ErrNotSupported, "backend %q", cfg.Backend)
	}

	device, err := renderer.NewDevice(backend, allocator, descriptors, cfg.Renderer)
	if err != nil {
		if shutdownErr := shutdown(); shutdownErr != nil {
			core.LogWarn("%s backend shutdown: %v", backend.Name(), shutdownErr)
		}
		return nil, nil, nil, err
	}
	return device, backend, shutdown, nil
}
