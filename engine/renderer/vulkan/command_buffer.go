package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	}
	return "unknown"
}

type commandBufferInfo struct {
	pool  uint64
	state VulkanCommandBufferState
}

func (b *Backend) CreateCommandPool() (metadata.RawCommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: b.context.Device.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var raw uint64
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		var pool vk.CommandPool
		if err := resultError(vk.CreateCommandPool(b.device(), &createInfo, b.context.Allocator, &pool), "vkCreateCommandPool"); err != nil {
			return err
		}
		var err error
		if raw, err = b.pools.add(pool, nil); err != nil {
			vk.DestroyCommandPool(b.device(), pool, b.context.Allocator)
		}
		return err
	})
	return metadata.RawCommandPool(raw), err
}

// ResetCommandPool returns every command buffer of the pool to the ready
// state. None of them may still be executing.
func (b *Backend) ResetCommandPool(raw metadata.RawCommandPool) error {
	return b.locks.SafeCall(CommandPoolManagement, func() error {
		pool, buffers, ok := b.pools.get(uint64(raw))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "command pool %d", raw)
		}
		if err := resultError(vk.ResetCommandPool(b.device(), pool, 0), "vkResetCommandPool"); err != nil {
			return err
		}
		for _, cb := range buffers {
			if info := b.commandBuffers.info(cb); info != nil {
				info.state = COMMAND_BUFFER_STATE_READY
			}
		}
		return nil
	})
}

// DestroyCommandPool frees the pool together with its command buffers.
func (b *Backend) DestroyCommandPool(raw metadata.RawCommandPool) {
	_ = b.locks.SafeCall(CommandPoolManagement, func() error {
		pool, buffers, ok := b.pools.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown command pool %d", raw)
		}
		for _, cb := range buffers {
			b.commandBuffers.remove(cb)
			b.forget(metadata.ObjectTypeCommandBuffer, cb)
		}
		vk.DestroyCommandPool(b.device(), pool, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeCommandPool, uint64(raw))
}

func (b *Backend) AllocateCommandBuffer(raw metadata.RawCommandPool) (metadata.RawCommandBuffer, error) {
	var id uint64
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		pool, _, ok := b.pools.get(uint64(raw))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "command pool %d", raw)
		}
		allocateInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        pool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		handles := make([]vk.CommandBuffer, 1)
		if err := resultError(vk.AllocateCommandBuffers(b.device(), &allocateInfo, handles), "vkAllocateCommandBuffers"); err != nil {
			return err
		}
		var err error
		if id, err = b.commandBuffers.add(handles[0], commandBufferInfo{pool: uint64(raw)}); err != nil {
			vk.FreeCommandBuffers(b.device(), pool, 1, handles)
			return err
		}
		buffers := b.pools.info(uint64(raw))
		*buffers = append(*buffers, id)
		return nil
	})
	return metadata.RawCommandBuffer(id), err
}

// Begin starts recording and returns the native command buffer. The handle
// is valid until End.
func (b *Backend) Begin(raw metadata.RawCommandBuffer) (vk.CommandBuffer, error) {
	var native vk.CommandBuffer
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		var err error
		native, err = b.begin(uint64(raw))
		return err
	})
	return native, err
}

func (b *Backend) begin(raw uint64) (vk.CommandBuffer, error) {
	native, info, ok := b.commandBuffers.get(raw)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "command buffer %d", raw)
	}
	if info.state != COMMAND_BUFFER_STATE_READY {
		return nil, errors.Newf("command buffer %d is %s", raw, info.state)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := resultError(vk.BeginCommandBuffer(native, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		return nil, err
	}
	b.commandBuffers.info(raw).state = COMMAND_BUFFER_STATE_RECORDING
	return native, nil
}

func (b *Backend) End(raw metadata.RawCommandBuffer) error {
	return b.locks.SafeCall(CommandPoolManagement, func() error {
		return b.end(uint64(raw))
	})
}

func (b *Backend) end(raw uint64) error {
	native, info, ok := b.commandBuffers.get(raw)
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "command buffer %d", raw)
	}
	if info.state != COMMAND_BUFFER_STATE_RECORDING {
		return errors.Newf("command buffer %d is %s", raw, info.state)
	}
	if err := resultError(vk.EndCommandBuffer(native), "vkEndCommandBuffer"); err != nil {
		return err
	}
	b.commandBuffers.info(raw).state = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// executable resolves command buffers for submission. Buffers nobody
// recorded into are closed empty so the queue accepts them.
func (b *Backend) executable(raws []metadata.RawCommandBuffer) ([]vk.CommandBuffer, error) {
	natives := make([]vk.CommandBuffer, 0, len(raws))
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		for _, raw := range raws {
			native, info, ok := b.commandBuffers.get(uint64(raw))
			if !ok {
				return errors.Wrapf(core.ErrInvalidHandle, "command buffer %d", raw)
			}
			switch info.state {
			case COMMAND_BUFFER_STATE_READY:
				if _, err := b.begin(uint64(raw)); err != nil {
					return err
				}
				fallthrough
			case COMMAND_BUFFER_STATE_RECORDING:
				if err := b.end(uint64(raw)); err != nil {
					return err
				}
			case COMMAND_BUFFER_STATE_SUBMITTED:
				core.LogPanic("command buffer %d submitted twice without a pool reset", raw)
			}
			b.commandBuffers.info(uint64(raw)).state = COMMAND_BUFFER_STATE_SUBMITTED
			natives = append(natives, native)
		}
		return nil
	})
	return natives, err
}
