package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

func (b *Backend) CreateFence(signaled bool) (metadata.RawFence, error) {
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var raw uint64
	err := b.locks.SafeCall(SynchronizationManagement, func() error {
		var fence vk.Fence
		if err := resultError(vk.CreateFence(b.device(), &createInfo, b.context.Allocator, &fence), "vkCreateFence"); err != nil {
			return err
		}
		var err error
		if raw, err = b.fences.add(fence, struct{}{}); err != nil {
			vk.DestroyFence(b.device(), fence, b.context.Allocator)
		}
		return err
	})
	return metadata.RawFence(raw), err
}

func (b *Backend) nativeFences(raws []metadata.RawFence) ([]vk.Fence, error) {
	natives := make([]vk.Fence, 0, len(raws))
	err := b.locks.SafeCall(SynchronizationManagement, func() error {
		for _, raw := range raws {
			fence, _, ok := b.fences.get(uint64(raw))
			if !ok {
				return errors.Wrapf(core.ErrInvalidHandle, "fence %d", raw)
			}
			natives = append(natives, fence)
		}
		return nil
	})
	return natives, err
}

// WaitForFences waits without holding any lock so that other threads can
// keep creating objects and submitting work.
func (b *Backend) WaitForFences(raws []metadata.RawFence, timeout uint64) error {
	if len(raws) == 0 {
		return nil
	}
	natives, err := b.nativeFences(raws)
	if err != nil {
		return err
	}
	return resultError(vk.WaitForFences(b.device(), uint32(len(natives)), natives, vk.True, timeout), "vkWaitForFences")
}

func (b *Backend) ResetFences(raws []metadata.RawFence) error {
	if len(raws) == 0 {
		return nil
	}
	natives, err := b.nativeFences(raws)
	if err != nil {
		return err
	}
	return resultError(vk.ResetFences(b.device(), uint32(len(natives)), natives), "vkResetFences")
}

func (b *Backend) DestroyFence(raw metadata.RawFence) {
	_ = b.locks.SafeCall(SynchronizationManagement, func() error {
		fence, _, ok := b.fences.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown fence %d", raw)
		}
		vk.DestroyFence(b.device(), fence, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeFence, uint64(raw))
}

func (b *Backend) CreateSemaphore() (metadata.RawSemaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var raw uint64
	err := b.locks.SafeCall(SynchronizationManagement, func() error {
		var semaphore vk.Semaphore
		if err := resultError(vk.CreateSemaphore(b.device(), &createInfo, b.context.Allocator, &semaphore), "vkCreateSemaphore"); err != nil {
			return err
		}
		var err error
		if raw, err = b.semaphores.add(semaphore, struct{}{}); err != nil {
			vk.DestroySemaphore(b.device(), semaphore, b.context.Allocator)
		}
		return err
	})
	return metadata.RawSemaphore(raw), err
}

func (b *Backend) DestroySemaphore(raw metadata.RawSemaphore) {
	_ = b.locks.SafeCall(SynchronizationManagement, func() error {
		semaphore, _, ok := b.semaphores.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown semaphore %d", raw)
		}
		vk.DestroySemaphore(b.device(), semaphore, b.context.Allocator)
		return nil
	})
	b.forget(metadata.ObjectTypeSemaphore, uint64(raw))
}

func (b *Backend) nativeSemaphores(raws []metadata.RawSemaphore) ([]vk.Semaphore, error) {
	natives := make([]vk.Semaphore, 0, len(raws))
	for _, raw := range raws {
		semaphore, _, ok := b.semaphores.get(uint64(raw))
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidHandle, "semaphore %d", raw)
		}
		natives = append(natives, semaphore)
	}
	return natives, nil
}

// Submit queues the command buffers on the graphics queue. Waits happen at
// the top of the pipe since the renderer does not track stages.
func (b *Backend) Submit(info metadata.SubmitInfo) error {
	commandBuffers, err := b.executable(info.CommandBuffers)
	if err != nil {
		return err
	}
	var (
		wait, signal []vk.Semaphore
		fence        = vk.NullFence
	)
	err = b.locks.SafeCall(SynchronizationManagement, func() error {
		var err error
		if wait, err = b.nativeSemaphores(info.WaitSemaphores); err != nil {
			return err
		}
		if signal, err = b.nativeSemaphores(info.SignalSemaphores); err != nil {
			return err
		}
		if info.Fence != 0 {
			var ok bool
			if fence, _, ok = b.fences.get(uint64(info.Fence)); !ok {
				return errors.Wrapf(core.ErrInvalidHandle, "fence %d", info.Fence)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	stages := make([]vk.PipelineStageFlags, len(wait))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	queue := b.context.Device.GraphicsQueue
	return b.locks.SafeQueueCall(b.context.Device.GraphicsQueueIndex, func() error {
		return resultError(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
	})
}

func (b *Backend) WaitIdle() error {
	return b.locks.SafeQueueCall(b.context.Device.GraphicsQueueIndex, func() error {
		return resultError(vk.DeviceWaitIdle(b.device()), "vkDeviceWaitIdle")
	})
}
