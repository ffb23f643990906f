package soft

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// Submit queues work for the worker. It blocks while the queue is full.
func (b *Backend) Submit(info metadata.SubmitInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, raw := range info.CommandBuffers {
		if _, ok := b.commandBuffers[raw]; !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "command buffer %d", raw)
		}
	}
	for _, raw := range info.WaitSemaphores {
		if _, ok := b.semaphores[raw]; !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "wait semaphore %d", raw)
		}
	}
	for _, raw := range info.SignalSemaphores {
		if _, ok := b.semaphores[raw]; !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "signal semaphore %d", raw)
		}
	}
	if info.Fence != 0 {
		f, ok := b.fences[info.Fence]
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "fence %d", info.Fence)
		}
		if f.signaled {
			return errors.Newf("fence %d submitted while signaled", info.Fence)
		}
	}

	for b.pending.IsFull() && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return errors.Wrap(core.ErrDeviceLost, "queue is shut down")
	}
	info = metadata.SubmitInfo{
		CommandBuffers:   append([]metadata.RawCommandBuffer(nil), info.CommandBuffers...),
		WaitSemaphores:   append([]metadata.RawSemaphore(nil), info.WaitSemaphores...),
		SignalSemaphores: append([]metadata.RawSemaphore(nil), info.SignalSemaphores...),
		Fence:            info.Fence,
	}
	if err := b.pending.Enqueue(info); err != nil {
		return errors.Wrap(err, "submission queue")
	}
	for _, raw := range info.CommandBuffers {
		b.commandBuffers[raw].pending++
	}
	b.submissions.Add(1)
	b.cond.Broadcast()
	return nil
}

// run is the queue worker. Submissions complete strictly in order.
func (b *Backend) run() {
	defer b.worker.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		for b.pending.IsEmpty() && !b.closed {
			b.cond.Wait()
		}
		if b.pending.IsEmpty() {
			return
		}
		info, err := b.pending.Dequeue()
		if err != nil {
			core.LogError("soft queue: %v", err)
			continue
		}
		b.busy = true
		b.cond.Broadcast()

		if latency := time.Duration(b.cfg.QueueLatency); latency > 0 {
			b.mu.Unlock()
			time.Sleep(latency)
			b.mu.Lock()
		}
		b.execute(info)
		b.busy = false
		b.cond.Broadcast()
	}
}

// execute must be called with b.mu held.
func (b *Backend) execute(info metadata.SubmitInfo) {
	for _, raw := range info.WaitSemaphores {
		s, ok := b.semaphores[raw]
		if !ok {
			continue
		}
		if !s.signaled {
			core.LogWarn("soft queue: waiting on semaphore %d that nothing signaled", raw)
		}
		s.signaled = false
	}
	for _, raw := range info.CommandBuffers {
		cb, ok := b.commandBuffers[raw]
		if !ok {
			continue
		}
		for _, payload := range cb.recorded {
			b.executedBytes.Add(uint64(len(payload)))
		}
		cb.pending--
	}
	for _, raw := range info.SignalSemaphores {
		if s, ok := b.semaphores[raw]; ok {
			s.signaled = true
		}
	}
	if f, ok := b.fences[info.Fence]; ok {
		f.signal()
	}
}

func (b *Backend) WaitForFences(fences []metadata.RawFence, timeout uint64) error {
	b.mu.Lock()
	done := make([]chan struct{}, 0, len(fences))
	for _, raw := range fences {
		f, ok := b.fences[raw]
		if !ok {
			b.mu.Unlock()
			return errors.Wrapf(core.ErrInvalidHandle, "fence %d", raw)
		}
		done = append(done, f.done)
	}
	b.mu.Unlock()

	if timeout == metadata.WaitForever {
		for _, ch := range done {
			<-ch
		}
		return nil
	}
	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()
	for _, ch := range done {
		select {
		case <-ch:
		case <-timer.C:
			return errors.Wrapf(core.ErrTimeout, "fences not signaled after %s", time.Duration(timeout))
		}
	}
	return nil
}

// WaitIdle blocks until every submission has completed.
func (b *Backend) WaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.pending.IsEmpty() || b.busy {
		b.cond.Wait()
	}
	return nil
}
