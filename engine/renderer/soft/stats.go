package soft

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

/** @brief A snapshot of live objects and queue throughput. */
type Stats struct {
	Buffers        int
	Images         int
	ImageViews     int
	CommandPools   int
	CommandBuffers int
	Fences         int
	Semaphores     int
	MemoryObjects  int
	MemoryBlocks   int
	DescriptorSets int
	Submissions    uint64
	ExecutedBytes  uint64
}

// Live sums every object that should be gone after teardown.
func (s Stats) Live() int {
	return s.Buffers + s.Images + s.ImageViews + s.CommandPools + s.CommandBuffers +
		s.Fences + s.Semaphores + s.MemoryObjects + s.MemoryBlocks + s.DescriptorSets
}

func (s Stats) String() string {
	return fmt.Sprintf("buffers: %d images: %d views: %d pools: %d fences: %d semaphores: %d memory: %d/%d sets: %d submissions: %d",
		s.Buffers, s.Images, s.ImageViews, s.CommandPools, s.Fences, s.Semaphores,
		s.MemoryObjects, s.MemoryBlocks, s.DescriptorSets, s.Submissions)
}

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Buffers:        len(b.buffers),
		Images:         len(b.images),
		ImageViews:     len(b.views),
		CommandPools:   len(b.pools),
		CommandBuffers: len(b.commandBuffers),
		Fences:         len(b.fences),
		Semaphores:     len(b.semaphores),
		MemoryObjects:  len(b.memory.arenas),
		DescriptorSets: len(b.descriptors.live),
		Submissions:    b.submissions.Load(),
		ExecutedBytes:  b.executedBytes.Load(),
	}
	for _, a := range b.memory.arenas {
		s.MemoryBlocks += a.live
	}
	return s
}

// Shutdown drains the queue and stops the worker. Objects still alive are
// reported as an error.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	b.worker.Wait()

	stats := b.Stats()
	if stats.Live() > 0 {
		core.LogWarn("soft backend shut down with live objects: %s", stats)
		return errors.Newf("leaked objects: %s", stats)
	}
	core.LogDebug("soft backend shut down after %d submissions", stats.Submissions)
	return nil
}
