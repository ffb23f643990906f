package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// DescriptorAllocator tracks descriptor sets per layout up to a fixed cap.
type DescriptorAllocator struct {
	backend *Backend
	live    map[metadata.RawDescriptorSet]metadata.RawDescriptorSetLayout
}

// CreateLayout hands out a fresh layout id. Layouts carry no state here,
// Allocate only rejects the zero id.
func (d *DescriptorAllocator) CreateLayout() metadata.RawDescriptorSetLayout {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	return metadata.RawDescriptorSetLayout(d.backend.id())
}

func (d *DescriptorAllocator) Allocate(layout metadata.RawDescriptorSetLayout, count uint32) ([]metadata.RawDescriptorSet, error) {
	if layout == 0 {
		return nil, errors.Wrap(core.ErrInvalidHandle, "descriptor set layout")
	}
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if uint64(len(d.live))+uint64(count) > uint64(b.cfg.MaxDescriptorSets) {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "descriptor sets exhausted (%d live, %d requested)", len(d.live), count)
	}
	sets := make([]metadata.RawDescriptorSet, count)
	for i := range sets {
		sets[i] = metadata.RawDescriptorSet(b.id())
		d.live[sets[i]] = layout
	}
	return sets, nil
}

func (d *DescriptorAllocator) Free(sets []metadata.RawDescriptorSet) error {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	for _, set := range sets {
		if _, ok := d.live[set]; !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "descriptor set %d", set)
		}
	}
	for _, set := range sets {
		delete(d.live, set)
	}
	return nil
}

func (d *DescriptorAllocator) Cleanup() {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	if len(d.live) > 0 {
		core.LogWarn("soft: %d descriptor sets released at cleanup", len(d.live))
	}
	clear(d.live)
}

// Live counts allocated descriptor sets.
func (d *DescriptorAllocator) Live() int {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	return len(d.live)
}
