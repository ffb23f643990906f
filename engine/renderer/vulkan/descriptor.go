package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

var descriptorPoolTypes = []vk.DescriptorType{
	vk.DescriptorTypeSampler,
	vk.DescriptorTypeCombinedImageSampler,
	vk.DescriptorTypeSampledImage,
	vk.DescriptorTypeStorageImage,
	vk.DescriptorTypeUniformBuffer,
	vk.DescriptorTypeStorageBuffer,
	vk.DescriptorTypeUniformBufferDynamic,
	vk.DescriptorTypeStorageBufferDynamic,
}

/** @brief A descriptor set and the pool it was allocated from. */
type descriptorSet struct {
	pool vk.DescriptorPool
}

// DescriptorAllocator grows a list of descriptor pools on demand. Sets are
// allocated individually so they can be returned to their pool.
type DescriptorAllocator struct {
	backend *Backend
	pools   []vk.DescriptorPool
	sets    registry[vk.DescriptorSet, descriptorSet]
	layouts registry[vk.DescriptorSetLayout, []vk.DescriptorSetLayoutBinding]
}

func newDescriptorAllocator(backend *Backend) *DescriptorAllocator {
	return &DescriptorAllocator{
		backend: backend,
		sets:    newRegistry[vk.DescriptorSet, descriptorSet](),
		layouts: newRegistry[vk.DescriptorSetLayout, []vk.DescriptorSetLayoutBinding](),
	}
}

// CreateLayout registers a descriptor set layout for Allocate.
func (d *DescriptorAllocator) CreateLayout(bindings []vk.DescriptorSetLayoutBinding) (metadata.RawDescriptorSetLayout, error) {
	context := d.backend.context
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var raw uint64
	err := d.backend.locks.SafeCall(DescriptorManagement, func() error {
		var layout vk.DescriptorSetLayout
		if err := resultError(vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout), "vkCreateDescriptorSetLayout"); err != nil {
			return err
		}
		var err error
		if raw, err = d.layouts.add(layout, bindings); err != nil {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, layout, context.Allocator)
		}
		return err
	})
	return metadata.RawDescriptorSetLayout(raw), err
}

func (d *DescriptorAllocator) DestroyLayout(raw metadata.RawDescriptorSetLayout) {
	context := d.backend.context
	_ = d.backend.locks.SafeCall(DescriptorManagement, func() error {
		layout, _, ok := d.layouts.remove(uint64(raw))
		if !ok {
			core.LogPanic("destroying unknown descriptor set layout %d", raw)
		}
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, layout, context.Allocator)
		return nil
	})
}

func (d *DescriptorAllocator) createPool() (vk.DescriptorPool, error) {
	context := d.backend.context
	cfg := d.backend.cfg
	sizes := make([]vk.DescriptorPoolSize, len(descriptorPoolTypes))
	for i, t := range descriptorPoolTypes {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: cfg.DescriptorsPerType}
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       cfg.DescriptorPoolSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := resultError(vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &pool), "vkCreateDescriptorPool"); err != nil {
		return nil, err
	}
	d.pools = append(d.pools, pool)
	core.LogDebug("vulkan: descriptor pool %d created", len(d.pools))
	return pool, nil
}

func (d *DescriptorAllocator) allocateOne(layout vk.DescriptorSetLayout) (uint64, error) {
	device := d.backend.context.Device.LogicalDevice
	try := func(pool vk.DescriptorPool) (vk.DescriptorSet, vk.Result) {
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		return set, vk.AllocateDescriptorSets(device, &allocateInfo, &set)
	}

	for i := len(d.pools) - 1; i >= 0; i-- {
		set, res := try(d.pools[i])
		switch res {
		case vk.Success:
			return d.sets.add(set, descriptorSet{pool: d.pools[i]})
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			continue
		default:
			return 0, resultError(res, "vkAllocateDescriptorSets")
		}
	}
	pool, err := d.createPool()
	if err != nil {
		return 0, err
	}
	set, res := try(pool)
	if err := resultError(res, "vkAllocateDescriptorSets"); err != nil {
		return 0, err
	}
	return d.sets.add(set, descriptorSet{pool: pool})
}

func (d *DescriptorAllocator) Allocate(layout metadata.RawDescriptorSetLayout, count uint32) ([]metadata.RawDescriptorSet, error) {
	sets := make([]metadata.RawDescriptorSet, 0, count)
	err := d.backend.locks.SafeCall(DescriptorManagement, func() error {
		native, _, ok := d.layouts.get(uint64(layout))
		if !ok {
			return errors.Wrapf(core.ErrInvalidHandle, "descriptor set layout %d", layout)
		}
		for i := uint32(0); i < count; i++ {
			raw, err := d.allocateOne(native)
			if err != nil {
				return err
			}
			sets = append(sets, metadata.RawDescriptorSet(raw))
		}
		return nil
	})
	if err != nil {
		_ = d.Free(sets)
		return nil, err
	}
	return sets, nil
}

func (d *DescriptorAllocator) Free(sets []metadata.RawDescriptorSet) error {
	device := d.backend.context.Device.LogicalDevice
	return d.backend.locks.SafeCall(DescriptorManagement, func() error {
		for _, raw := range sets {
			if _, _, ok := d.sets.get(uint64(raw)); !ok {
				return errors.Wrapf(core.ErrInvalidHandle, "descriptor set %d", raw)
			}
		}
		for _, raw := range sets {
			set, info, _ := d.sets.remove(uint64(raw))
			if err := resultError(vk.FreeDescriptorSets(device, info.pool, 1, &set), "vkFreeDescriptorSets"); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DescriptorAllocator) Cleanup() {
	context := d.backend.context
	_ = d.backend.locks.SafeCall(DescriptorManagement, func() error {
		if n := d.sets.len(); n > 0 {
			core.LogWarn("vulkan: %d descriptor sets released with their pools", n)
		}
		for range d.sets.drain() {
		}
		for _, pool := range d.pools {
			vk.DestroyDescriptorPool(context.Device.LogicalDevice, pool, context.Allocator)
		}
		d.pools = nil
		for layout := range d.layouts.drain() {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, layout, context.Allocator)
		}
		return nil
	})
}
