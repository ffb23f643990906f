package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// VulkanContext holds the instance and the device every backend call goes
// through. It is created without a surface: presentation is outside the
// resource core.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Device    *VulkanDevice
}

// NewContext loads the Vulkan loader, creates an instance and opens a device
// with a graphics queue.
func NewContext(cfg Config) (*VulkanContext, error) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vulkan loader not found"), core.ErrNotSupported)
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to initialize vk"), core.ErrNotSupported)
	}

	context := &VulkanContext{}
	if err := context.createInstance(cfg); err != nil {
		return nil, err
	}
	device, err := DeviceCreate(context, cfg.PreferDiscrete)
	if err != nil {
		context.Destroy()
		return nil, err
	}
	context.Device = device
	return context, nil
}

func (vc *VulkanContext) createInstance(cfg Config) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)

	if cfg.Validation {
		if layerAvailable(validationLayer) {
			createInfo.EnabledLayerCount = 1
			createInfo.PpEnabledLayerNames = VulkanSafeStrings([]string{validationLayer})
			core.LogInfo("Validation layer %s enabled.", validationLayer)
		} else {
			core.LogWarn("Validation requested but %s is not installed.", validationLayer)
		}
	}

	var instance vk.Instance
	if err := resultError(vk.CreateInstance(&createInfo, vc.Allocator, &instance), "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, vc.Allocator)
		return errors.Wrap(err, "failed to load instance functions")
	}
	vc.Instance = instance
	core.LogInfo("Vulkan instance created.")
	return nil
}

func layerAvailable(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

// MemoryTypeFlags returns the property flags of a memory type.
func (vc *VulkanContext) MemoryTypeFlags(index uint32) vk.MemoryPropertyFlags {
	memoryType := vc.Device.Memory.MemoryTypes[index]
	memoryType.Deref()
	return memoryType.PropertyFlags
}

func (vc *VulkanContext) Destroy() {
	if vc.Device != nil {
		DeviceDestroy(vc)
		vc.Device = nil
	}
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	core.LogInfo("Vulkan context destroyed.")
}
