package vulkan

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// Config selects and sizes the Vulkan device.
type Config struct {
	ApplicationName string `toml:"application_name"`
	// Validation enables VK_LAYER_KHRONOS_validation when it is installed.
	Validation bool `toml:"validation"`
	// PreferDiscrete picks a discrete GPU over an integrated one when both exist.
	PreferDiscrete bool `toml:"prefer_discrete"`
	// ChunkSize is the size of the device memory objects sub-allocated for
	// regular requests.
	ChunkSize uint64 `toml:"chunk_size"`
	// Granularity is the sub-allocation unit and the largest alignment
	// served from a chunk.
	Granularity uint64 `toml:"granularity"`
	// DescriptorPoolSets is the number of sets of each descriptor pool.
	DescriptorPoolSets uint32 `toml:"descriptor_pool_sets"`
	// DescriptorsPerType is the number of descriptors of each type in a pool.
	DescriptorsPerType uint32 `toml:"descriptors_per_type"`
}

func DefaultConfig() Config {
	return Config{
		ApplicationName:    "anima",
		PreferDiscrete:     true,
		ChunkSize:          64 << 20,
		Granularity:        4096,
		DescriptorPoolSets: 1024,
		DescriptorsPerType: 4096,
	}
}

func (c Config) Validate() error {
	if !core.IsPowerOfTwo(c.Granularity) {
		return errors.Newf("granularity %d is not a power of two", c.Granularity)
	}
	if c.ChunkSize < c.Granularity || c.ChunkSize%c.Granularity != 0 {
		return errors.Newf("chunk_size %d is not a multiple of granularity %d", c.ChunkSize, c.Granularity)
	}
	if c.DescriptorPoolSets == 0 || c.DescriptorsPerType == 0 {
		return errors.New("descriptor pools must not be empty")
	}
	return nil
}
