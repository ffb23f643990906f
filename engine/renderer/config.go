package renderer

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// Config sizes the fixed regions owned by a Device.
type Config struct {
	Name string `toml:"name"`
	// TempMemorySize is the per frame scratch region served by Frame.PushTemp.
	TempMemorySize uint64 `toml:"temp_memory_size"`
	TempAlignment  uint64 `toml:"temp_alignment"`
	// UniformBufferSize is split into buckets of UniformBucketSize bytes.
	UniformBufferSize uint64 `toml:"uniform_buffer_size"`
	UniformBucketSize uint64 `toml:"uniform_bucket_size"`
	StagingSize       uint64 `toml:"staging_size"`
	StagingAlignment  uint64 `toml:"staging_alignment"`
	// DropListReserve is the capacity each drop list bucket shrinks back to after a purge.
	DropListReserve int `toml:"drop_list_reserve"`
}

func DefaultConfig() Config {
	return Config{
		Name:              "anima",
		TempMemorySize:    16 * MiB,
		TempAlignment:     256,
		UniformBufferSize: 8 * MiB,
		UniformBucketSize: 64 * KiB,
		StagingSize:       32 * MiB,
		StagingAlignment:  256,
		DropListReserve:   1024,
	}
}

// ParseConfig decodes a TOML document on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode renderer config")
	}
	return cfg, cfg.Validate()
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Wrapf(err, "failed to read renderer config %s", path)
	}
	return ParseConfig(data)
}

func (c Config) Validate() error {
	if c.TempMemorySize == 0 || c.TempMemorySize > 1<<32-1 {
		return errors.Newf("temp_memory_size %d must be within (0, 4GiB)", c.TempMemorySize)
	}
	if !core.IsPowerOfTwo(c.TempAlignment) {
		return errors.Newf("temp_alignment %d is not a power of two", c.TempAlignment)
	}
	if !core.IsPowerOfTwo(c.StagingAlignment) {
		return errors.Newf("staging_alignment %d is not a power of two", c.StagingAlignment)
	}
	if c.StagingSize == 0 {
		return errors.New("staging_size must not be zero")
	}
	if c.UniformBucketSize < MaxUniformSize {
		return errors.Newf("uniform_bucket_size %d is smaller than the largest uniform (%d)", c.UniformBucketSize, MaxUniformSize)
	}
	if c.UniformBufferSize == 0 || c.UniformBufferSize%c.UniformBucketSize != 0 {
		return errors.Newf("uniform_buffer_size %d is not a multiple of uniform_bucket_size %d", c.UniformBufferSize, c.UniformBucketSize)
	}
	if c.DropListReserve < 0 {
		return errors.Newf("drop_list_reserve %d is negative", c.DropListReserve)
	}
	return nil
}
