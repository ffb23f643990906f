package soft

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// Config tunes the software device.
type Config struct {
	// HeapSize caps the bytes mapped for all memory objects together.
	HeapSize uint64 `toml:"heap_size"`
	// ArenaSize is the shared memory arena sub-allocated for non dedicated requests.
	ArenaSize uint64 `toml:"arena_size"`
	// Granularity is the allocation unit and the largest alignment served
	// from the shared arena. Larger alignments get a dedicated arena.
	Granularity uint64 `toml:"granularity"`
	// CommandArenaSize is the recording space of each command pool.
	CommandArenaSize uint64 `toml:"command_arena_size"`
	// QueueLatency delays every submission to mimic GPU execution time.
	QueueLatency Latency `toml:"queue_latency"`
	QueueDepth   int     `toml:"queue_depth"`
	// MaxDescriptorSets caps the live descriptor sets.
	MaxDescriptorSets uint32 `toml:"max_descriptor_sets"`
}

// Latency is a duration written as "2ms" in configuration files.
type Latency time.Duration

func (l Latency) MarshalText() ([]byte, error) {
	return []byte(time.Duration(l).String()), nil
}

func (l *Latency) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid latency %q", text)
	}
	*l = Latency(d)
	return nil
}

func DefaultConfig() Config {
	return Config{
		HeapSize:          1 << 30,
		ArenaSize:         256 << 20,
		Granularity:       256,
		CommandArenaSize:  1 << 20,
		QueueLatency:      0,
		QueueDepth:        16,
		MaxDescriptorSets: 4096,
	}
}

func (c Config) Validate() error {
	if c.ArenaSize == 0 {
		return errors.New("arena_size must not be zero")
	}
	if c.HeapSize < c.ArenaSize {
		return errors.Newf("heap_size %d is smaller than arena_size %d", c.HeapSize, c.ArenaSize)
	}
	if !core.IsPowerOfTwo(c.Granularity) {
		return errors.Newf("granularity %d is not a power of two", c.Granularity)
	}
	if c.CommandArenaSize == 0 {
		return errors.New("command_arena_size must not be zero")
	}
	if c.QueueDepth <= 0 {
		return errors.Newf("queue_depth %d must be positive", c.QueueDepth)
	}
	return nil
}
