package engine

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/soft"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/vulkan"
)

type BackendType string

const (
	BackendSoft   BackendType = "soft"
	BackendVulkan BackendType = "vulkan"
)

// ApplicationConfig is the content of anima.toml.
type ApplicationConfig struct {
	// The application name used in logs and debug object names.
	Name     string        `toml:"name"`
	LogLevel core.LogLevel `toml:"log_level"`
	// FrameLimit stops the engine after that many frames. Zero runs until
	// the engine is stopped.
	FrameLimit uint64 `toml:"frame_limit"`
	// TargetFPS caps the frame rate. Zero disables the limiter.
	TargetFPS uint32      `toml:"target_fps"`
	Backend   BackendType `toml:"backend"`

	Renderer renderer.Config `toml:"renderer"`
	Soft     soft.Config     `toml:"soft"`
	Vulkan   vulkan.Config   `toml:"vulkan"`
}

func DefaultApplicationConfig() ApplicationConfig {
	return ApplicationConfig{
		Name:      "anima",
		LogLevel:  core.InfoLevel,
		TargetFPS: 60,
		Backend:   BackendSoft,
		Renderer:  renderer.DefaultConfig(),
		Soft:      soft.DefaultConfig(),
		Vulkan:    vulkan.DefaultConfig(),
	}
}

// ParseApplicationConfig decodes a TOML document on top of the defaults.
func ParseApplicationConfig(data []byte) (ApplicationConfig, error) {
	cfg := DefaultApplicationConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode application config")
	}
	return cfg, cfg.Validate()
}

func LoadApplicationConfig(path string) (ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultApplicationConfig(), errors.Wrapf(err, "failed to read application config %s", path)
	}
	cfg, err := ParseApplicationConfig(data)
	return cfg, errors.Wrapf(err, "%s", path)
}

func (c ApplicationConfig) Validate() error {
	switch c.Backend {
	case BackendSoft:
		if err := c.Soft.Validate(); err != nil {
			return errors.Wrap(err, "soft")
		}
	case BackendVulkan:
		if err := c.Vulkan.Validate(); err != nil {
			return errors.Wrap(err, "vulkan")
		}
	default:
		return errors.Newf("unknown backend %q", c.Backend)
	}
	return errors.Wrap(c.Renderer.Validate(), "renderer")
}
