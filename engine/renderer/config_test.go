package renderer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
name = "testbed"
temp_memory_size = 1048576
uniform_bucket_size = 32768
uniform_buffer_size = 131072
`))
	require.NoError(t, err)
	assert.Equal(t, "testbed", cfg.Name)
	assert.Equal(t, uint64(MiB), cfg.TempMemorySize)
	assert.Equal(t, uint64(32*KiB), cfg.UniformBucketSize)
	assert.Equal(t, DefaultConfig().StagingSize, cfg.StagingSize)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"zero temp":           func(c *Config) { c.TempMemorySize = 0 },
		"temp alignment":      func(c *Config) { c.TempAlignment = 100 },
		"staging alignment":   func(c *Config) { c.StagingAlignment = 3 },
		"no staging":          func(c *Config) { c.StagingSize = 0 },
		"small bucket":        func(c *Config) { c.UniformBucketSize = 1024 },
		"uneven bucket split": func(c *Config) { c.UniformBufferSize = c.UniformBucketSize*3 + 1 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	_, err := ParseConfig([]byte(`temp_alignment = 7`))
	require.Error(t, err)
	_, err = ParseConfig([]byte(`name = `))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`staging_size = 65536`), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(64*KiB), cfg.StagingSize)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
