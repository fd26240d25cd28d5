package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 100, cfg.MaxConcurrent)
	assert.Equal(t, 3*time.Second, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.EntryTTL)
	assert.Equal(t, 1.5, cfg.SlowFactor)
	assert.Equal(t, 3, cfg.SlowStrikes)

	// NumThreads has no default and must fail validation until set
	assert.Error(t, cfg.Validate())
	cfg.NumThreads = 4
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threads", func(c *Config) { c.NumThreads = 0 }},
		{"negative threads", func(c *Config) { c.NumThreads = -1 }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"zero max concurrent", func(c *Config) { c.MaxConcurrent = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"zero ttl", func(c *Config) { c.EntryTTL = 0 }},
		{"slow factor at one", func(c *Config) { c.SlowFactor = 1.0 }},
		{"zero strikes", func(c *Config) { c.SlowStrikes = 0 }},
		{"node without id", func(c *Config) { c.Nodes = []NodeConfig{{APIHost: "h", APIPort: 80}} }},
		{"node without host", func(c *Config) { c.Nodes = []NodeConfig{{ID: "a", APIPort: 80}} }},
		{"node with bad port", func(c *Config) { c.Nodes = []NodeConfig{{ID: "a", APIHost: "h", APIPort: 70000}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.NumThreads = 4
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanout.yaml")
	data := `
numThreads: 8
nodes:
  - id: node-1
    apiHost: 10.0.0.1
    apiPort: 8080
  - id: node-2
    apiHost: 10.0.0.2
    apiPort: 8080
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.NumThreads)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultEntryTTL, cfg.EntryTTL)

	nodes := cfg.NodeList()
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-1", nodes[0].ID)
	assert.Equal(t, 8080, nodes[0].APIPort)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanout.yaml")
	data := `
numThreads: 2
connectTimeout: 1s
readTimeout: 5s
maxConcurrent: 10
entryTtl: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.EntryTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("numThreads: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
