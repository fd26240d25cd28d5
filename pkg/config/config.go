package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/fanout/pkg/types"
)

// Default tunable values
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultMaxConcurrent  = 100
	DefaultSweepInterval  = 3 * time.Second
	DefaultEntryTTL       = 30 * time.Second
	DefaultSlowFactor     = 1.5
	DefaultSlowStrikes    = 3
)

// Config holds the replicator configuration
type Config struct {
	// NumThreads is the worker pool size servicing node requests. Required.
	NumThreads int `yaml:"numThreads"`

	// ConnectTimeout bounds connection establishment per node request
	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// ReadTimeout bounds response reading per node request
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// MaxConcurrent caps the number of in-flight cluster requests
	MaxConcurrent int `yaml:"maxConcurrent"`

	// SweepInterval is the maintenance period
	SweepInterval time.Duration `yaml:"sweepInterval"`

	// EntryTTL is how long a completed, unconsumed request is retained
	EntryTTL time.Duration `yaml:"entryTtl"`

	// SlowFactor multiplies the mean per-node duration to form the
	// slow-response threshold
	SlowFactor float64 `yaml:"slowFactor"`

	// SlowStrikes is the number of consecutive slow observations before a
	// warning is emitted
	SlowStrikes int `yaml:"slowStrikes"`

	// Nodes is the static node inventory used by the CLI
	Nodes []NodeConfig `yaml:"nodes"`
}

// NodeConfig describes one data-plane node in the configuration file
type NodeConfig struct {
	ID      string `yaml:"id"`
	APIHost string `yaml:"apiHost"`
	APIPort int    `yaml:"apiPort"`
}

// DefaultConfig returns a configuration populated with defaults.
// NumThreads has no default and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		MaxConcurrent:  DefaultMaxConcurrent,
		SweepInterval:  DefaultSweepInterval,
		EntryTTL:       DefaultEntryTTL,
		SlowFactor:     DefaultSlowFactor,
		SlowStrikes:    DefaultSlowStrikes,
	}
}

// Load reads a YAML configuration file, applying defaults for absent fields
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.NumThreads <= 0 {
		return fmt.Errorf("numThreads must be greater than zero, got %d", c.NumThreads)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connectTimeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("readTimeout must be positive, got %s", c.ReadTimeout)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("maxConcurrent must be greater than zero, got %d", c.MaxConcurrent)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweepInterval must be positive, got %s", c.SweepInterval)
	}
	if c.EntryTTL <= 0 {
		return fmt.Errorf("entryTtl must be positive, got %s", c.EntryTTL)
	}
	if c.SlowFactor <= 1.0 {
		return fmt.Errorf("slowFactor must be greater than 1.0, got %g", c.SlowFactor)
	}
	if c.SlowStrikes <= 0 {
		return fmt.Errorf("slowStrikes must be greater than zero, got %d", c.SlowStrikes)
	}
	for i, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: id is required", i)
		}
		if n.APIHost == "" {
			return fmt.Errorf("node %q: apiHost is required", n.ID)
		}
		if n.APIPort <= 0 || n.APIPort > 65535 {
			return fmt.Errorf("node %q: apiPort %d is out of range", n.ID, n.APIPort)
		}
	}
	return nil
}

// NodeList converts the configured inventory into domain nodes
func (c *Config) NodeList() []types.Node {
	nodes := make([]types.Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, types.Node{ID: n.ID, APIHost: n.APIHost, APIPort: n.APIPort})
	}
	return nodes
}
