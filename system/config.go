package system

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sarchlab/mesisim/cache"
	"github.com/sarchlab/mesisim/memory"
)

// Config describes a multi-core system.
type Config struct {
	// NumCores is the number of cores, each with a private L1. Default: 4.
	NumCores int `json:"num_cores"`

	// MemoryBytes is the backing store capacity. Default: 4096 (512 words).
	MemoryBytes int `json:"memory_bytes"`

	// Cache is the geometry shared by every L1. Default: 8 sets, 2 ways,
	// 32-byte blocks.
	Cache cache.Config `json:"cache"`

	// IdleTimeoutMS stops the arbiter after the bus has been idle this
	// long. Default: 0 (run until Stop).
	IdleTimeoutMS uint64 `json:"idle_timeout_ms"`
}

// DefaultConfig returns the four-core reference system.
func DefaultConfig() *Config {
	return &Config{
		NumCores:    4,
		MemoryBytes: memory.DefaultCapacity,
		Cache:       cache.DefaultL1Config(),
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize system config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write system config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a buildable system.
func (c *Config) Validate() error {
	if c.NumCores <= 0 {
		return fmt.Errorf("num_cores must be > 0")
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.MemoryBytes < c.Cache.BlockSize {
		return fmt.Errorf("memory_bytes must hold at least one block")
	}
	return nil
}

// IdleTimeout returns IdleTimeoutMS as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	return &Config{
		NumCores:      c.NumCores,
		MemoryBytes:   c.MemoryBytes,
		Cache:         c.Cache,
		IdleTimeoutMS: c.IdleTimeoutMS,
	}
}
