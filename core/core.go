// Package core provides the processing cores that drive the caches.
// A core runs a workload against a MemoryPort and counts its accesses.
package core

import (
	"context"
	"sync/atomic"

	"github.com/sarchlab/mesisim/cache"
)

// MemoryPort is the CPU-side view of the memory hierarchy.
type MemoryPort interface {
	Load(ctx context.Context, addr uint64) (uint64, error)
	Store(ctx context.Context, addr uint64, value uint64) error
}

// CachePort adapts a private cache to a MemoryPort.
type CachePort struct {
	Cache *cache.Cache
}

// NewCachePort creates a port that serves accesses from c.
func NewCachePort(c *cache.Cache) *CachePort {
	return &CachePort{Cache: c}
}

// Load reads a word through the cache.
func (p *CachePort) Load(ctx context.Context, addr uint64) (uint64, error) {
	return p.Cache.Read(ctx, addr)
}

// Store writes a word through the cache.
func (p *CachePort) Store(ctx context.Context, addr uint64, value uint64) error {
	return p.Cache.Write(ctx, addr, value)
}

// Workload is the program a core runs.
type Workload func(ctx context.Context, c *Core) error

// Stats holds access statistics for the core.
type Stats struct {
	// Loads is the number of completed loads.
	Loads uint64
	// Stores is the number of completed stores.
	Stores uint64
	// Errors is the number of accesses that failed.
	Errors uint64
}

// Core issues loads and stores on behalf of a workload.
type Core struct {
	id   int
	port MemoryPort

	loads  atomic.Uint64
	stores atomic.Uint64
	errors atomic.Uint64
}

// NewCore creates core id on top of port.
func NewCore(id int, port MemoryPort) *Core {
	return &Core{
		id:   id,
		port: port,
	}
}

// ID returns the core identity, which matches its cache's bus identity.
func (c *Core) ID() int {
	return c.id
}

// Port returns the memory port.
func (c *Core) Port() MemoryPort {
	return c.port
}

// Load reads the word at addr.
func (c *Core) Load(ctx context.Context, addr uint64) (uint64, error) {
	v, err := c.port.Load(ctx, addr)
	if err != nil {
		c.errors.Add(1)
		return 0, err
	}

	c.loads.Add(1)
	return v, nil
}

// Store writes value at addr.
func (c *Core) Store(ctx context.Context, addr uint64, value uint64) error {
	if err := c.port.Store(ctx, addr, value); err != nil {
		c.errors.Add(1)
		return err
	}

	c.stores.Add(1)
	return nil
}

// Run executes w on the calling goroutine and returns its error.
func (c *Core) Run(ctx context.Context, w Workload) error {
	if w == nil {
		return nil
	}

	return w(ctx, c)
}

// Stats returns access statistics for the core.
func (c *Core) Stats() Stats {
	return Stats{
		Loads:  c.loads.Load(),
		Stores: c.stores.Load(),
		Errors: c.errors.Load(),
	}
}

// ResetStats clears the access statistics.
func (c *Core) ResetStats() {
	c.loads.Store(0)
	c.stores.Store(0)
	c.errors.Store(0)
}
