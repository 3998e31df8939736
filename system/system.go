// Package system wires cores, private caches, the snooping bus and the
// backing memory into a runnable multi-core system.
package system

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/sarchlab/akita/v4/sim"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/memory"
)

// Option configures a System.
type Option func(*System)

// WithLogger routes bus arbitration messages to l.
func WithLogger(l *log.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHook attaches h to the bus and to every cache.
func WithHook(h sim.Hook) Option {
	return func(s *System) {
		s.hooks = append(s.hooks, h)
	}
}

// Stats gathers the counters of every component.
type Stats struct {
	Bus    bus.Statistics
	Caches []cache.Statistics
	Cores  []core.Stats
}

// System is a set of cores with private coherent caches sharing one bus and
// one memory.
type System struct {
	config *Config
	logger *log.Logger
	hooks  []sim.Hook

	memory *memory.Memory
	bus    *bus.Bus
	caches []*cache.Cache
	cores  []*core.Core

	startOnce sync.Once
}

// New builds a system from config. The config is copied.
func New(config *Config, opts ...Option) (*System, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid system config: %w", err)
	}

	s := &System{
		config: config.Clone(),
		logger: log.New(io.Discard, "", 0),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.memory = memory.NewMemory(s.config.MemoryBytes, s.config.Cache.BlockSize)
	s.bus = bus.New(s.config.NumCores, s.memory,
		bus.WithLogger(s.logger),
		bus.WithIdleTimeout(s.config.IdleTimeout()),
	)

	s.caches = make([]*cache.Cache, s.config.NumCores)
	s.cores = make([]*core.Core, s.config.NumCores)
	for i := 0; i < s.config.NumCores; i++ {
		s.caches[i] = cache.New(i, s.config.Cache, s.bus, s.memory)
		s.bus.Connect(i, s.caches[i])
		s.cores[i] = core.NewCore(i, core.NewCachePort(s.caches[i]))
	}

	for _, h := range s.hooks {
		s.bus.AcceptHook(h)
		for _, c := range s.caches {
			c.AcceptHook(h)
		}
	}

	return s, nil
}

// Config returns a copy of the system configuration.
func (s *System) Config() *Config {
	return s.config.Clone()
}

// Memory returns the backing store.
func (s *System) Memory() *memory.Memory {
	return s.memory
}

// Bus returns the bus arbiter.
func (s *System) Bus() *bus.Bus {
	return s.bus
}

// NumCores returns the number of cores.
func (s *System) NumCores() int {
	return len(s.cores)
}

// Cache returns the L1 of core i.
func (s *System) Cache(i int) *cache.Cache {
	return s.caches[i]
}

// Caches returns every L1, indexed by core.
func (s *System) Caches() []*cache.Cache {
	return s.caches
}

// Core returns core i.
func (s *System) Core(i int) *core.Core {
	return s.cores[i]
}

// Start launches the bus arbiter. Calling it again has no effect.
func (s *System) Start() {
	s.startOnce.Do(s.bus.Start)
}

// Run starts the system if needed and runs workloads[i] on core i, each on
// its own goroutine. It returns after every workload finished, with the
// first error. Missing or nil workloads leave their core idle.
func (s *System) Run(ctx context.Context, workloads ...core.Workload) error {
	if len(workloads) > len(s.cores) {
		return fmt.Errorf("%d workloads for %d cores", len(workloads), len(s.cores))
	}

	s.Start()

	g, ctx := errgroup.WithContext(ctx)
	for i, w := range workloads {
		c := s.cores[i]
		g.Go(func() error {
			if err := c.Run(ctx, w); err != nil {
				return fmt.Errorf("core %d: %w", c.ID(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Flush writes every Modified line of every cache back to memory. The bus
// must be running.
func (s *System) Flush(ctx context.Context) error {
	for _, c := range s.caches {
		if err := c.Flush(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Stop stops the bus arbiter. Pending bus transactions fail.
func (s *System) Stop() {
	s.bus.Stop()
}

// Stats returns the counters of every component.
func (s *System) Stats() Stats {
	stats := Stats{
		Bus:    s.bus.Stats(),
		Caches: make([]cache.Statistics, len(s.caches)),
		Cores:  make([]core.Stats, len(s.cores)),
	}

	for i, c := range s.caches {
		stats.Caches[i] = c.Stats()
	}
	for i, c := range s.cores {
		stats.Cores[i] = c.Stats()
	}

	return stats
}
