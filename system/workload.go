package system

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/memory"
)

// IncrementWorkload returns a workload that adds the core ID to the word at
// addr.
func IncrementWorkload(addr uint64) core.Workload {
	return func(ctx context.Context, c *core.Core) error {
		v, err := c.Load(ctx, addr)
		if err != nil {
			return err
		}

		return c.Store(ctx, addr, v+uint64(c.ID()))
	}
}

// RandomTraffic describes a random load/store stream.
type RandomTraffic struct {
	Seed int64
	// Ops is the number of accesses per core.
	Ops int
	// Span is the number of bytes, from address 0, the accesses fall in.
	Span uint64
	// WriteRatio is the fraction of accesses that are stores.
	WriteRatio float64
}

// RandomWorkload returns a workload issuing t.Ops word-aligned accesses.
// Each core draws from its own generator seeded with t.Seed plus its ID.
func RandomWorkload(t RandomTraffic) core.Workload {
	return func(ctx context.Context, c *core.Core) error {
		words := t.Span / memory.WordSize
		if words == 0 {
			return fmt.Errorf("span of %d bytes holds no word", t.Span)
		}

		rng := rand.New(rand.NewSource(t.Seed + int64(c.ID())))
		for i := 0; i < t.Ops; i++ {
			addr := uint64(rng.Int63n(int64(words))) * memory.WordSize

			if rng.Float64() < t.WriteRatio {
				if err := c.Store(ctx, addr, rng.Uint64()); err != nil {
					return err
				}
				continue
			}

			if _, err := c.Load(ctx, addr); err != nil {
				return err
			}
		}

		return nil
	}
}
