package system

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/mesisim/cache"
)

// Violation is one broken coherence property.
type Violation struct {
	Address uint64
	Reason  string
}

func (v Violation) String() string {
	return fmt.Sprintf("0x%x: %s", v.Address, v.Reason)
}

// CoherenceError lists every violation found by CheckCoherence.
type CoherenceError struct {
	Violations []Violation
}

func (e *CoherenceError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}

	return fmt.Sprintf("%d coherence violations: %s",
		len(e.Violations), strings.Join(parts, "; "))
}

type holder struct {
	cache int
	line  cache.Line
}

// CheckCoherence inspects the listed block addresses, or every cached block
// when none are given, and reports a *CoherenceError if:
//
//   - more than one cache holds a block Modified;
//   - a Modified or Exclusive block is also valid in another cache;
//   - Shared copies of a block hold different data.
//
// Caches are sampled one after another, so the result is only meaningful
// while no workload is running.
func (s *System) CheckCoherence(addrs ...uint64) error {
	holders := make(map[uint64][]holder)

	for i, c := range s.caches {
		if len(addrs) == 0 {
			for _, l := range c.Lines() {
				holders[l.Address] = append(holders[l.Address], holder{i, l})
			}
			continue
		}

		for _, addr := range addrs {
			if l, ok := c.Line(addr); ok {
				holders[l.Address] = append(holders[l.Address], holder{i, l})
			}
		}
	}

	blocks := make([]uint64, 0, len(holders))
	for addr := range holders {
		blocks = append(blocks, addr)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	var violations []Violation
	for _, addr := range blocks {
		violations = append(violations, checkBlock(addr, holders[addr])...)
	}

	if len(violations) > 0 {
		return &CoherenceError{Violations: violations}
	}

	return nil
}

func checkBlock(addr uint64, hs []holder) []Violation {
	var (
		violations []Violation
		modified   []int
		exclusive  []int
		shared     []holder
	)

	for _, h := range hs {
		switch h.line.State {
		case cache.Modified:
			modified = append(modified, h.cache)
		case cache.Exclusive:
			exclusive = append(exclusive, h.cache)
		case cache.Shared:
			shared = append(shared, h)
		}
	}

	if len(modified) > 1 {
		violations = append(violations, Violation{addr,
			fmt.Sprintf("caches %v hold the block Modified", modified)})
	}

	for _, owner := range append(modified, exclusive...) {
		if len(hs) > 1 {
			violations = append(violations, Violation{addr,
				fmt.Sprintf("cache %d owns the block but %d other copies are valid",
					owner, len(hs)-1)})
		}
	}

	for _, h := range shared[min(1, len(shared)):] {
		if !bytes.Equal(h.line.Data, shared[0].line.Data) {
			violations = append(violations, Violation{addr,
				fmt.Sprintf("Shared data of cache %d differs from cache %d",
					h.cache, shared[0].cache)})
		}
	}

	return violations
}
