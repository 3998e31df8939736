// Package cache provides private L1 caches kept coherent with the MESI
// protocol over a snooping bus.
package cache

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/mesisim/memory"
)

// VictimPolicy names a replacement policy.
type VictimPolicy string

// Supported replacement policies.
const (
	// VictimPolicyFixed picks the first invalid way, else way 0.
	VictimPolicyFixed VictimPolicy = "fixed"
	// VictimPolicyLRU picks the least recently used way.
	VictimPolicyLRU VictimPolicy = "lru"
)

// Config holds cache geometry.
type Config struct {
	// NumSets is the number of sets. Must be a power of two.
	NumSets int `json:"num_sets"`
	// Associativity is the number of ways per set.
	Associativity int `json:"associativity"`
	// BlockSize in bytes. Must be a power of two and hold at least one word.
	BlockSize int `json:"block_size"`
	// VictimPolicy selects the replacement policy. Empty means fixed.
	VictimPolicy VictimPolicy `json:"victim_policy,omitempty"`
}

// DefaultL1Config returns the reference L1 geometry: 8 sets, 2 ways,
// 32-byte blocks, fixed replacement.
func DefaultL1Config() Config {
	return Config{
		NumSets:       8,
		Associativity: 2,
		BlockSize:     memory.DefaultBlockSize,
		VictimPolicy:  VictimPolicyFixed,
	}
}

// Validate checks the geometry.
func (c Config) Validate() error {
	if c.NumSets <= 0 || c.NumSets&(c.NumSets-1) != 0 {
		return fmt.Errorf("num_sets must be a positive power of two, got %d",
			c.NumSets)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity must be > 0")
	}
	if c.BlockSize < memory.WordSize || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block_size must be a power of two >= %d, got %d",
			memory.WordSize, c.BlockSize)
	}
	switch c.VictimPolicy {
	case "", VictimPolicyFixed, VictimPolicyLRU:
	default:
		return fmt.Errorf("unknown victim_policy %q", c.VictimPolicy)
	}
	return nil
}

// Size returns the capacity in bytes.
func (c Config) Size() int {
	return c.NumSets * c.Associativity * c.BlockSize
}

func (c Config) offsetBits() uint {
	return uint(bits.TrailingZeros(uint(c.BlockSize)))
}

func (c Config) indexBits() uint {
	return uint(bits.TrailingZeros(uint(c.NumSets)))
}

// Offset returns the byte offset of addr within its block.
func (c Config) Offset(addr uint64) uint64 {
	return addr & uint64(c.BlockSize-1)
}

// Index returns the set that addr maps to.
func (c Config) Index(addr uint64) uint64 {
	return (addr >> c.offsetBits()) & uint64(c.NumSets-1)
}

// Tag returns the bits of addr above the index.
func (c Config) Tag(addr uint64) uint64 {
	return addr >> (c.offsetBits() + c.indexBits())
}

// BlockAddr rebuilds the block-aligned address from a tag and an index.
func (c Config) BlockAddr(tag, index uint64) uint64 {
	return tag<<(c.offsetBits()+c.indexBits()) | index<<c.offsetBits()
}

// Align rounds addr down to its block boundary.
func (c Config) Align(addr uint64) uint64 {
	return addr &^ uint64(c.BlockSize-1)
}
