package cache

import (
	"encoding/binary"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// State is the MESI state of a cache line.
type State int

// MESI states.
const (
	Invalid State = iota
	Exclusive
	Shared
	Modified
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Exclusive:
		return "Exclusive"
	case Shared:
		return "Shared"
	case Modified:
		return "Modified"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsValid reports whether the state holds usable data.
func (s State) IsValid() bool {
	return s != Invalid
}

// Line is a snapshot of one cache line.
type Line struct {
	// Address is the block-aligned address the line holds.
	Address uint64
	Valid   bool
	Dirty   bool
	Tag     uint64
	State   State
	Data    []byte
}

// FirstInvalidVictimFinder evicts the first invalid way of a set, or way 0
// when every way is valid.
type FirstInvalidVictimFinder struct{}

// NewFirstInvalidVictimFinder returns the fixed replacement policy.
func NewFirstInvalidVictimFinder() *FirstInvalidVictimFinder {
	return &FirstInvalidVictimFinder{}
}

// FindVictim picks the block to replace.
func (f *FirstInvalidVictimFinder) FindVictim(
	set *akitacache.Set,
) *akitacache.Block {
	for _, block := range set.Blocks {
		if !block.IsValid {
			return block
		}
	}

	return set.Blocks[0]
}

func newVictimFinder(policy VictimPolicy) akitacache.VictimFinder {
	if policy == VictimPolicyLRU {
		return akitacache.NewLRUVictimFinder()
	}

	return NewFirstInvalidVictimFinder()
}

func readWord(data []byte, offset uint64) uint64 {
	return binary.LittleEndian.Uint64(data[offset:])
}

func writeWord(data []byte, offset uint64, value uint64) {
	binary.LittleEndian.PutUint64(data[offset:], value)
}
