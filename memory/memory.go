// Package memory provides the shared backing store behind the coherent caches.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Reference geometry: 512 64-bit words split into 32-byte blocks.
const (
	DefaultCapacity  = 512 * WordSize
	DefaultBlockSize = 32
	WordSize         = 8
)

var (
	// ErrOutOfRange is returned when an access falls outside the store.
	ErrOutOfRange = errors.New("address out of range")

	// ErrBlockSize is returned when a block write carries the wrong number
	// of bytes.
	ErrBlockSize = errors.New("block size mismatch")
)

// Memory is a flat byte-addressable store serving aligned block reads and
// writes.
//
// Memory does no locking. While a system is running only the bus arbiter
// goroutine touches it; seeding and inspection through Read64/Write64 happen
// before the arbiter starts or after it stops.
type Memory struct {
	data      []byte
	blockSize int
}

// NewMemory creates a zero-filled memory of capacity bytes. The capacity is
// rounded down to a whole number of blocks.
func NewMemory(capacity, blockSize int) *Memory {
	if blockSize <= 0 {
		panic("memory: block size must be positive")
	}

	capacity -= capacity % blockSize
	if capacity < 0 {
		capacity = 0
	}

	return &Memory{
		data:      make([]byte, capacity),
		blockSize: blockSize,
	}
}

// Capacity returns the number of addressable bytes.
func (m *Memory) Capacity() int {
	return len(m.data)
}

// BlockSize returns the block granularity in bytes.
func (m *Memory) BlockSize() int {
	return m.blockSize
}

// Align rounds addr down to its block boundary.
func (m *Memory) Align(addr uint64) uint64 {
	return addr - addr%uint64(m.blockSize)
}

func (m *Memory) checkBlock(base uint64) error {
	if base+uint64(m.blockSize) > uint64(len(m.data)) || base+uint64(m.blockSize) < base {
		return fmt.Errorf("block 0x%x: %w", base, ErrOutOfRange)
	}

	return nil
}

// ReadBlock returns a copy of the block containing addr.
func (m *Memory) ReadBlock(addr uint64) ([]byte, error) {
	base := m.Align(addr)
	if err := m.checkBlock(base); err != nil {
		return nil, err
	}

	block := make([]byte, m.blockSize)
	copy(block, m.data[base:base+uint64(m.blockSize)])

	return block, nil
}

// WriteBlock overwrites the block containing addr with data.
func (m *Memory) WriteBlock(addr uint64, data []byte) error {
	if len(data) != m.blockSize {
		return fmt.Errorf("write %d bytes, want %d: %w",
			len(data), m.blockSize, ErrBlockSize)
	}

	base := m.Align(addr)
	if err := m.checkBlock(base); err != nil {
		return err
	}

	copy(m.data[base:base+uint64(m.blockSize)], data)

	return nil
}

// Read64 reads a little-endian 64-bit word.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	if addr+WordSize > uint64(len(m.data)) || addr+WordSize < addr {
		return 0, fmt.Errorf("word 0x%x: %w", addr, ErrOutOfRange)
	}

	return binary.LittleEndian.Uint64(m.data[addr:]), nil
}

// Write64 writes a little-endian 64-bit word.
func (m *Memory) Write64(addr, value uint64) error {
	if addr+WordSize > uint64(len(m.data)) || addr+WordSize < addr {
		return fmt.Errorf("word 0x%x: %w", addr, ErrOutOfRange)
	}

	binary.LittleEndian.PutUint64(m.data[addr:], value)

	return nil
}
