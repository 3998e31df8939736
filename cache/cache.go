package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/memory"
)

// ErrUnaligned is returned when a word access would straddle two blocks.
var ErrUnaligned = errors.New("word access crosses a block boundary")

// HookPosTransition fires whenever a line changes MESI state. Detail is a
// Transition. Hooks run with the cache locked and must not call back into it.
var HookPosTransition = &sim.HookPos{Name: "CacheTransition"}

// Transition is the hook detail of HookPosTransition.
type Transition struct {
	Cache   int
	Address uint64
	From    State
	To      State
}

// Port is where a cache puts its bus requests.
type Port interface {
	Submit(txn *bus.Transaction) error
}

// WriteBacker receives dirty victims. It is only called from InstallFromBus,
// which runs on the bus arbiter goroutine.
type WriteBacker interface {
	WriteBlock(addr uint64, data []byte) error
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads         uint64
	Writes        uint64
	Hits          uint64
	Misses        uint64
	Upgrades      uint64
	Invalidations uint64
	Evictions     uint64
	Writebacks    uint64
}

// Cache is a private L1 cache implementing the MESI state machine. CPU-side
// methods (Read, Write, Flush) may block on the bus; bus-side methods
// (Snoop*, InstallFromBus, CleanLine) are called by the arbiter.
//
// All line state is guarded by one mutex. CPU-side methods release it while
// waiting for the bus, so the arbiter can snoop this cache meanwhile.
type Cache struct {
	*sim.HookableBase

	id     int
	config Config
	port   Port
	backer WriteBacker

	mu sync.Mutex

	// Tag, valid and dirty bits per block.
	directory *akitacache.DirectoryImpl

	// MESI state and data, indexed by (setID * associativity + wayID).
	states    []State
	dataStore [][]byte

	stats Statistics
}

// New creates cache id with the given geometry. Misses go to port; dirty
// victims go to backer.
func New(id int, config Config, port Port, backer WriteBacker) *Cache {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("cache %d: %v", id, err))
	}

	totalBlocks := config.NumSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		HookableBase: sim.NewHookableBase(),
		id:           id,
		config:       config,
		port:         port,
		backer:       backer,
		directory: akitacache.NewDirectory(
			config.NumSets,
			config.Associativity,
			config.BlockSize,
			newVictimFinder(config.VictimPolicy),
		),
		states:    make([]State, totalBlocks),
		dataStore: dataStore,
	}
}

// ID returns the requester identity of the cache.
func (c *Cache) ID() int {
	return c.id
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = Statistics{}
}

func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) lookup(addr uint64) *akitacache.Block {
	return c.directory.Lookup(0, c.config.Align(addr))
}

func (c *Cache) checkWord(addr uint64) error {
	if c.config.Offset(addr)+memory.WordSize > uint64(c.config.BlockSize) {
		return fmt.Errorf("cache %d: address 0x%x: %w", c.id, addr, ErrUnaligned)
	}

	return nil
}

func (c *Cache) setState(block *akitacache.Block, to State) {
	idx := c.blockIndex(block)
	from := c.states[idx]
	c.states[idx] = to

	if from == to {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosTransition,
		Item:   c,
		Detail: Transition{
			Cache:   c.id,
			Address: block.Tag,
			From:    from,
			To:      to,
		},
	})
}

func (c *Cache) invalidate(block *akitacache.Block) {
	block.IsValid = false
	block.IsDirty = false
	c.setState(block, Invalid)
	c.stats.Invalidations++
}

// Read returns the 64-bit word at addr. A miss is served through the bus and
// blocks until the block is installed.
func (c *Cache) Read(ctx context.Context, addr uint64) (uint64, error) {
	if err := c.checkWord(addr); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.stats.Reads++

	if block := c.lookup(addr); block != nil {
		c.stats.Hits++
		c.directory.Visit(block)
		word := readWord(c.dataStore[c.blockIndex(block)], c.config.Offset(addr))
		c.mu.Unlock()

		return word, nil
	}

	c.stats.Misses++
	c.mu.Unlock()

	return c.request(ctx, bus.NewTransaction(c.id, bus.CmdRead, addr))
}

// Write stores a 64-bit word at addr. Exclusive and Modified hits complete
// locally; Shared hits and misses obtain ownership through the bus first
// (write-allocate).
func (c *Cache) Write(ctx context.Context, addr uint64, value uint64) error {
	if err := c.checkWord(addr); err != nil {
		return err
	}

	c.mu.Lock()
	c.stats.Writes++

	if block := c.lookup(addr); block != nil {
		c.stats.Hits++
		c.directory.Visit(block)

		idx := c.blockIndex(block)
		if c.states[idx] == Exclusive || c.states[idx] == Modified {
			writeWord(c.dataStore[idx], c.config.Offset(addr), value)
			block.IsDirty = true
			c.setState(block, Modified)
			c.mu.Unlock()

			return nil
		}

		c.stats.Upgrades++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	_, err := c.request(ctx,
		bus.NewWriteTransaction(c.id, bus.CmdReadExclusive, addr, value))

	return err
}

func (c *Cache) request(ctx context.Context, txn *bus.Transaction) (uint64, error) {
	if err := c.port.Submit(txn); err != nil {
		return 0, fmt.Errorf("cache %d: %w", c.id, err)
	}

	word, err := txn.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache %d: %w", c.id, err)
	}

	return word, nil
}

// SnoopRead answers a BusRd from another cache. A Modified line supplies its
// data and drops to Shared; an Exclusive line drops to Shared.
func (c *Cache) SnoopRead(addr uint64) bus.SnoopResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.lookup(addr)
	if block == nil {
		return bus.SnoopResult{}
	}

	idx := c.blockIndex(block)
	switch c.states[idx] {
	case Modified:
		data := make([]byte, c.config.BlockSize)
		copy(data, c.dataStore[idx])
		// The arbiter writes the supplied data back.
		block.IsDirty = false
		c.setState(block, Shared)

		return bus.SnoopResult{HadModified: true, Data: data}
	case Exclusive:
		c.setState(block, Shared)
		return bus.SnoopResult{HadShared: true}
	case Shared:
		return bus.SnoopResult{HadShared: true}
	}

	return bus.SnoopResult{}
}

// SnoopReadExclusive answers a BusRdX from another cache. Any valid copy is
// invalidated; a Modified copy supplies its data first.
func (c *Cache) SnoopReadExclusive(addr uint64) bus.SnoopResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.lookup(addr)
	if block == nil {
		return bus.SnoopResult{}
	}

	idx := c.blockIndex(block)

	var res bus.SnoopResult
	switch c.states[idx] {
	case Modified:
		res.HadModified = true
		res.Data = make([]byte, c.config.BlockSize)
		copy(res.Data, c.dataStore[idx])
	case Exclusive, Shared:
		res.HadShared = true
	}

	c.invalidate(block)

	return res
}

// InstallFromBus installs the block resolved for txn, which this cache
// issued. A write carried by txn is applied and leaves the line Modified.
// Otherwise the line becomes Shared when sharedByOthers is set and Exclusive
// if not, and the word at txn.Address is returned.
func (c *Cache) InstallFromBus(
	txn *bus.Transaction,
	data []byte,
	sharedByOthers bool,
) (uint64, error) {
	if len(data) != c.config.BlockSize {
		return 0, fmt.Errorf("cache %d: install %d bytes: %w",
			c.id, len(data), memory.ErrBlockSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blockAddr := c.config.Align(txn.Address)

	block := c.lookup(blockAddr)
	if block == nil {
		block = c.directory.FindVictim(blockAddr)
		if err := c.evict(block); err != nil {
			return 0, err
		}
	}

	idx := c.blockIndex(block)
	copy(c.dataStore[idx], data)
	block.Tag = blockAddr
	block.IsValid = true
	block.IsDirty = false

	c.directory.Visit(block)

	offset := c.config.Offset(txn.Address)
	if txn.IsWrite {
		writeWord(c.dataStore[idx], offset, txn.Word)
		block.IsDirty = true
		c.setState(block, Modified)

		return 0, nil
	}

	if sharedByOthers {
		c.setState(block, Shared)
	} else {
		c.setState(block, Exclusive)
	}

	return readWord(c.dataStore[idx], offset), nil
}

// evict frees a victim block, writing it back first if it is dirty. On a
// failed write-back the victim is kept.
func (c *Cache) evict(block *akitacache.Block) error {
	if !block.IsValid {
		return nil
	}

	idx := c.blockIndex(block)
	if block.IsDirty || c.states[idx] == Modified {
		if err := c.backer.WriteBlock(block.Tag, c.dataStore[idx]); err != nil {
			return fmt.Errorf("cache %d: write back 0x%x: %w", c.id, block.Tag, err)
		}
		c.stats.Writebacks++
	}

	c.stats.Evictions++
	block.IsValid = false
	block.IsDirty = false
	c.setState(block, Invalid)

	return nil
}

// Invalidate drops the line holding addr, if any, without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block := c.lookup(addr); block != nil {
		c.invalidate(block)
	}
}

// CleanLine returns a copy of a Modified line and leaves it clean and
// Exclusive. The caller is responsible for writing the data to memory.
func (c *Cache) CleanLine(addr uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.lookup(addr)
	if block == nil {
		return nil, false
	}

	idx := c.blockIndex(block)
	if c.states[idx] != Modified {
		return nil, false
	}

	data := make([]byte, c.config.BlockSize)
	copy(data, c.dataStore[idx])
	block.IsDirty = false
	c.setState(block, Exclusive)
	c.stats.Writebacks++

	return data, true
}

// Flush writes every Modified line back to memory through the bus. Lines
// stay valid and become Exclusive.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	var dirty []uint64
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && c.states[c.blockIndex(block)] == Modified {
				dirty = append(dirty, block.Tag)
			}
		}
	}
	c.mu.Unlock()

	for _, addr := range dirty {
		txn := bus.NewTransaction(c.id, bus.CmdWriteBack, addr)
		if _, err := c.request(ctx, txn); err != nil {
			return err
		}
	}

	return nil
}

// Reset invalidates all lines without write-back and clears statistics.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.directory.Reset()
	for i := range c.states {
		c.states[i] = Invalid
	}
	c.stats = Statistics{}
}

// State returns the MESI state of the line holding addr.
func (c *Cache) State(addr uint64) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.lookup(addr)
	if block == nil {
		return Invalid
	}

	return c.states[c.blockIndex(block)]
}

// Line returns a snapshot of the line holding addr.
func (c *Cache) Line(addr uint64) (Line, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.lookup(addr)
	if block == nil {
		return Line{}, false
	}

	return c.snapshot(block), true
}

// Lines returns snapshots of every valid line.
func (c *Cache) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lines []Line
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				lines = append(lines, c.snapshot(block))
			}
		}
	}

	return lines
}

func (c *Cache) snapshot(block *akitacache.Block) Line {
	idx := c.blockIndex(block)
	data := make([]byte, c.config.BlockSize)
	copy(data, c.dataStore[idx])

	return Line{
		Address: block.Tag,
		Valid:   block.IsValid,
		Dirty:   block.IsDirty,
		Tag:     c.config.Tag(block.Tag),
		State:   c.states[idx],
		Data:    data,
	}
}
