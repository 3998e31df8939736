package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/akita/v4/sim"
)

var (
	// ErrInvalidRequester is returned when a transaction names a requester
	// outside 0..N-1.
	ErrInvalidRequester = errors.New("invalid requester identity")

	// ErrNotConnected is returned when the requester has no attached agent.
	ErrNotConnected = errors.New("requester not connected")

	// ErrStopped is returned for submissions after Stop and used to fail
	// transactions that were still pending when the bus stopped.
	ErrStopped = errors.New("bus stopped")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("bus already running")
)

// SnoopResult is an agent's answer to a broadcast.
type SnoopResult struct {
	HadModified bool
	HadShared   bool
	// Data holds the block when HadModified is set.
	Data []byte
}

// Agent is a cache attached to the bus.
type Agent interface {
	SnoopRead(addr uint64) SnoopResult
	SnoopReadExclusive(addr uint64) SnoopResult
	// InstallFromBus installs the resolved block for a transaction the agent
	// issued and applies the access carried by the transaction. It returns
	// the word read, if any.
	InstallFromBus(txn *Transaction, data []byte, sharedByOthers bool) (uint64, error)
	// CleanLine returns the data of a dirty line and marks it clean.
	CleanLine(addr uint64) ([]byte, bool)
}

// BackingStore is the memory behind the bus.
type BackingStore interface {
	ReadBlock(addr uint64) ([]byte, error)
	WriteBlock(addr uint64, data []byte) error
}

// Statistics holds bus traffic counters.
type Statistics struct {
	Granted        uint64
	Reads          uint64
	ReadExclusives uint64
	WriteBacks     uint64
	CacheToCache   uint64
	MemoryReads    uint64
	MemoryWrites   uint64
	Failed         uint64
	Anomalies      uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for arbitration messages.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithIdleTimeout makes the arbitration loop exit after the queue has been
// empty for d. Zero keeps the loop running until Stop.
func WithIdleTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.idleTimeout = d
	}
}

// Bus is the arbiter of a shared snooping bus. A single goroutine runs the
// arbitration loop and serves one transaction completely before granting the
// next.
type Bus struct {
	*sim.HookableBase

	numAgents   int
	agents      []Agent
	memory      BackingStore
	queue       *RequestQueue
	logger      *log.Logger
	idleTimeout time.Duration

	// Owned by the arbitration loop.
	lastGranted int

	statsMu sync.Mutex
	stats   Statistics

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a bus for numAgents agents in front of memory. Agents are
// attached with Connect before the loop starts.
func New(numAgents int, memory BackingStore, opts ...Option) *Bus {
	if numAgents <= 0 {
		panic("bus: need at least one agent")
	}

	b := &Bus{
		HookableBase: sim.NewHookableBase(),
		numAgents:    numAgents,
		agents:       make([]Agent, numAgents),
		memory:       memory,
		queue:        NewRequestQueue(numAgents),
		logger:       log.New(io.Discard, "", 0),
		lastGranted:  numAgents - 1,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// NumAgents returns N.
func (b *Bus) NumAgents() int {
	return b.numAgents
}

// Connect attaches an agent under identity id.
func (b *Bus) Connect(id int, agent Agent) {
	if id < 0 || id >= b.numAgents {
		panic(fmt.Sprintf("bus: agent id %d outside 0..%d", id, b.numAgents-1))
	}

	b.agents[id] = agent
}

// Queue exposes the request queue for inspection.
func (b *Bus) Queue() *RequestQueue {
	return b.queue
}

// Stats returns a snapshot of the traffic counters.
func (b *Bus) Stats() Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	return b.stats
}

func (b *Bus) count(f func(s *Statistics)) {
	b.statsMu.Lock()
	f(&b.stats)
	b.statsMu.Unlock()
}

// Submit enqueues a transaction. It is safe for concurrent use.
func (b *Bus) Submit(txn *Transaction) error {
	if txn.Requester < 0 || txn.Requester >= b.numAgents {
		return fmt.Errorf("requester %d: %w", txn.Requester, ErrInvalidRequester)
	}

	if b.agents[txn.Requester] == nil {
		return fmt.Errorf("requester %d: %w", txn.Requester, ErrNotConnected)
	}

	txn.setPhase(PhaseQueued)
	if err := b.queue.Push(txn); err != nil {
		return fmt.Errorf("submit %s: %w", txn, ErrStopped)
	}

	return nil
}

// Start runs the arbitration loop on its own goroutine.
func (b *Bus) Start() {
	go func() {
		if err := b.Run(context.Background()); err != nil &&
			!errors.Is(err, ErrAlreadyRunning) {
			b.logger.Printf("bus: arbitration loop ended: %v", err)
		}
	}()
}

// Run executes the arbitration loop on the calling goroutine until ctx is
// done, Stop is called, or the idle timeout expires. Transactions still
// pending when the loop exits are failed with ErrStopped.
func (b *Bus) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(b.done)
	defer b.failPending()

	for {
		txn, err := b.next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrQueueClosed):
				return nil
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				b.logger.Printf("bus: idle for %v, stopping", b.idleTimeout)
				return nil
			default:
				return err
			}
		}

		b.serve(txn)
	}
}

func (b *Bus) next(ctx context.Context) (*Transaction, error) {
	if b.idleTimeout <= 0 {
		return b.queue.PopPriority(ctx, b.lastGranted)
	}

	idleCtx, cancel := context.WithTimeout(ctx, b.idleTimeout)
	defer cancel()

	return b.queue.PopPriority(idleCtx, b.lastGranted)
}

// Stop ends the arbitration loop. The transaction being served finishes;
// transactions still queued are not served and complete with ErrStopped.
// Stop is idempotent and waits for the loop to exit if it was running.
func (b *Bus) Stop() {
	b.stopOnce.Do(b.failPending)

	if b.running.Load() {
		<-b.done
	}
}

// Wait blocks until the arbitration loop exits.
func (b *Bus) Wait() {
	<-b.done
}

func (b *Bus) failPending() {
	for _, txn := range b.queue.Close() {
		b.fail(txn, fmt.Errorf("%s not served: %w", txn, ErrStopped))
	}
}

func (b *Bus) serve(txn *Transaction) {
	b.lastGranted = txn.Requester
	txn.setPhase(PhaseArbitrated)
	b.count(func(s *Statistics) { s.Granted++ })
	b.logger.Printf("bus: grant %s", txn)
	b.invoke(HookPosArbitrated, txn, nil)

	switch txn.Command {
	case CmdRead, CmdReadExclusive:
		b.serveRead(txn)
	case CmdWriteBack:
		b.serveWriteBack(txn)
	default:
		b.fail(txn, fmt.Errorf("unknown command %s", txn.Command))
	}
}

func (b *Bus) serveRead(txn *Transaction) {
	if txn.Command == CmdRead {
		b.count(func(s *Statistics) { s.Reads++ })
	} else {
		b.count(func(s *Statistics) { s.ReadExclusives++ })
	}

	supplied := b.snoop(txn)

	txn.setPhase(PhaseResolving)

	data, err := b.resolve(txn, supplied)
	if err != nil {
		b.fail(txn, err)
		return
	}

	b.invoke(HookPosResolved, txn, nil)

	sharedByOthers := txn.Command == CmdRead &&
		(txn.HitShared || txn.HitModified)

	word, err := b.agents[txn.Requester].InstallFromBus(txn, data, sharedByOthers)
	if err != nil {
		b.fail(txn, fmt.Errorf("install %s: %w", txn, err))
		return
	}

	txn.complete(word, nil)
	b.logger.Printf("bus: delivered %s shared=%t fromMemory=%t",
		txn, sharedByOthers, txn.ServedFromMemory)
	b.invoke(HookPosDelivered, txn, nil)
}

// snoop broadcasts the transaction to every agent but the requester and
// returns the block supplied by the first agent that held it Modified.
func (b *Bus) snoop(txn *Transaction) []byte {
	txn.setPhase(PhaseSnooping)

	var supplied []byte
	winner := -1
	var modifiedAgents []int

	for id, agent := range b.agents {
		if id == txn.Requester || agent == nil {
			continue
		}

		var res SnoopResult
		if txn.Command == CmdReadExclusive {
			res = agent.SnoopReadExclusive(txn.Address)
		} else {
			res = agent.SnoopRead(txn.Address)
		}

		b.invoke(HookPosSnoop, txn, SnoopEvent{Agent: id, Result: res})

		if res.HadModified {
			txn.HitModified = true
			modifiedAgents = append(modifiedAgents, id)
			if winner < 0 {
				winner = id
				supplied = res.Data
			}
		}

		if res.HadShared {
			txn.HitShared = true
		}
	}

	if len(modifiedAgents) > 1 {
		b.count(func(s *Statistics) { s.Anomalies++ })
		b.logger.Printf(
			"bus: protocol anomaly on 0x%x: agents %v held Modified, using agent %d",
			txn.Address, modifiedAgents, winner)
		b.invoke(HookPosAnomaly, txn, AnomalyEvent{
			Address:   txn.Address,
			Agents:    modifiedAgents,
			Winner:    winner,
			Requester: txn.Requester,
		})
	}

	return supplied
}

func (b *Bus) resolve(txn *Transaction, supplied []byte) ([]byte, error) {
	if txn.HitModified {
		if err := b.memory.WriteBlock(txn.Address, supplied); err != nil {
			return nil, fmt.Errorf("write back %s: %w", txn, err)
		}

		b.count(func(s *Statistics) {
			s.CacheToCache++
			s.MemoryWrites++
		})

		return supplied, nil
	}

	data, err := b.memory.ReadBlock(txn.Address)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", txn, err)
	}

	txn.ServedFromMemory = true
	b.count(func(s *Statistics) { s.MemoryReads++ })

	return data, nil
}

func (b *Bus) serveWriteBack(txn *Transaction) {
	b.count(func(s *Statistics) { s.WriteBacks++ })
	txn.setPhase(PhaseResolving)

	data, dirty := b.agents[txn.Requester].CleanLine(txn.Address)
	if dirty {
		txn.HitModified = true
		if err := b.memory.WriteBlock(txn.Address, data); err != nil {
			b.fail(txn, fmt.Errorf("write back %s: %w", txn, err))
			return
		}
		b.count(func(s *Statistics) { s.MemoryWrites++ })
	}

	b.invoke(HookPosResolved, txn, nil)
	txn.complete(0, nil)
	b.invoke(HookPosDelivered, txn, nil)
}

func (b *Bus) fail(txn *Transaction, err error) {
	b.count(func(s *Statistics) { s.Failed++ })
	b.logger.Printf("bus: failed %s: %v", txn, err)
	txn.complete(0, err)
	b.invoke(HookPosFailed, txn, err)
}

func (b *Bus) invoke(pos *sim.HookPos, txn *Transaction, detail interface{}) {
	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   txn,
		Detail: detail,
	})
}
