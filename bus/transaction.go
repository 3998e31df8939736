// Package bus implements the snooping bus interconnect that keeps the private
// caches coherent.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Command is the kind of request a cache puts on the bus.
type Command int

// Bus commands.
const (
	// CmdRead fetches a block for reading (BusRd).
	CmdRead Command = iota
	// CmdReadExclusive fetches a block with ownership, invalidating every
	// other copy (BusRdX).
	CmdReadExclusive
	// CmdWriteBack flushes the requester's dirty copy to memory.
	CmdWriteBack
)

func (c Command) String() string {
	switch c {
	case CmdRead:
		return "BusRd"
	case CmdReadExclusive:
		return "BusRdX"
	case CmdWriteBack:
		return "BusWB"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Phase tracks where a transaction is in its life on the bus.
type Phase int32

// Transaction phases, in order.
const (
	PhaseCreated Phase = iota
	PhaseQueued
	PhaseArbitrated
	PhaseSnooping
	PhaseResolving
	PhaseDelivered
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "Created"
	case PhaseQueued:
		return "Queued"
	case PhaseArbitrated:
		return "Arbitrated"
	case PhaseSnooping:
		return "Snooping"
	case PhaseResolving:
		return "Resolving"
	case PhaseDelivered:
		return "Delivered"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Transaction is a single request on the bus. It is created by a cache,
// consumed once by the arbiter, and completed exactly once.
type Transaction struct {
	ID        string
	Requester int
	Command   Command
	Address   uint64

	// Snoop outcome, filled in by the arbiter.
	HitShared        bool
	HitModified      bool
	ServedFromMemory bool

	// IsWrite and Word describe the CPU access that caused the request. The
	// requester applies it while installing the block.
	IsWrite bool
	Word    uint64

	phase atomic.Int32

	once   sync.Once
	done   chan struct{}
	result uint64
	err    error
}

// NewTransaction creates a transaction for a read-side access.
func NewTransaction(requester int, cmd Command, addr uint64) *Transaction {
	return &Transaction{
		ID:        xid.New().String(),
		Requester: requester,
		Command:   cmd,
		Address:   addr,
		done:      make(chan struct{}),
	}
}

// NewWriteTransaction creates a transaction that carries a word to store
// once the block is owned.
func NewWriteTransaction(
	requester int,
	cmd Command,
	addr uint64,
	word uint64,
) *Transaction {
	t := NewTransaction(requester, cmd, addr)
	t.IsWrite = true
	t.Word = word

	return t
}

// Phase returns the current phase.
func (t *Transaction) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Transaction) setPhase(p Phase) {
	t.phase.Store(int32(p))
}

// Done is closed when the transaction completes.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transaction completes or ctx is done. It returns the
// word produced by the requester's install step.
//
// Abandoning a wait does not withdraw the transaction; the arbiter still
// serves it.
func (t *Transaction) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Err returns the completion error. It is only meaningful after Done.
func (t *Transaction) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Transaction) complete(word uint64, err error) {
	t.once.Do(func() {
		t.result = word
		t.err = err
		if err != nil {
			t.setPhase(PhaseFailed)
		} else {
			t.setPhase(PhaseDelivered)
		}
		close(t.done)
	})
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s[%s] requester=%d addr=0x%x",
		t.Command, t.ID, t.Requester, t.Address)
}
