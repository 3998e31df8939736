package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("request queue closed")

// RequestQueue holds pending transactions. Insertion order is kept, but
// PopPriority dequeues by round-robin over requester identities.
type RequestQueue struct {
	numRequesters int

	mu     sync.Mutex
	items  []*Transaction
	closed bool

	notify   chan struct{}
	closedCh chan struct{}
}

// NewRequestQueue creates an empty queue for requesters 0..numRequesters-1.
func NewRequestQueue(numRequesters int) *RequestQueue {
	if numRequesters <= 0 {
		panic("bus: queue needs at least one requester")
	}

	return &RequestQueue{
		numRequesters: numRequesters,
		notify:        make(chan struct{}, 1),
		closedCh:      make(chan struct{}),
	}
}

func (q *RequestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push appends a transaction and wakes one waiter. It never blocks.
func (q *RequestQueue) Push(txn *Transaction) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, txn)
	q.mu.Unlock()

	q.signal()

	return nil
}

// PopPriority blocks until a transaction is pending, then removes and returns
// the first transaction of the first requester found scanning cyclically from
// (lastGranted+1) mod N. The relative order of the remaining entries is kept.
func (q *RequestQueue) PopPriority(
	ctx context.Context,
	lastGranted int,
) (*Transaction, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			txn := q.popPriorityLocked(lastGranted)
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}

			return txn, nil
		}

		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.closedCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *RequestQueue) popPriorityLocked(lastGranted int) *Transaction {
	n := q.numRequesters
	start := ((lastGranted+1)%n + n) % n

	for i := 0; i < n; i++ {
		target := (start + i) % n
		for j, txn := range q.items {
			if txn.Requester == target {
				return q.removeLocked(j)
			}
		}
	}

	// Only reachable with requesters outside the topology.
	return q.removeLocked(0)
}

func (q *RequestQueue) removeLocked(i int) *Transaction {
	txn := q.items[i]
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]

	return txn
}

// TryPop removes the oldest transaction without blocking.
func (q *RequestQueue) TryPop() (*Transaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	return q.removeLocked(0), true
}

// Size returns the number of pending transactions.
func (q *RequestQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// IsEmpty reports whether no transaction is pending.
func (q *RequestQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Close rejects further pushes, wakes every waiter, and returns whatever was
// still pending. Closing twice returns nil the second time.
func (q *RequestQueue) Close() []*Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.closedCh)

	pending := q.items
	q.items = nil

	return pending
}
