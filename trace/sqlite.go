package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
)

// ErrClosed is returned when writing to a closed recorder.
var ErrClosed = errors.New("recorder closed")

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 1000

// TransactionRecord is one completed bus transaction.
type TransactionRecord struct {
	ID          string
	Requester   int
	Command     string
	Address     uint64
	HitShared   bool
	HitModified bool
	FromMemory  bool
	Status      string
	Error       string
}

// TransitionRecord is one cache state change.
type TransitionRecord struct {
	Cache   int
	Address uint64
	From    string
	To      string
}

// SQLiteRecorder is a hook that stores completed bus transactions and cache
// state transitions in a SQLite database.
type SQLiteRecorder struct {
	mu sync.Mutex

	db                  *sql.DB
	path                string
	txnStatement        *sql.Stmt
	transitionStatement *sql.Stmt

	txns        []TransactionRecord
	transitions []TransitionRecord
	batchSize   int
	closed      bool
}

// NewSQLiteRecorder creates the database at path and prepares the tables.
// An empty path picks a unique file name in the working directory. Buffered
// records are flushed at process exit.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "mesisim_trace_" + xid.New().String() + ".sqlite3"
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("trace database %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	r := &SQLiteRecorder{
		db:        db,
		path:      path,
		batchSize: DefaultBatchSize,
	}

	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}

	atexit.Register(func() { _ = r.Close() })

	return r, nil
}

// Path returns the database file.
func (r *SQLiteRecorder) Path() string {
	return r.path
}

// SetBatchSize changes the flush threshold.
func (r *SQLiteRecorder) SetBatchSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > 0 {
		r.batchSize = n
	}
}

func (r *SQLiteRecorder) init() error {
	stmts := []string{
		`create table bus_transactions
		(
			id           varchar(20) not null primary key,
			requester    integer     not null,
			command      varchar(10) not null,
			address      integer     not null,
			hit_shared   boolean     not null,
			hit_modified boolean     not null,
			from_memory  boolean     not null,
			status       varchar(10) not null,
			error        text
		);`,
		`create index bus_transactions_address_index
			on bus_transactions (address);`,
		`create index bus_transactions_requester_index
			on bus_transactions (requester);`,
		`create table state_transitions
		(
			seq        integer primary key autoincrement,
			cache      integer     not null,
			address    integer     not null,
			from_state varchar(10) not null,
			to_state   varchar(10) not null
		);`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("failed to create trace tables: %w", err)
		}
	}

	var err error
	r.txnStatement, err = r.db.Prepare(`insert into bus_transactions
		(id, requester, command, address, hit_shared, hit_modified,
		 from_memory, status, error)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}

	r.transitionStatement, err = r.db.Prepare(`insert into state_transitions
		(cache, address, from_state, to_state) values (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}

	return nil
}

// Func buffers delivered and failed transactions and cache transitions.
func (r *SQLiteRecorder) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case bus.HookPosDelivered:
		r.recordTxn(ctx.Item.(*bus.Transaction), "delivered", nil)
	case bus.HookPosFailed:
		err, _ := ctx.Detail.(error)
		r.recordTxn(ctx.Item.(*bus.Transaction), "failed", err)
	case cache.HookPosTransition:
		t := ctx.Detail.(cache.Transition)
		r.recordTransition(TransitionRecord{
			Cache:   t.Cache,
			Address: t.Address,
			From:    t.From.String(),
			To:      t.To.String(),
		})
	}
}

func (r *SQLiteRecorder) recordTxn(txn *bus.Transaction, status string, err error) {
	rec := TransactionRecord{
		ID:          txn.ID,
		Requester:   txn.Requester,
		Command:     txn.Command.String(),
		Address:     txn.Address,
		HitShared:   txn.HitShared,
		HitModified: txn.HitModified,
		FromMemory:  txn.ServedFromMemory,
		Status:      status,
	}
	if err != nil {
		rec.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.txns = append(r.txns, rec)
	if len(r.txns)+len(r.transitions) >= r.batchSize {
		_ = r.flushLocked()
	}
}

func (r *SQLiteRecorder) recordTransition(rec TransitionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.transitions = append(r.transitions, rec)
	if len(r.txns)+len(r.transitions) >= r.batchSize {
		_ = r.flushLocked()
	}
}

// Flush writes all buffered records to the database.
func (r *SQLiteRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	return r.flushLocked()
}

func (r *SQLiteRecorder) flushLocked() error {
	if len(r.txns) == 0 && len(r.transitions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin trace transaction: %w", err)
	}

	txnStmt := tx.Stmt(r.txnStatement)
	for _, t := range r.txns {
		_, err := txnStmt.Exec(
			t.ID, t.Requester, t.Command, int64(t.Address),
			t.HitShared, t.HitModified, t.FromMemory, t.Status, t.Error,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}

	transitionStmt := tx.Stmt(r.transitionStatement)
	for _, t := range r.transitions {
		_, err := transitionStmt.Exec(
			t.Cache, int64(t.Address), t.From, t.To,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trace transaction: %w", err)
	}

	r.txns = nil
	r.transitions = nil

	return nil
}

// Close flushes buffered records and closes the database. Calling it again
// has no effect.
func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	err := r.flushLocked()
	r.closed = true

	return errors.Join(err, r.db.Close())
}
