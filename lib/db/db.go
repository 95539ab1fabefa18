package db

import (
	"context"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplOak Implementation = "oak"
)

// Direction selects the iteration order of SeekRange.
type Direction uint8

const (
	// Forward starts at the first key >= start and walks towards larger keys.
	Forward Direction = iota
	// Backward starts at the last key <= start and walks towards smaller keys.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB is an embedded ordered key-value store with snapshot transactions.
//
// Keys are compared bytewise. At most one writable transaction exists at any time,
// read-only transactions are unbounded and never block. Every transaction observes
// the snapshot that was published when it began.
//
// Thread-safety: all methods are safe for concurrent use. A Tx itself must only be
// used by one goroutine at a time.
type KVDB interface {

	// Begin opens a transaction. For writable transactions the behavior when another
	// writer is active depends on the engine's writer policy: either the call waits
	// (until ctx is done) or it fails with ErrTransactionConflict.
	Begin(ctx context.Context, writable bool) (Tx, error)

	// Compact performs one incremental compaction pass. It returns true when more
	// compaction work remains. Cancelling ctx stops between segment rewrites.
	Compact(ctx context.Context) (moreWork bool, err error)

	// CompactFull rewrites every segment that exists when the call starts, whatever its
	// live ratio, and retires it. It returns once all of them are rewritten.
	CompactFull(ctx context.Context) error

	// Stats returns a summary of the store's storage and transaction state.
	Stats() (Stats, error)

	// Close releases all resources. Open transactions become unusable.
	Close() error
}

// Tx is a transaction bound to one snapshot of the store.
//
// Byte slices returned by Get and by iterators must not be modified by the caller.
// Byte slices passed to Set are copied.
type Tx interface {

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the value stored for key in this transaction's view.
	Get(key []byte) (value []byte, found bool, err error)

	// SeekRange returns an iterator positioned according to dir (see Direction).
	// A nil start means the first (Forward) or last (Backward) key. The iterator sees
	// the transaction's state at the time of the call, later writes are not visible.
	SeekRange(start []byte, dir Direction) Iterator

	// KeyCount returns the number of keys visible in this transaction.
	KeyCount() uint64

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or replaces key. Fails with ErrReadOnly on read transactions.
	Set(key, value []byte) error

	// Delete removes key and reports whether it existed.
	Delete(key []byte) (existed bool, err error)

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// Writable reports whether the transaction may modify the store.
	Writable() bool

	// CommitNumber returns the commit number of the snapshot the transaction started from.
	CommitNumber() uint64

	// Commit makes the changes of a write transaction durable and visible to
	// transactions started afterwards. On a read transaction it only releases the snapshot.
	Commit() error

	// Rollback discards all changes and releases the snapshot. Rolling back a finished
	// transaction is a no-op.
	Rollback() error
}

// Iterator walks keys of one snapshot in the requested direction.
//
// Usage:
//
//	it := tx.SeekRange(nil, db.Forward)
//	defer it.Close()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}
