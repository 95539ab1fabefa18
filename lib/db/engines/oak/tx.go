package oak

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
)

// tx is a transaction on one snapshot. Write transactions hold the writer slot from
// Begin until Commit or Rollback.
//
// Thread-safety: a tx must only be used by one goroutine at a time.
type tx struct {
	db       *oakDB
	id       uint64
	owner    uint64 // nodes with this Owner are changed in place
	writable bool
	base     *snapshot
	root     internal.Ref
	modified bool
	done     bool
	// failed is set when a write failed halfway. Nodes owned by the tx may already be
	// changed, so the tx only allows Rollback afterwards.
	failed error
}

// Begin opens a transaction on the most recently published snapshot.
func (s *oakDB) Begin(ctx context.Context, writable bool) (db.Tx, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	if writable {
		if err := s.acquireWriter(ctx, s.opts.WriterPolicy == WriterBlock); err != nil {
			return nil, err
		}
		if s.closed.Load() {
			s.releaseWriter()
			return nil, db.ErrClosed
		}
		if s.poisoned != nil {
			s.releaseWriter()
			return nil, s.poisoned
		}
	}

	id := s.nextTxID.Add(1)
	base := s.pin(id)
	return &tx{db: s, id: id, owner: id, writable: writable, base: base, root: base.root}, nil
}

func (t *tx) check(write bool) error {
	if t.done {
		return db.ErrTxClosed
	}
	if t.db.closed.Load() {
		return db.ErrClosed
	}
	if write && !t.writable {
		return db.ErrReadOnly
	}
	if t.failed != nil {
		return fmt.Errorf("transaction aborted by an earlier error: %w", t.failed)
	}
	return nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (t *tx) Get(key []byte) ([]byte, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	return t.db.get(t.root, key)
}

func (t *tx) SeekRange(start []byte, dir db.Direction) db.Iterator {
	it := &iterator{db: t.db, tx: t, root: t.root, dir: dir, start: start}
	if err := t.check(false); err != nil {
		it.err = err
		return it
	}
	if t.writable && t.root.IsDirty() {
		// the iterator shares the uncommitted nodes, later writes must copy them
		t.owner = t.db.nextTxID.Add(1)
	}
	return it
}

func (t *tx) KeyCount() uint64 {
	return t.root.Count
}

func (t *tx) Writable() bool {
	return t.writable
}

func (t *tx) CommitNumber() uint64 {
	return t.base.number
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (t *tx) Set(key, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	if len(key) > t.db.opts.maxKeySize() {
		return fmt.Errorf("%w: %d bytes, limit is %d", db.ErrKeyTooLarge, len(key), t.db.opts.maxKeySize())
	}
	root, err := t.db.insert(t.root, bytes.Clone(key), cloneValue(value), t.owner)
	if err != nil {
		t.failed = err
		return err
	}
	t.root = root
	t.modified = true
	return nil
}

func (t *tx) Delete(key []byte) (bool, error) {
	if err := t.check(true); err != nil {
		return false, err
	}
	root, existed, err := t.db.remove(t.root, key, t.owner)
	if err != nil {
		t.failed = err
		return false, err
	}
	if !existed {
		return false, nil
	}
	t.root = root
	t.modified = true
	return true, nil
}

// cloneValue copies value and maps nil to an empty slice so stored values are never nil.
func cloneValue(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return bytes.Clone(value)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Commit publishes the changes of a write transaction. A write transaction without
// changes and every read transaction simply release their snapshot.
func (t *tx) Commit() error {
	if t.done {
		return db.ErrTxClosed
	}
	defer t.finish()
	if t.failed != nil {
		return fmt.Errorf("transaction aborted by an earlier error: %w", t.failed)
	}
	if !t.writable || !t.modified {
		return nil
	}
	if t.db.closed.Load() {
		return db.ErrClosed
	}
	_, err := t.db.commitRoot(t.root, "commit")
	return err
}

// Rollback discards all changes. It is a no-op on a finished transaction.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.root = internal.Ref{}
	t.db.unpin(t.id)
	if t.writable {
		t.db.releaseWriter()
	}
	t.db.collectRetired()
}
