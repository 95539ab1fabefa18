package lstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("store")

// session is one open transaction of the store.
type session struct {
	mu       sync.Mutex // serializes use of tx
	tx       db.Tx
	lastUsed atomic.Int64 // unix nanos
}

func (s *session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

type storeImpl struct {
	db       db.KVDB
	timeout  time.Duration
	sessions *xsync.MapOf[uint64, *session]
	nextID   atomic.Uint64
	closed   atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewLocalStore creates a store on top of an opened database. The store owns the
// database and closes it in Close.
//
// timeout bounds how long Begin waits for the writer slot and how long a transaction
// may stay idle before it is rolled back. A timeout <= 0 disables both limits.
func NewLocalStore(kv db.KVDB, timeout time.Duration) store.IStore {
	s := &storeImpl{
		db:       kv,
		timeout:  timeout,
		sessions: xsync.NewMapOf[uint64, *session](),
		stop:     make(chan struct{}),
	}
	if timeout > 0 {
		s.wg.Add(1)
		go s.reap()
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Begin(writable bool) (uint64, error) {
	if s.closed.Load() {
		return 0, store.NewError(store.RetCClosed, "store is closed")
	}
	tx, err := s.begin(writable)
	if err != nil {
		return 0, store.FromDBError(err)
	}

	id := s.nextID.Add(1)
	sess := &session{tx: tx}
	sess.touch()
	s.sessions.Store(id, sess)
	Logger.Debugf("began transaction %d (writable=%t, commit=%d)", id, writable, tx.CommitNumber())
	return id, nil
}

func (s *storeImpl) Get(txID uint64, key []byte) (value []byte, found bool, err error) {
	err = s.with(txID, false, func(tx db.Tx) error {
		var err error
		value, found, err = tx.Get(key)
		return err
	})
	return value, found, err
}

func (s *storeImpl) Set(txID uint64, key, value []byte) error {
	return s.with(txID, true, func(tx db.Tx) error {
		return tx.Set(key, value)
	})
}

func (s *storeImpl) Delete(txID uint64, key []byte) (existed bool, err error) {
	err = s.with(txID, true, func(tx db.Tx) error {
		var err error
		existed, err = tx.Delete(key)
		return err
	})
	return existed, err
}

func (s *storeImpl) Scan(txID uint64, start []byte, backward bool, limit int) (pairs []store.KeyValue, err error) {
	dir := db.Forward
	if backward {
		dir = db.Backward
	}
	err = s.with(txID, false, func(tx db.Tx) error {
		it := tx.SeekRange(start, dir)
		defer it.Close()
		for (limit <= 0 || len(pairs) < limit) && it.Next() {
			pairs = append(pairs, store.KeyValue{Key: it.Key(), Value: it.Value()})
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

func (s *storeImpl) Commit(txID uint64) error {
	sess, ok := s.sessions.LoadAndDelete(txID)
	if !ok {
		return unknownTx(txID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return store.FromDBError(sess.tx.Commit())
}

func (s *storeImpl) Rollback(txID uint64) error {
	sess, ok := s.sessions.LoadAndDelete(txID)
	if !ok {
		return unknownTx(txID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return store.FromDBError(sess.tx.Rollback())
}

func (s *storeImpl) Compact(full bool) (bool, error) {
	ctx, cancel := s.context()
	defer cancel()
	if full {
		return false, store.FromDBError(s.db.CompactFull(ctx))
	}
	more, err := s.db.Compact(ctx)
	return more, store.FromDBError(err)
}

func (s *storeImpl) Stats() (db.Stats, error) {
	stats, err := s.db.Stats()
	return stats, store.FromDBError(err)
}

func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()

	s.sessions.Range(func(id uint64, sess *session) bool {
		s.sessions.Delete(id)
		sess.mu.Lock()
		_ = sess.tx.Rollback()
		sess.mu.Unlock()
		return true
	})
	return store.FromDBError(s.db.Close())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *storeImpl) context() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *storeImpl) begin(writable bool) (db.Tx, error) {
	ctx, cancel := s.context()
	defer cancel()
	tx, err := s.db.Begin(ctx, writable)
	if writable && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no write slot within %s", db.ErrTransactionConflict, s.timeout)
	}
	return tx, err
}

// with runs fn inside the transaction txID. For store.AutoCommit a transaction is
// opened for fn alone and committed (writes) or released (reads) afterwards.
func (s *storeImpl) with(txID uint64, write bool, fn func(tx db.Tx) error) error {
	if txID == store.AutoCommit {
		if s.closed.Load() {
			return store.NewError(store.RetCClosed, "store is closed")
		}
		tx, err := s.begin(write)
		if err != nil {
			return store.FromDBError(err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return store.FromDBError(err)
		}
		return store.FromDBError(tx.Commit())
	}

	sess, ok := s.sessions.Load(txID)
	if !ok {
		return unknownTx(txID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touch()
	return store.FromDBError(fn(sess.tx))
}

// reap rolls back sessions that were idle for longer than the timeout.
func (s *storeImpl) reap() {
	defer s.wg.Done()

	ticker := time.NewTicker(max(s.timeout/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			deadline := now.Add(-s.timeout).UnixNano()
			s.sessions.Range(func(id uint64, sess *session) bool {
				if sess.lastUsed.Load() > deadline || !sess.mu.TryLock() {
					return true
				}
				if sess.lastUsed.Load() > deadline {
					sess.mu.Unlock()
					return true
				}
				s.sessions.Delete(id)
				_ = sess.tx.Rollback()
				sess.mu.Unlock()
				Logger.Warningf("rolled back transaction %d after %s of inactivity", id, s.timeout)
				return true
			})
		}
	}
}

func unknownTx(txID uint64) error {
	return store.NewError(store.RetCTxNotFound, fmt.Sprintf("unknown transaction %d", txID))
}
