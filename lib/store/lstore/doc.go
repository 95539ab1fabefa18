// Package lstore implements store.IStore on top of a local db.KVDB. Open transactions
// are kept in a session table keyed by their handle, so that remote callers can run
// multi-request transactions.
//
// Implementation Details:
//
//   - Sessions: Begin opens a db.Tx and stores it under a fresh id in an xsync.MapOf.
//     Every operation locks its session, so a transaction is never used by two
//     goroutines at once. Commit and Rollback remove the session before finishing it.
//
//   - Idle Timeout: A reaper goroutine rolls back sessions that were not used for the
//     configured timeout. This releases the writer slot and the snapshot pins of clients
//     that disappeared without finishing their transactions.
//
//   - AutoCommit: Operations on handle 0 run in a transaction of their own.
//
//   - Errors: All db errors are converted with store.FromDBError.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Concurrent calls on the same handle
//	are serialized.
//
// Usage Example:
//
//	kv, _ := oak.OpenDir("data", oak.DefaultOptions())
//	s := lstore.NewLocalStore(kv, 30*time.Second)
//	defer s.Close()
//
//	tx, _ := s.Begin(true)
//	_ = s.Set(tx, []byte("a"), []byte("1"))
//	_ = s.Commit(tx)
//
//	value, found, _ := s.Get(store.AutoCommit, []byte("a"))
package lstore
