// Package store provides a handle based interface to the transactional key-value store.
// It serves as an abstraction layer over db.KVDB that can be exposed over RPC: instead of
// transaction objects the caller holds numeric transaction ids.
//
// Key Components:
//
//   - IStore Interface: Begin returns a transaction id that is passed to Get, Set, Delete
//     and Scan and finally to Commit or Rollback. AutoCommit (id 0) runs a single
//     operation in its own transaction. Compact and Stats reach the underlying database.
//
//   - Error System: A structured error reporting mechanism using typed return codes and
//     descriptive messages. FromDBError maps db errors to codes, and Error.Unwrap maps the
//     codes back, so errors.Is works on both sides of an RPC connection.
//
// Implementations:
//
//	- Local Store (lstore): Keeps open transactions in a session table and rolls back
//	  sessions that stay idle longer than the configured timeout.
//	  Available in the "github.com/ValentinKolb/sKV/lib/store/lstore" package.
//
//	- RPC Store: A client implementation forwarding every call to a remote server.
//	  Available in the "github.com/ValentinKolb/sKV/rpc/client" package.
package store
