// Package db defines the public interface of the embedded transactional key-value store.
// It contains the KVDB, Tx and Iterator interfaces, the error taxonomy shared by all
// layers, the Stats report and the export/import stream format.
//
// Key Components:
//
//   - KVDB Interface: Opens transactions (Begin), runs incremental compaction passes
//     (Compact), reports storage state (Stats) and releases resources (Close).
//
//   - Tx Interface: A transaction bound to the snapshot that was published when it began.
//     Read transactions never block and never observe later commits. At most one write
//     transaction exists at a time; its changes become visible atomically on Commit.
//
//   - Iterator Interface: Ordered traversal of one snapshot, Forward from the first key
//     >= start or Backward from the last key <= start. A nil start selects the first or
//     last key respectively.
//
//   - Errors: Sentinel errors (ErrTransactionConflict, ErrTxClosed, ErrReadOnly,
//     ErrCorruptSegment, ErrIOFailure, ErrClosed, ErrKeyTooLarge, ErrInvalidExport) are
//     wrapped with context by the engines and matched with errors.Is.
//
//   - Stats: Segment, tree and activity figures of a store. Stats.String renders the
//     report printed by the stat command.
//
//   - Export/Import: Export streams the key space of a transaction as a self-describing
//     binary file (magic, version, length-prefixed entries, terminator) written with the
//     codec package. Import replays such a stream into a write transaction.
//
// Usage:
//
//	tx, err := store.Begin(ctx, true)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback()
//	if err := tx.Set([]byte("a"), []byte("1")); err != nil {
//		return err
//	}
//	return tx.Commit()
//
// Related Packages:
//
// The engines/oak package (github.com/ValentinKolb/sKV/lib/db/engines/oak) implements KVDB
// with a copy-on-write B+tree persisted in append-only segment files, crash recovery and an
// incremental compactor.
//
// The segment package (github.com/ValentinKolb/sKV/lib/db/segment) provides the numbered
// segment file collections (on disk and in memory) the engine stores its records in.
//
// The util package (github.com/ValentinKolb/sKV/lib/db/util) provides complementary tools:
//   - SizeHistogram: Utilities for analyzing data size distributions
//   - MapHeap: A priority queue used to order compaction candidates
//   - LockFreeMPSC: A lock-free multi-producer single-consumer queue for commit events
//
// The testing package (github.com/ValentinKolb/sKV/lib/db/testing) provides
// standardized tests and benchmarks for implementations of the KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
