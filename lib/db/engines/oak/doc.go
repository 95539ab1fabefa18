// Package oak implements the db.KVDB interface as a persistent, copy-on-write B+tree
// whose nodes are appended to the numbered files of a segment.ICollection. It provides
// snapshot transactions with a single writer, crash recovery from the last intact
// commit and a compactor that reclaims space without blocking readers.
//
// The package focuses on:
//   - Ordered key-value access with forward and backward range scans
//   - Snapshot isolation: every transaction reads the tree root that was published when
//     it began, regardless of later commits
//   - Durable storage in append-only segments with checksummed records
//   - Incremental compaction that can be cancelled between segments
//   - Metrics and statistics for monitoring fragmentation and write activity
//
// Key Components:
//
//   - oakDB: The store. It owns the segment collection, the node cache, the writer slot
//     and the currently published snapshot. All published state changes (commits,
//     compaction steps) go through the same commit path.
//
//   - Snapshot: An immutable pair of tree root and commit number. Publishing a commit
//     replaces the pointer to the current snapshot under a short critical section;
//     snapshots themselves are never mutated.
//
//   - Transaction: Pins a snapshot for its lifetime. A write transaction additionally
//     holds the writer slot. Its modifications copy the path from the root to the
//     changed leaf; the copies are owned by the transaction and modified in place until
//     commit, everything else is shared with the base snapshot.
//
//   - Compactor: Rewrites the live nodes of fragmented segments and retires them. A
//     retired segment is deleted when no open transaction reads a snapshot older than
//     the commit that stopped referencing it.
//
// Storage Format:
//
//   - Every segment starts with a header record (magic, format version, segment id,
//     store id) and, once sealed, ends with a trailer record (valid length, record count).
//   - A commit appends the new nodes in post-order (children first) followed by a commit
//     record holding the commit number, the root reference and the commit time. The
//     commit is durable after the segment is synced (Options.SyncOnCommit).
//   - A node reference stores segment id, offset, record size and the number of keys
//     below it, so key counts and live byte accounting never read leaves.
//
// Recovery:
//
//   - On Open all segments are scanned in id order. A record with a bad checksum or a
//     torn tail ends the scan of that segment and the rest of it is cut off.
//   - The newest commit record whose tree only references intact records becomes the
//     current snapshot. Older commit records are the fallback when newer ones are damaged.
//
// Compaction:
//
//   - Live bytes per segment are computed by walking the internal nodes of the current
//     tree (leaf sizes are taken from the references).
//   - Segments whose live ratio is below Options.CompactionThreshold (and that hold at
//     least Options.CompactionMinGarbage unreachable bytes) or that hold no live data at
//     all are processed in order of increasing live ratio, at most
//     Options.CompactionBatch per call.
//   - For each segment the writer slot is taken, every node stored in it and all its
//     ancestors are copied into new nodes and committed. The segment is then retired.
//   - CompactFull skips the selection and rewrites every segment that holds data when
//     it starts.
//
// Thread-safety: oakDB is safe for concurrent use. Transactions and iterators are not
// and must be used by a single goroutine.
package oak
