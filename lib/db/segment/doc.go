// Package segment manages the numbered append-only files an engine persists its data in.
//
// A collection hands out files by a strictly increasing 32-bit id. Files are only
// ever appended to (or truncated back after a failed or torn write), read at arbitrary
// offsets and deleted as a whole. Two implementations exist:
//
//   - NewOnDiskCollection: one file per segment in a directory, named "%08d.seg"
//   - NewInMemoryCollection: byte slices, used by tests and for crash simulations
//
// The collection does not know which segments are still referenced. Engines must not
// delete a segment that any live snapshot may read.
//
// Thread-safety: collections and files are safe for concurrent use. Appends to the
// same file are serialized; reads run concurrently with appends to other regions.
package segment
