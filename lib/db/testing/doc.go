// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: A conformance suite covering point operations, ordered range scans in
//     both directions, snapshot isolation, the single writer rule, rollback, compaction
//     safety with held snapshots, export/import and edge cases
//   - benchmark: Performance tests for commits, point reads, scans and compaction
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
//
// Every factory call must return a new, empty store.
package testing
