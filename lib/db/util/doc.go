// Package util provides small building blocks shared by the storage engines.
//
// The package contains:
//   - statistics: summary statistics over float samples and a bucketed SizeHistogram
//     used to report node and segment size distributions
//   - mapheap: a keyed min-heap; the compactor orders segments by live ratio with it
//   - lockfreempsc: a lock-free multi-producer single-consumer queue carrying commit
//     events to the background compaction loop
package util
