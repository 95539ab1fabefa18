// Package cmd implements the command-line interface of the sKV key-value store. It
// provides a hierarchical command structure for running the server, talking to it
// as a client and maintaining store directories offline.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the server for one or more shards
//   - kv: Client commands (begin, get, set, del, scan, commit, rollback, stat, compact, perf)
//   - admin: Offline commands working on a store directory (dump, stat, compact, export, import)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See skv -help for a list of all commands.
package cmd
