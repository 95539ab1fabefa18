// Package common provides core data structures and utilities shared by the RPC client,
// server and transports.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. The same structure is used
//     for requests and responses; which fields are set depends on the MessageType.
//     Transaction operations carry a TxID (0 = auto commit), scans return Pairs and
//     the stats response carries the json encoded db.Stats in Meta. Errors travel as
//     message plus store.RetCode, so clients can rebuild a *store.Error.
//
//   - MessageType: Enumeration of all operations: transaction lifecycle (begin, commit,
//     rollback), key-value operations (get, set, delete, scan) and maintenance
//     (compact, stats).
//
//   - ServerConfig: Shards (ID and store directory), engine settings applied to every
//     shard, transport settings and log level.
//
//   - ClientConfig: Endpoints, timeouts, retries and socket options of a client.
//
//   - Logger: Custom formatter for dragonboat's logger package. InitLoggers installs it
//     and sets the level of all loggers of this module.
package common
