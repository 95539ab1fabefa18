// Package base implements framed request/response transport over stream connections.
// The tcp and unix packages plug their connectors into it.
//
// Frames:
//
//	VUInt shardID | VUInt requestID | VUInt length | payload
//
// The integers use the VUInt encoding of the codec package, so small shard and
// request IDs cost one byte each. Payloads above MaxFrameSize are rejected on both
// sides.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Dial, listen and tune sockets for one
//     network type.
//
//   - clientTransport: Keeps ConnectionsPerEndpoint connections per endpoint and
//     picks one round robin per request. Responses are matched to requests by ID, so
//     several requests can be in flight on one connection. Failed attempts are retried
//     with exponential backoff. A broken connection fails its pending requests and is
//     re-established by its reader goroutine.
//
//   - serverTransport: Accepts connections and processes up to WorkersPerConn requests
//     of a connection concurrently. Request payloads are read into pooled buffers.
//     Connections idle for longer than the server timeout are closed. Close stops the
//     listener, lets running requests finish and then returns.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a connection are serialized by a
//	mutex; each connection has exactly one reading goroutine.
package base
