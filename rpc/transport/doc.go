// Package transport defines the contract between the RPC client/server and the
// network layer that carries serialized messages.
//
// Key Components:
//
//   - IRPCClientTransport: Connects to one or more endpoints and sends a request
//     for a shard, returning the raw response.
//
//   - IRPCServerTransport: Accepts connections, hands each request to the registered
//     ServerHandleFunc together with its shard ID and writes back the result.
//
//   - IMetricsExporter: Optional server side extension for transports that can serve
//     Prometheus metrics.
//
// Implementations live in the sub packages: tcp and unix (framed streams on top of
// base) and http (one POST per request).
package transport
