// Package rpc makes the transactional store available to other processes.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, client and server configuration and logging.
//
//   - transport: Network communication with pluggable implementations (TCP, Unix
//     sockets, HTTP).
//
//   - serializer: Message encodings (Binary, CBOR, JSON, GOB).
//
//   - client: store.IStore implementation that forwards every call to a server.
//
//   - server: Serves one store per shard through a transport.
package rpc
