package transport

import (
	"io"

	"github.com/ValentinKolb/sKV/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns a response
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The transport layer is responsible for routing the request to the appropriate shard
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves requests until Close is called.
	// It returns nil after Close and an error if the listener could not be created.
	Listen(config common.ServerConfig) error
	// Close stops accepting connections and waits for running requests to finish
	Close() error
}

// MetricsFunc writes metrics in the Prometheus text format.
type MetricsFunc func(w io.Writer)

// IMetricsExporter is implemented by server transports that can expose metrics
// (the http transport serves them on GET /metrics).
type IMetricsExporter interface {
	RegisterMetrics(fn MetricsFunc)
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
