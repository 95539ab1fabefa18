package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes (tcp and unix transports).
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the listening side of a transport.
type ServerTransportConfig struct {
	// Endpoint is the listen address (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits concurrently processed requests per connection
	WorkersPerConn int
	// BufferSize is the size of pooled request buffers
	BufferSize int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the dialing side of a transport.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShard is one store served by the server.
type ServerShard struct {
	// ShardID is the ID clients address the shard with
	ShardID uint64
	// Dir is the directory holding the store's segment files
	Dir string
}

// StoreConfig holds the engine options the server opens its stores with.
type StoreConfig struct {
	Compression          string
	WriterPolicy         string
	MaxSegmentSize       int64
	CompactionThreshold  float64
	AutoCompactInterval  time.Duration
	SyncOnCommit         bool
	SessionTimeoutSecond int64
}

// ServerConfig holds all configuration parameters of the RPC server.
type ServerConfig struct {
	// Shards lists the stores to serve
	Shards []ServerShard

	// Store engine settings (applied to every shard)
	Store StoreConfig

	// Timeout for network operations
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers / Connection", strconv.Itoa(c.Transport.WorkersPerConn))

	// Store settings
	addSection("Store")
	addField("Compression", c.Store.Compression)
	addField("Writer Policy", c.Store.WriterPolicy)
	addField("Max Segment Size", fmt.Sprintf("%d B", c.Store.MaxSegmentSize))
	addField("Compaction Threshold", fmt.Sprintf("%.2f", c.Store.CompactionThreshold))
	addField("Auto Compaction", c.Store.AutoCompactInterval.String())
	addField("Sync On Commit", strconv.FormatBool(c.Store.SyncOnCommit))
	addField("Session Timeout", fmt.Sprintf("%d sec", c.Store.SessionTimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.Dir)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
