package base

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	// ErrNoConnection is returned by Send when the transport has no connections.
	ErrNoConnection = errors.New("no active connections available")
	// ErrTransportClosed is returned by Send after Close.
	ErrTransportClosed = errors.New("transport is closed")
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the transport-specific part of a client: dialing and
// socket options.
type IClientConnector interface {
	// Connect dials a single connection to endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// liveConn is one dialed connection together with the requests waiting on it. It is
// never reused after it broke.
type liveConn struct {
	net.Conn
	writeMu sync.Mutex
	pending *xsync.MapOf[uint64, chan responseResult]
}

// clientConnection is one slot of the pool. It redials lazily when its liveConn broke.
type clientConnection struct {
	endpoint string
	parent   *clientTransport

	mu   sync.Mutex // guards live and dialing
	live *liveConn
}

// clientTransport multiplexes requests over a pool of framed connections
// (see writeFrame). Responses are matched to requests by request ID, so many
// requests can be in flight on one connection.
//
// Thread-safety: Send may be called concurrently. Connect and Close must not race
// with each other.
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig

	poolMu sync.RWMutex
	pool   []*clientConnection

	nextConn      atomic.Uint64 // round robin counter
	nextRequestID atomic.Uint64
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	t.closePool()

	t.config = config
	t.stopping.Store(false)

	perEndpoint := max(config.Transport.ConnectionsPerEndpoint, 1)
	pool := make([]*clientConnection, 0, len(config.Transport.Endpoints)*perEndpoint)
	connected := 0
	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := &clientConnection{endpoint: endpoint, parent: t}
			pool = append(pool, c)
			if _, err := c.ensure(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, perEndpoint, err)
				continue
			}
			connected++
		}
	}
	if connected == 0 {
		for _, c := range pool {
			c.close()
		}
		return fmt.Errorf("failed to connect to any endpoint")
	}

	t.poolMu.Lock()
	t.pool = pool
	t.poolMu.Unlock()

	Logger.Infof("Connected %d of %d connections to %d endpoints using %s transport",
		connected, len(pool), len(config.Transport.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if t.stopping.Load() {
		return nil, ErrTransportClosed
	}

	attempts := max(t.config.Transport.RetryCount, 1)
	backoff := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		c := t.pick()
		if c == nil {
			return nil, ErrNoConnection
		}

		// every attempt gets its own request ID, a late response of an earlier
		// attempt is dropped
		data, err := c.send(shardId, t.nextRequestID.Add(1), req)
		if err == nil {
			return data, nil
		}
		if t.stopping.Load() {
			return nil, ErrTransportClosed
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)

		if i < attempts-1 {
			// jitter of +-10%
			time.Sleep(time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64())))
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closePool()
	return nil
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// pick selects the next connection round robin
func (t *clientTransport) pick() *clientConnection {
	t.poolMu.RLock()
	defer t.poolMu.RUnlock()

	switch len(t.pool) {
	case 0:
		return nil
	case 1:
		return t.pool[0]
	}
	return t.pool[t.nextConn.Add(1)%uint64(len(t.pool))]
}

func (t *clientTransport) closePool() {
	t.poolMu.Lock()
	pool := t.pool
	t.pool = nil
	t.poolMu.Unlock()

	for _, c := range pool {
		c.close()
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// ensure returns the live connection, dialing a new one if the last one broke.
func (c *clientConnection) ensure() (*liveConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		return c.live, nil
	}
	if c.parent.stopping.Load() {
		return nil, ErrTransportClosed
	}

	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}

	c.live = &liveConn{Conn: conn, pending: xsync.NewMapOf[uint64, chan responseResult]()}
	go c.readResponses(c.live)
	return c.live, nil
}

// send writes one request frame and waits for the matching response or the timeout
func (c *clientConnection) send(shardID, requestID uint64, req []byte) ([]byte, error) {
	l, err := c.ensure()
	if err != nil {
		return nil, err
	}

	respCh := make(chan responseResult, 1)
	l.pending.Store(requestID, respCh)
	defer l.pending.Delete(requestID)

	timeout := time.Duration(c.parent.config.TimeoutSecond) * time.Second

	l.writeMu.Lock()
	if timeout > 0 {
		_ = l.SetWriteDeadline(time.Now().Add(timeout))
	}
	err = writeFrame(l.Conn, shardID, requestID, req)
	l.writeMu.Unlock()
	if err != nil {
		c.drop(l, err)
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request %d to %s timed out after %s", requestID, c.endpoint, timeout)
	}
}

// readResponses reads response frames of l until it breaks and hands every
// response to the request waiting for it.
func (c *clientConnection) readResponses(l *liveConn) {
	r := codec.NewStreamReader(l, codec.DefaultBufferSize)
	for {
		shardID, requestID, data, err := readFrame(r, nil)
		if err != nil {
			c.drop(l, err)
			return
		}

		respCh, found := l.pending.Load(requestID)
		if !found {
			Logger.Debugf("Dropping response for unknown request ID %d (shard %d)", requestID, shardID)
			continue
		}
		select {
		case respCh <- responseResult{data: data}:
		default:
		}
	}
}

// drop closes l and fails all requests waiting on it. The next send redials.
func (c *clientConnection) drop(l *liveConn, cause error) {
	c.mu.Lock()
	if c.live == l {
		c.live = nil
	}
	c.mu.Unlock()
	_ = l.Close()

	if !c.parent.stopping.Load() {
		Logger.Debugf("Connection to %s lost: %v", c.endpoint, cause)
	}
	l.pending.Range(func(_ uint64, ch chan responseResult) bool {
		select {
		case ch <- responseResult{err: fmt.Errorf("connection to %s lost: %w", c.endpoint, cause)}:
		default:
		}
		return true
	})
}

func (c *clientConnection) close() {
	c.mu.Lock()
	l := c.live
	c.live = nil
	c.mu.Unlock()
	if l != nil {
		// the reader goroutine fails the pending requests
		_ = l.Close()
	}
}
