package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport accepts connections through its connector and serves framed
// requests on them (see serverConn).
//
// Thread-safety: Close may be called concurrently with Listen.
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	listener          net.Listener
	listenerMu        sync.Mutex
	bufferPool        *sync.Pool
	bufferSize        int
	maxWorkersPerConn int

	conns   *xsync.MapOf[net.Conn, struct{}]
	connWg  sync.WaitGroup
	closing atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool.
// bufferSize is the size of the pooled request buffers, larger requests allocate.
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	// minimum one worker per connection
	maxWorkersPerConn = max(maxWorkersPerConn, 1)
	if bufferSize <= 0 {
		bufferSize = codec.DefaultBufferSize
	}

	return &serverTransport{
		connector:         connector,
		bufferSize:        bufferSize,
		maxWorkersPerConn: maxWorkersPerConn,
		bufferPool: &sync.Pool{
			New: func() any { return make([]byte, bufferSize) },
		},
		conns: xsync.NewMapOf[net.Conn, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listenerMu.Lock()
	t.listener = listener
	t.listenerMu.Unlock()
	if t.closing.Load() {
		_ = listener.Close()
		return nil
	}

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Transport.Endpoint, t.maxWorkersPerConn)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.conns.Store(conn, struct{}{})
		t.connWg.Add(1)
		go func() {
			defer t.connWg.Done()
			defer t.conns.Delete(conn)
			t.handleConnection(conn)
		}()
	}
}

func (t *serverTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	t.listenerMu.Lock()
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.listenerMu.Unlock()

	// unblock connections waiting for the next request, running requests still finish
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		if tcp, ok := conn.(interface{ CloseRead() error }); ok {
			_ = tcp.CloseRead()
		} else {
			_ = conn.SetReadDeadline(time.Now())
		}
		return true
	})
	t.connWg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

// serverConn serves the requests of one accepted connection. Frames are read
// sequentially, each request is handled by a worker goroutine and at most
// maxWorkersPerConn requests run at once. Responses may leave in a different order
// than the requests arrived; the client matches them by request ID.
type serverConn struct {
	t       *serverTransport
	conn    net.Conn
	reader  *codec.Reader
	timeout time.Duration

	workers chan struct{} // counting semaphore
	running sync.WaitGroup
	writeMu sync.Mutex
}

// handleConnection serves conn until the client disconnects, the connection stays
// idle longer than the timeout or the transport closes. Running requests finish
// before the connection is closed.
func (t *serverTransport) handleConnection(conn net.Conn) {
	sc := &serverConn{
		t:       t,
		conn:    conn,
		reader:  codec.NewStreamReader(conn, t.bufferSize),
		timeout: time.Duration(t.config.TimeoutSecond) * time.Second,
		workers: make(chan struct{}, t.maxWorkersPerConn),
	}
	defer conn.Close()

	err := sc.serve()
	sc.running.Wait()

	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, io.EOF), t.closing.Load():
		Logger.Debugf("Connection from %s closed", conn.RemoteAddr())
	case errors.As(err, &netErr) && netErr.Timeout():
		Logger.Debugf("Closing idle connection from %s", conn.RemoteAddr())
	default:
		Logger.Errorf("Error reading request from %s: %v", conn.RemoteAddr(), err)
	}
}

// serve reads request frames and dispatches them until reading fails
func (sc *serverConn) serve() error {
	for {
		if sc.timeout > 0 && !sc.t.closing.Load() {
			if err := sc.conn.SetReadDeadline(time.Now().Add(sc.timeout)); err != nil {
				return fmt.Errorf("failed to set read deadline: %w", err)
			}
		}

		buf := sc.t.bufferPool.Get().([]byte)
		shardID, requestID, data, err := readFrame(sc.reader, buf)
		if err != nil {
			sc.t.bufferPool.Put(buf)
			return err
		}

		// blocks while all workers of this connection are busy
		sc.workers <- struct{}{}
		sc.running.Add(1)
		go func() {
			defer func() {
				sc.t.bufferPool.Put(buf)
				<-sc.workers
				sc.running.Done()
			}()
			sc.respond(shardID, requestID, data)
		}()
	}
}

// respond runs the handler and writes its response with the request's IDs
func (sc *serverConn) respond(shardID, requestID uint64, data []byte) {
	start := time.Now()
	resp := sc.t.handler(shardID, data)
	Logger.Debugf("Request %d for shard %d took %s", requestID, shardID, time.Since(start))

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if sc.timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.timeout)); err != nil {
			Logger.Errorf("Failed to set write deadline: %v", err)
			return
		}
	}
	if err := writeFrame(sc.conn, shardID, requestID, resp); err != nil {
		Logger.Errorf("Failed to write response %d to %s: %v", requestID, sc.conn.RemoteAddr(), err)
	}
}
