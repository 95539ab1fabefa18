package server

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/lstore"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server.
// It contains the store it encapsulates, the database below it (for metrics)
// and the adapter that handles requests for the store.
type serverShard struct {
	Store   store.IStore
	DB      db.KVDB
	Adapter IRPCServerAdapter
}

// promWriter is implemented by engines that export Prometheus metrics (oak)
type promWriter interface {
	WritePrometheus(w io.Writer)
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(4),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer serves the stores of its shards over one transport.
//
// Thread-safety: Serve must be called once. Close may be called from any goroutine.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

// Serve opens the stores of all configured shards and serves requests until Close is
// called. Stores that were opened before an error are closed again.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		s.closeShards()
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport (running requests finish first) and closes all stores.
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	if cerr := s.closeShards(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	Logger.Infof("RPC server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	sessionTimeout := time.Duration(s.config.Store.SessionTimeoutSecond) * time.Second

	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}

		opts, err := StoreOptions(strconv.FormatUint(shardConfig.ShardID, 10), s.config.Store)
		if err != nil {
			return err
		}
		kv, err := oak.OpenDir(shardConfig.Dir, opts)
		if err != nil {
			return fmt.Errorf("failed to open store for shard %d in %s: %w", shardConfig.ShardID, shardConfig.Dir, err)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{
			Store:   lstore.NewLocalStore(kv, sessionTimeout),
			DB:      kv,
			Adapter: NewIStoreServerAdapter(),
		})
		Logger.Infof("opened store for shard %d in %s", shardConfig.ShardID, shardConfig.Dir)
	}

	if exporter, ok := s.transport.(transport.IMetricsExporter); ok {
		exporter.RegisterMetrics(s.writeMetrics)
	}

	s.registerTransportHandler()
	Logger.Infof("sKV setup completed successfully")
	return nil
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		if shard, ok := s.shards.Load(shardId); !ok {
			respMsg = *common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = *common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg = *shard.Adapter.Handle(&msg, shard.Store)
		}

		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// writeMetrics writes the process metrics followed by the metrics of every store
func (s *RPCServer) writeMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
	s.shards.Range(func(_ uint64, shard serverShard) bool {
		if pw, ok := shard.DB.(promWriter); ok {
			pw.WritePrometheus(w)
		}
		return true
	})
}

// closeShards closes and forgets all stores
func (s *RPCServer) closeShards() error {
	var errs []error
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
		s.shards.Delete(id)
		return true
	})
	return errors.Join(errs...)
}

// StoreOptions builds the engine options for one store from the server's store settings.
func StoreOptions(name string, c common.StoreConfig) (*oak.Options, error) {
	opts := oak.DefaultOptions()
	opts.Name = name

	compression, err := oak.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts.Compression = compression

	policy, err := oak.ParseWriterPolicy(c.WriterPolicy)
	if err != nil {
		return nil, err
	}
	opts.WriterPolicy = policy

	if c.MaxSegmentSize > 0 {
		opts.MaxSegmentSize = c.MaxSegmentSize
	}
	if c.CompactionThreshold > 0 {
		if c.CompactionThreshold > 1 {
			return nil, fmt.Errorf("compaction threshold must be in (0, 1], got %v", c.CompactionThreshold)
		}
		opts.CompactionThreshold = c.CompactionThreshold
	}
	opts.AutoCompactInterval = c.AutoCompactInterval
	opts.SyncOnCommit = c.SyncOnCommit
	return opts, nil
}
