// Package server implements the RPC server. It opens one store per configured shard
// and answers requests arriving through a transport with the help of an adapter.
//
// Key Components:
//
//   - RPCServer: Opens every shard's directory with the oak engine (settings from
//     ServerConfig.Store), wraps it in a session store (lstore) and routes requests
//     by shard ID. Close stops the transport and then closes the stores, rolling back
//     transactions that are still open.
//
//   - IRPCServerAdapter: Translates a request Message into a store.IStore call and the
//     result back into a response Message. NewIStoreServerAdapter covers transaction
//     lifecycle, key-value operations, compaction and stats.
//
//   - StoreOptions: Maps common.StoreConfig to oak.Options. The CLI uses it as well
//     for the offline db commands.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Dir: "/var/lib/skv/1"},
//	    {ShardID: 2, Dir: "/var/lib/skv/2"},
//	  },
//	  Store:         common.StoreConfig{Compression: "snappy", SyncOnCommit: true, SessionTimeoutSecond: 60},
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080", WorkersPerConn: 4},
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(4), serializer.NewBinarySerializer())
//	go func() {
//	  <-ctx.Done()
//	  _ = s.Close()
//	}()
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// When the transport implements transport.IMetricsExporter (http), the server
// registers the process metrics and the metrics of all stores with it.
//
// Thread Safety:
//
//	Requests are handled concurrently. Every store serializes writers on its own,
//	a transaction handle is bound to the shard that created it.
package server
