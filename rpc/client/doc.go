// Package client implements store.IStore on top of an RPC transport, so a remote shard
// can be used like a local session store.
//
// Key Components:
//
//   - NewRPCStore: Connects the transport and returns a store.IStore bound to one
//     shard. Every method sends one request and waits for its response.
//
// Errors:
//
//	Errors raised by the remote store arrive with their return code and are rebuilt
//	as *store.Error, so errors.Is(err, db.ErrTransactionConflict) works on the client
//	just like on the server. Transport and serialization failures are returned as
//	plain errors.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//	s, err := client.NewRPCStore(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	defer s.Close()
//
//	tx, _ := s.Begin(true)
//	_ = s.Set(tx, []byte("mykey"), []byte("myvalue"))
//	if err := s.Commit(tx); err != nil {
//	  return err
//	}
//	value, found, _ := s.Get(store.AutoCommit, []byte("mykey"))
//
// Notes:
//
//   - Retries of the transport may repeat a request. A retried Commit whose first
//     attempt succeeded reports RetCTxNotFound.
//
//   - Only the binary serializer keeps empty values apart from missing ones on the
//     wire. Get and Scan restore empty values for found keys.
//
// Thread Safety:
//
//	The client is safe for concurrent use. Operations on one transaction handle must
//	not be issued concurrently, the server serializes them anyway.
package client
