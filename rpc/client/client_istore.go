package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
}

func (i *rpcStore) Begin(writable bool) (txID uint64, err error) {
	resp, err := i.invoke(common.NewBeginRequest(writable))
	if err != nil {
		return 0, err
	}
	return resp.TxID, nil
}

func (i *rpcStore) Get(txID uint64, key []byte) (value []byte, found bool, err error) {
	resp, err := i.invoke(common.NewGetRequest(txID, key))
	if err != nil {
		return nil, false, err
	}
	// serializers other than binary decode an empty value as nil
	if resp.Ok && resp.Value == nil {
		resp.Value = []byte{}
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Set(txID uint64, key, value []byte) (err error) {
	_, err = i.invoke(common.NewSetRequest(txID, key, value))
	return err
}

func (i *rpcStore) Delete(txID uint64, key []byte) (existed bool, err error) {
	resp, err := i.invoke(common.NewDeleteRequest(txID, key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Scan(txID uint64, start []byte, backward bool, limit int) (pairs []store.KeyValue, err error) {
	resp, err := i.invoke(common.NewScanRequest(txID, start, backward, uint64(max(limit, 0))))
	if err != nil {
		return nil, err
	}
	if len(resp.Pairs) == 0 {
		return nil, nil
	}
	pairs = make([]store.KeyValue, len(resp.Pairs))
	for n, kv := range resp.Pairs {
		if kv.Value == nil {
			kv.Value = []byte{}
		}
		pairs[n] = store.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return pairs, nil
}

func (i *rpcStore) Commit(txID uint64) (err error) {
	_, err = i.invoke(common.NewCommitRequest(txID))
	return err
}

func (i *rpcStore) Rollback(txID uint64) (err error) {
	_, err = i.invoke(common.NewRollbackRequest(txID))
	return err
}

func (i *rpcStore) Compact(full bool) (moreWork bool, err error) {
	resp, err := i.invoke(common.NewCompactRequest(full))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Stats() (stats db.Stats, err error) {
	resp, err := i.invoke(common.NewStatsRequest())
	if err != nil {
		return db.Stats{}, err
	}
	if err := json.Unmarshal(resp.Meta, &stats); err != nil {
		return db.Stats{}, fmt.Errorf("RPC client - invalid stats: %w", err)
	}
	return stats, nil
}

// Close closes the client's transport. The server side store stays open.
func (i *rpcStore) Close() (err error) {
	return i.transport.Close()
}
