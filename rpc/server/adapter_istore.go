package server

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// IRPCServerAdapter translates a request Message into calls on a store and builds the
// response. Errors are reported inside the response, never returned.
type IRPCServerAdapter interface {
	Handle(req *common.Message, store store.IStore) (resp *common.Message)
}

// NewIStoreServerAdapter returns the adapter serving store.IStore requests
func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTTxBegin:
		txID, err := s.Begin(req.Writable)
		return common.NewBeginResponse(txID, err)
	case common.MsgTTxCommit:
		return common.NewCommitResponse(s.Commit(req.TxID))
	case common.MsgTTxRollback:
		return common.NewRollbackResponse(s.Rollback(req.TxID))
	case common.MsgTKVGet:
		val, ok, err := s.Get(req.TxID, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVSet:
		return common.NewSetResponse(s.Set(req.TxID, req.Key, req.Value))
	case common.MsgTKVDelete:
		existed, err := s.Delete(req.TxID, req.Key)
		return common.NewDeleteResponse(existed, err)
	case common.MsgTKVScan:
		pairs, err := s.Scan(req.TxID, req.Key, req.Backward, clampLimit(req.Limit))
		return common.NewScanResponse(toMessagePairs(pairs), err)
	case common.MsgTDBCompact:
		moreWork, err := s.Compact(req.Full)
		return common.NewCompactResponse(moreWork, err)
	case common.MsgTDBStats:
		stats, err := s.Stats()
		if err != nil {
			return common.NewStatsResponse(nil, err)
		}
		data, err := json.Marshal(stats)
		return common.NewStatsResponse(data, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// clampLimit converts the wire limit (0 = unlimited) to the store's int limit
func clampLimit(limit uint64) int {
	if limit > math.MaxInt32 {
		return 0
	}
	return int(limit)
}

// toMessagePairs converts scan results to their wire form. An empty result stays
// a non-nil slice, so the binary serializer can tell it from a missing field.
func toMessagePairs(pairs []store.KeyValue) []common.KeyValue {
	out := make([]common.KeyValue, len(pairs))
	for i, kv := range pairs {
		out[i] = common.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return out
}
