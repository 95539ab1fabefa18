package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// KeyValue is one entry of a scan response.
type KeyValue struct {
	Key   []byte `json:"key" cbor:"1,keyasint"`
	Value []byte `json:"value" cbor:"2,keyasint"`
}

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type" cbor:"1,keyasint"`

	// General fields
	TxID     uint64 `json:"tx_id,omitempty" cbor:"2,keyasint,omitempty"`    // Used for: all transaction operations (0 = auto commit), Begin (response)
	Key      []byte `json:"key,omitempty" cbor:"3,keyasint,omitempty"`      // Used for: Get, Set, Delete, Scan (start key)
	Value    []byte `json:"value,omitempty" cbor:"4,keyasint,omitempty"`    // Used for: Set (request), Get (response)
	Writable bool   `json:"writable,omitempty" cbor:"5,keyasint,omitempty"` // Used for: Begin
	Backward bool   `json:"backward,omitempty" cbor:"6,keyasint,omitempty"` // Used for: Scan
	Limit    uint64 `json:"limit,omitempty" cbor:"7,keyasint,omitempty"`    // Used for: Scan (0 = no limit)
	Full     bool   `json:"full,omitempty" cbor:"13,keyasint,omitempty"`    // Used for: Compact

	// Response only fields
	Ok    bool       `json:"ok,omitempty" cbor:"8,keyasint,omitempty"`     // Used for: Get, Delete, Compact responses
	Err   string     `json:"err,omitempty" cbor:"9,keyasint,omitempty"`    // Empty if no error, otherwise contains the error message
	Code  uint64     `json:"code,omitempty" cbor:"10,keyasint,omitempty"`  // store.RetCode of Err
	Pairs []KeyValue `json:"pairs,omitempty" cbor:"11,keyasint,omitempty"` // Used for: Scan responses

	// Meta information
	Meta []byte `json:"meta,omitempty" cbor:"12,keyasint,omitempty"` // Used for: Stats responses (json encoded db.Stats)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewBeginRequest creates a new Begin request
func NewBeginRequest(writable bool) *Message {
	return &Message{
		MsgType:  MsgTTxBegin,
		Writable: writable,
	}
}

// NewBeginResponse creates a new Begin response
func NewBeginResponse(txID uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTTxBegin,
		TxID:    txID,
	}
	setErr(msg, err)
	return msg
}

// NewCommitRequest creates a new Commit request
func NewCommitRequest(txID uint64) *Message {
	return &Message{
		MsgType: MsgTTxCommit,
		TxID:    txID,
	}
}

// NewCommitResponse creates a new Commit response
func NewCommitResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTTxCommit,
	}
	setErr(msg, err)
	return msg
}

// NewRollbackRequest creates a new Rollback request
func NewRollbackRequest(txID uint64) *Message {
	return &Message{
		MsgType: MsgTTxRollback,
		TxID:    txID,
	}
}

// NewRollbackResponse creates a new Rollback response
func NewRollbackResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTTxRollback,
	}
	setErr(msg, err)
	return msg
}

// NewGetRequest creates a new Get request
func NewGetRequest(txID uint64, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		TxID:    txID,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}
	setErr(msg, err)
	return msg
}

// NewSetRequest creates a new Set request
func NewSetRequest(txID uint64, key, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		TxID:    txID,
		Key:     key,
		Value:   value,
	}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVSet,
	}
	setErr(msg, err)
	return msg
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(txID uint64, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		TxID:    txID,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(existed bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVDelete,
		Ok:      existed,
	}
	setErr(msg, err)
	return msg
}

// NewScanRequest creates a new Scan request
func NewScanRequest(txID uint64, start []byte, backward bool, limit uint64) *Message {
	return &Message{
		MsgType:  MsgTKVScan,
		TxID:     txID,
		Key:      start,
		Backward: backward,
		Limit:    limit,
	}
}

// NewScanResponse creates a new Scan response
func NewScanResponse(pairs []KeyValue, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVScan,
		Pairs:   pairs,
	}
	setErr(msg, err)
	return msg
}

// NewCompactRequest creates a new Compact request, full requests a full compaction
func NewCompactRequest(full bool) *Message {
	return &Message{
		MsgType: MsgTDBCompact,
		Full:    full,
	}
}

// NewCompactResponse creates a new Compact response
func NewCompactResponse(moreWork bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTDBCompact,
		Ok:      moreWork,
	}
	setErr(msg, err)
	return msg
}

// NewStatsRequest creates a new Stats request
func NewStatsRequest() *Message {
	return &Message{
		MsgType: MsgTDBStats,
	}
}

// NewStatsResponse creates a new Stats response
func NewStatsResponse(stats []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTDBStats,
		Meta:    stats,
	}
	setErr(msg, err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// codedError is implemented by store.Error. Declared here to keep common free of
// a dependency on the store package.
type codedError interface {
	RetCode() uint64
	Message() string
}

// setErr stores err in msg. Coded errors keep their code and bare message so the
// client can rebuild them.
func setErr(msg *Message, err error) {
	if err == nil {
		return
	}
	var coded codedError
	if errors.As(err, &coded) {
		msg.Code = coded.RetCode()
		msg.Err = coded.Message()
		return
	}
	msg.Err = err.Error()
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:    "success",
	MsgTError:      "error",
	MsgTTxBegin:    "begin",
	MsgTTxCommit:   "commit",
	MsgTTxRollback: "rollback",
	MsgTKVGet:      "get",
	MsgTKVSet:      "set",
	MsgTKVDelete:   "delete",
	MsgTKVScan:     "scan",
	MsgTDBCompact:  "compact",
	MsgTDBStats:    "stats",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Transaction lifecycle

	MsgTTxBegin    // Open a transaction
	MsgTTxCommit   // Commit a transaction
	MsgTTxRollback // Roll back a transaction

	// IStore operations

	MsgTKVGet    // Get a value by key
	MsgTKVSet    // Set a key-value pair
	MsgTKVDelete // Delete a key-value pair
	MsgTKVScan   // Ordered range scan

	// Database maintenance

	MsgTDBCompact // Run one compaction pass
	MsgTDBStats   // Read the storage report
)
