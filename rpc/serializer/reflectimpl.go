package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/fxamacker/cbor/v2"
)

// NewJSONSerializer creates a serializer producing human readable JSON (message types
// are written by name).
func NewJSONSerializer() IRPCSerializer {
	return &reflectSerializer{marshal: json.Marshal, unmarshal: json.Unmarshal}
}

// NewGOBSerializer creates a serializer using Go's gob format. Every message is a
// self-contained gob stream including its type description.
func NewGOBSerializer() IRPCSerializer {
	return &reflectSerializer{
		marshal: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		unmarshal: func(b []byte, v any) error {
			return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
		},
	}
}

// NewCBORSerializer creates a serializer using CBOR (RFC 8949) in the core
// deterministic encoding. Fields are keyed by small integers (see the cbor tags of
// common.Message).
func NewCBORSerializer() IRPCSerializer {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &reflectSerializer{marshal: enc.Marshal, unmarshal: dec.Unmarshal}
}

// reflectSerializer adapts a reflection based marshal/unmarshal pair to IRPCSerializer.
type reflectSerializer struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(b []byte, v any) error
}

func (r *reflectSerializer) Serialize(msg common.Message) ([]byte, error) {
	return r.marshal(msg)
}

func (r *reflectSerializer) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return r.unmarshal(b, msg)
}
