package serializer

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using the variable-length encoding of
// the codec package. It produces the smallest messages of all serializers.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{
		writers: sync.Pool{New: func() any { return codec.NewBufferWriter() }},
	}
}

// binarySerializerImpl implements IRPCSerializer with the codec Writer and Reader.
//
// Layout: MsgType u8 | VUInt flags | present fields in flag order. Byte slices are
// written as codec byte arrays, so nil and empty slices stay distinguishable.
type binarySerializerImpl struct {
	writers sync.Pool
}

// Bit flags to indicate which optional fields are present
const (
	hasTxID     uint64 = 1 << 0
	hasKey      uint64 = 1 << 1
	hasValue    uint64 = 1 << 2
	hasWritable uint64 = 1 << 3
	hasBackward uint64 = 1 << 4
	hasLimit    uint64 = 1 << 5
	hasOk       uint64 = 1 << 6
	hasErr      uint64 = 1 << 7
	hasCode     uint64 = 1 << 8
	hasPairs    uint64 = 1 << 9
	hasMeta     uint64 = 1 << 10
	hasFull     uint64 = 1 << 11
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := b.writers.Get().(*codec.Writer)
	defer func() {
		w.Reset()
		b.writers.Put(w)
	}()

	var flags uint64
	setIf := func(cond bool, flag uint64) {
		if cond {
			flags |= flag
		}
	}
	setIf(msg.TxID != 0, hasTxID)
	setIf(msg.Key != nil, hasKey)
	setIf(msg.Value != nil, hasValue)
	setIf(msg.Writable, hasWritable)
	setIf(msg.Backward, hasBackward)
	setIf(msg.Limit != 0, hasLimit)
	setIf(msg.Ok, hasOk)
	setIf(msg.Err != "", hasErr)
	setIf(msg.Code != 0, hasCode)
	setIf(msg.Pairs != nil, hasPairs)
	setIf(msg.Meta != nil, hasMeta)
	setIf(msg.Full, hasFull)

	if err := w.WriteUInt8(uint8(msg.MsgType)); err != nil {
		return nil, err
	}
	if err := w.WriteVUInt64(flags); err != nil {
		return nil, err
	}
	if flags&hasTxID != 0 {
		if err := w.WriteVUInt64(msg.TxID); err != nil {
			return nil, err
		}
	}
	if flags&hasKey != 0 {
		if err := w.WriteByteArray(msg.Key); err != nil {
			return nil, err
		}
	}
	if flags&hasValue != 0 {
		if err := w.WriteByteArray(msg.Value); err != nil {
			return nil, err
		}
	}
	if flags&hasLimit != 0 {
		if err := w.WriteVUInt64(msg.Limit); err != nil {
			return nil, err
		}
	}
	if flags&hasErr != 0 {
		if err := w.WriteString(msg.Err); err != nil {
			return nil, err
		}
	}
	if flags&hasCode != 0 {
		if err := w.WriteVUInt64(msg.Code); err != nil {
			return nil, err
		}
	}
	if flags&hasPairs != 0 {
		if err := w.WriteVUInt64(uint64(len(msg.Pairs))); err != nil {
			return nil, err
		}
		for _, kv := range msg.Pairs {
			if err := w.WriteByteArray(kv.Key); err != nil {
				return nil, err
			}
			if err := w.WriteByteArray(kv.Value); err != nil {
				return nil, err
			}
		}
	}
	if flags&hasMeta != 0 {
		if err := w.WriteByteArray(msg.Meta); err != nil {
			return nil, err
		}
	}

	// the pooled buffer is reused, hand out a copy
	return append([]byte(nil), w.Bytes()...), nil
}

func (b *binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	r := codec.NewBytesReader(data)
	*msg = common.Message{}

	msgType, err := r.ReadUInt8()
	if err != nil {
		return fmt.Errorf("message type: %w", err)
	}
	msg.MsgType = common.MessageType(msgType)

	flags, err := r.ReadVUInt64()
	if err != nil {
		return fmt.Errorf("message flags: %w", err)
	}

	msg.Writable = flags&hasWritable != 0
	msg.Backward = flags&hasBackward != 0
	msg.Ok = flags&hasOk != 0
	msg.Full = flags&hasFull != 0

	if flags&hasTxID != 0 {
		if msg.TxID, err = r.ReadVUInt64(); err != nil {
			return fmt.Errorf("tx id: %w", err)
		}
	}
	if flags&hasKey != 0 {
		if msg.Key, err = r.ReadByteArray(); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}
	if flags&hasValue != 0 {
		if msg.Value, err = r.ReadByteArray(); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	}
	if flags&hasLimit != 0 {
		if msg.Limit, err = r.ReadVUInt64(); err != nil {
			return fmt.Errorf("limit: %w", err)
		}
	}
	if flags&hasErr != 0 {
		if msg.Err, err = r.ReadString(); err != nil {
			return fmt.Errorf("error message: %w", err)
		}
	}
	if flags&hasCode != 0 {
		if msg.Code, err = r.ReadVUInt64(); err != nil {
			return fmt.Errorf("error code: %w", err)
		}
	}
	if flags&hasPairs != 0 {
		n, err := r.ReadVUInt32()
		if err != nil {
			return fmt.Errorf("pair count: %w", err)
		}
		// every pair takes at least two bytes
		if int(n) > len(data)/2 {
			return fmt.Errorf("pair count: %w: %d pairs in %d bytes", codec.ErrInvalidEncoding, n, len(data))
		}
		msg.Pairs = make([]common.KeyValue, n)
		for i := range msg.Pairs {
			if msg.Pairs[i].Key, err = r.ReadByteArray(); err != nil {
				return fmt.Errorf("pair %d key: %w", i, err)
			}
			if msg.Pairs[i].Value, err = r.ReadByteArray(); err != nil {
				return fmt.Errorf("pair %d value: %w", i, err)
			}
		}
	}
	if flags&hasMeta != 0 {
		if msg.Meta, err = r.ReadByteArray(); err != nil {
			return fmt.Errorf("meta: %w", err)
		}
	}

	if eof, err := r.Eof(); err != nil || !eof {
		return fmt.Errorf("%w: %d trailing bytes", codec.ErrInvalidEncoding, int64(len(data))-r.Consumed())
	}
	return nil
}
