package internal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/db"
)

// RecordKind is the first byte of every record.
type RecordKind uint8

const (
	RecHeader   RecordKind = 1
	RecLeaf     RecordKind = 2
	RecInternal RecordKind = 3
	RecCommit   RecordKind = 4
	RecTrailer  RecordKind = 5

	// FlagSnappy marks a node record whose payload is snappy-compressed.
	FlagSnappy RecordKind = 0x80
)

// Base strips the compression flag.
func (k RecordKind) Base() RecordKind { return k &^ FlagSnappy }

// Compressed reports whether the payload is compressed.
func (k RecordKind) Compressed() bool { return k&FlagSnappy != 0 }

func (k RecordKind) String() string {
	var s string
	switch k.Base() {
	case RecHeader:
		s = "header"
	case RecLeaf:
		s = "leaf"
	case RecInternal:
		s = "internal"
	case RecCommit:
		s = "commit"
	case RecTrailer:
		s = "trailer"
	default:
		s = fmt.Sprintf("kind(%d)", uint8(k.Base()))
	}
	if k.Compressed() {
		s += "+snappy"
	}
	return s
}

func (k RecordKind) valid() bool {
	switch k.Base() {
	case RecHeader, RecCommit, RecTrailer:
		return !k.Compressed()
	case RecLeaf, RecInternal:
		return true
	}
	return false
}

const (
	// MaxRecordHeader is the longest kind + length prefix.
	MaxRecordHeader = 1 + codec.MaxVUIntLen
	crcSize         = 4
	maxPayload      = 1 << 31
)

// ErrTruncatedRecord reports a record that extends beyond the available bytes.
var ErrTruncatedRecord = fmt.Errorf("%w: truncated record", db.ErrCorruptSegment)

// AppendRecord frames payload and appends the record to dst.
func AppendRecord(dst []byte, kind RecordKind, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(kind))
	dst = codec.AppendVUInt(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return binary.BigEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:]))
}

// RecordLength returns the total size of the record whose first bytes are in head.
// head must hold at least MaxRecordHeader bytes or the rest of the segment.
func RecordLength(head []byte) (int, error) {
	if len(head) < 2 {
		return 0, ErrTruncatedRecord
	}
	kind := RecordKind(head[0])
	if !kind.valid() {
		return 0, fmt.Errorf("%w: unknown record kind %d", db.ErrCorruptSegment, head[0])
	}
	l, n := codec.UnpackVUInt(head[1:])
	if n == 0 {
		return 0, ErrTruncatedRecord
	}
	if l > maxPayload {
		return 0, fmt.Errorf("%w: record payload of %d bytes", db.ErrCorruptSegment, l)
	}
	return 1 + n + int(l) + crcSize, nil
}

// ParseRecord validates the record at the start of buf and returns its kind, payload
// and total size. The payload aliases buf.
func ParseRecord(buf []byte) (RecordKind, []byte, int, error) {
	total, err := RecordLength(buf[:min(len(buf), MaxRecordHeader)])
	if err != nil {
		return 0, nil, 0, err
	}
	if len(buf) < total {
		return 0, nil, 0, ErrTruncatedRecord
	}
	body := buf[:total-crcSize]
	want := binary.BigEndian.Uint32(buf[total-crcSize : total])
	if got := crc32.ChecksumIEEE(body); got != want {
		return 0, nil, 0, fmt.Errorf("%w: checksum mismatch (%08x != %08x)", db.ErrCorruptSegment, got, want)
	}
	_, n := codec.UnpackVUInt(buf[1:])
	return RecordKind(buf[0]), body[1+n:], total, nil
}
