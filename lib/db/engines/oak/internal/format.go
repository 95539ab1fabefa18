package internal

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/google/uuid"
)

const (
	segmentMagic  = "SKVSEG\x00"
	FormatVersion = 1
)

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", db.ErrCorruptSegment, what, err)
}

// --------------------------------------------------------------------------
// Nodes
// --------------------------------------------------------------------------

// EncodeNode serializes n into a record payload. The returned kind carries FlagSnappy
// if the strategy compressed the payload.
func EncodeNode(n *Node, strategy ICompressionStrategy) (RecordKind, []byte, error) {
	w := codec.NewBufferWriter()
	kind := RecLeaf
	if n.Kind == KindInternal {
		kind = RecInternal
		if err := w.WriteUInt8(n.Level); err != nil {
			return 0, nil, err
		}
	}
	if err := w.WriteVUInt64(uint64(len(n.Keys))); err != nil {
		return 0, nil, err
	}
	for i, k := range n.Keys {
		if err := w.WriteVUInt64(uint64(len(k))); err != nil {
			return 0, nil, err
		}
		if err := w.WriteBlock(k); err != nil {
			return 0, nil, err
		}
		if n.Kind == KindLeaf {
			v := n.Values[i]
			if err := w.WriteVUInt64(uint64(len(v))); err != nil {
				return 0, nil, err
			}
			if err := w.WriteBlock(v); err != nil {
				return 0, nil, err
			}
			continue
		}
		if err := writeRef(w, n.Children[i]); err != nil {
			return 0, nil, err
		}
	}

	payload := w.Bytes()
	if strategy != nil {
		if c, ok := strategy.Compress(payload); ok {
			return kind | FlagSnappy, c, nil
		}
	}
	return kind, payload, nil
}

// DecodeNode parses a node record payload.
func DecodeNode(kind RecordKind, payload []byte) (*Node, error) {
	if kind.Compressed() {
		var err error
		if payload, err = decompress(payload); err != nil {
			return nil, err
		}
	}
	r := codec.NewBytesReader(payload)
	n := &Node{}
	switch kind.Base() {
	case RecLeaf:
		n.Kind = KindLeaf
	case RecInternal:
		n.Kind = KindInternal
		lvl, err := r.ReadUInt8()
		if err != nil {
			return nil, corrupt("node level", err)
		}
		if lvl == 0 {
			return nil, corrupt("node level", codec.ErrInvalidEncoding)
		}
		n.Level = lvl
	default:
		return nil, fmt.Errorf("%w: record %v is not a node", db.ErrCorruptSegment, kind)
	}

	count, err := r.ReadVUInt32()
	if err != nil {
		return nil, corrupt("entry count", err)
	}
	// every entry takes at least two bytes, reject counts the payload cannot hold
	if int(count) > len(payload)/2 {
		return nil, corrupt("entry count", codec.ErrInvalidEncoding)
	}
	n.Keys = make([][]byte, count)
	if n.Kind == KindLeaf {
		n.Values = make([][]byte, count)
	} else {
		n.Children = make([]Ref, count)
	}
	for i := range n.Keys {
		if n.Keys[i], err = readBytes(r); err != nil {
			return nil, corrupt("key", err)
		}
		if n.Kind == KindLeaf {
			if n.Values[i], err = readBytes(r); err != nil {
				return nil, corrupt("value", err)
			}
			continue
		}
		if n.Children[i], err = readRef(r); err != nil {
			return nil, corrupt("child", err)
		}
	}
	return n, nil
}

func readBytes(r *codec.Reader) ([]byte, error) {
	l, err := r.ReadVUInt32()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(l))
}

func writeRef(w *codec.Writer, ref Ref) error {
	if err := w.WriteVUInt32(ref.Loc.Segment); err != nil {
		return err
	}
	if err := w.WriteVUInt64(ref.Loc.Offset); err != nil {
		return err
	}
	if err := w.WriteVUInt32(ref.Size); err != nil {
		return err
	}
	return w.WriteVUInt64(ref.Count)
}

func readRef(r *codec.Reader) (Ref, error) {
	var ref Ref
	var err error
	if ref.Loc.Segment, err = r.ReadVUInt32(); err != nil {
		return ref, err
	}
	if ref.Loc.Offset, err = r.ReadVUInt64(); err != nil {
		return ref, err
	}
	if ref.Size, err = r.ReadVUInt32(); err != nil {
		return ref, err
	}
	ref.Count, err = r.ReadVUInt64()
	return ref, err
}

// --------------------------------------------------------------------------
// Commit records
// --------------------------------------------------------------------------

// CommitRecord publishes a tree root. The latest fully written commit record whose
// tree is intact defines the state of the store.
type CommitRecord struct {
	Number uint64
	Root   Ref
	Time   time.Time
}

// EncodeCommit serializes a commit record payload.
func EncodeCommit(c CommitRecord) ([]byte, error) {
	w := codec.NewBufferWriter()
	if err := w.WriteVUInt64(c.Number); err != nil {
		return nil, err
	}
	if err := writeRef(w, c.Root); err != nil {
		return nil, err
	}
	if err := w.WriteDateTime(c.Time); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeCommit parses a commit record payload.
func DecodeCommit(payload []byte) (CommitRecord, error) {
	var c CommitRecord
	r := codec.NewBytesReader(payload)
	var err error
	if c.Number, err = r.ReadVUInt64(); err != nil {
		return c, corrupt("commit number", err)
	}
	if c.Root, err = readRef(r); err != nil {
		return c, corrupt("commit root", err)
	}
	if c.Time, err = r.ReadDateTime(); err != nil {
		return c, corrupt("commit time", err)
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Segment header and trailer
// --------------------------------------------------------------------------

// SegmentHeader is the first record of every segment.
type SegmentHeader struct {
	Version   uint64
	SegmentID uint32
	StoreID   uuid.UUID
}

// EncodeHeader serializes a header payload.
func EncodeHeader(h SegmentHeader) ([]byte, error) {
	w := codec.NewBufferWriter()
	if err := w.WriteBlock([]byte(segmentMagic)); err != nil {
		return nil, err
	}
	if err := w.WriteVUInt64(h.Version); err != nil {
		return nil, err
	}
	if err := w.WriteVUInt32(h.SegmentID); err != nil {
		return nil, err
	}
	if err := w.WriteGUID(h.StoreID); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeHeader parses a header payload.
func DecodeHeader(payload []byte) (SegmentHeader, error) {
	var h SegmentHeader
	r := codec.NewBytesReader(payload)
	magic, err := r.ReadBytes(len(segmentMagic))
	if err != nil {
		return h, corrupt("segment magic", err)
	}
	if string(magic) != segmentMagic {
		return h, fmt.Errorf("%w: bad segment magic %q", db.ErrCorruptSegment, magic)
	}
	if h.Version, err = r.ReadVUInt64(); err != nil {
		return h, corrupt("format version", err)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported format version %d", db.ErrCorruptSegment, h.Version)
	}
	if h.SegmentID, err = r.ReadVUInt32(); err != nil {
		return h, corrupt("segment id", err)
	}
	if h.StoreID, err = r.ReadGUID(); err != nil {
		return h, corrupt("store id", err)
	}
	return h, nil
}

// SegmentTrailer is the last record of a sealed segment.
type SegmentTrailer struct {
	ValidLength uint64
	Records     uint64
}

// EncodeTrailer serializes a trailer payload.
func EncodeTrailer(t SegmentTrailer) ([]byte, error) {
	w := codec.NewBufferWriter()
	if err := w.WriteVUInt64(t.ValidLength); err != nil {
		return nil, err
	}
	if err := w.WriteVUInt64(t.Records); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeTrailer parses a trailer payload.
func DecodeTrailer(payload []byte) (SegmentTrailer, error) {
	var t SegmentTrailer
	r := codec.NewBytesReader(payload)
	var err error
	if t.ValidLength, err = r.ReadVUInt64(); err != nil {
		return t, corrupt("trailer length", err)
	}
	if t.Records, err = r.ReadVUInt64(); err != nil {
		return t, corrupt("trailer records", err)
	}
	return t, nil
}
