package internal

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafOf(keys ...string) *Node {
	n := NewLeaf(1)
	for _, k := range keys {
		n.Keys = append(n.Keys, []byte(k))
		n.Values = append(n.Values, []byte("v-"+k))
	}
	return n
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

func TestRecordFraming(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)
	rec := AppendRecord([]byte("prefix"), RecLeaf, payload)[len("prefix"):]

	total, err := RecordLength(rec[:MaxRecordHeader])
	require.NoError(t, err)
	assert.Equal(t, len(rec), total)
	assert.Equal(t, 1+2+300+4, total)

	kind, got, n, err := ParseRecord(append(rec, 0x01, 0x02))
	require.NoError(t, err)
	assert.Equal(t, RecLeaf, kind)
	assert.Equal(t, payload, got)
	assert.Equal(t, len(rec), n)
}

func TestRecordCorruption(t *testing.T) {
	rec := AppendRecord(nil, RecCommit, []byte("payload"))

	t.Run("Checksum", func(t *testing.T) {
		for i := range rec {
			bad := bytes.Clone(rec)
			bad[i] ^= 0x01
			_, _, _, err := ParseRecord(bad)
			assert.ErrorIs(t, err, db.ErrCorruptSegment, "flipped byte %d", i)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		for i := 0; i < len(rec); i++ {
			_, _, _, err := ParseRecord(rec[:i])
			assert.ErrorIs(t, err, db.ErrCorruptSegment, "length %d", i)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		bad := AppendRecord(nil, RecordKind(9), []byte("x"))
		_, err := RecordLength(bad)
		assert.ErrorIs(t, err, db.ErrCorruptSegment)

		// only node records may be compressed
		bad = AppendRecord(nil, RecCommit|FlagSnappy, []byte("x"))
		_, err = RecordLength(bad)
		assert.ErrorIs(t, err, db.ErrCorruptSegment)
	})
}

func TestRecordKindString(t *testing.T) {
	assert.Equal(t, "leaf", RecLeaf.String())
	assert.Equal(t, "internal+snappy", (RecInternal | FlagSnappy).String())
	assert.Equal(t, "kind(42)", RecordKind(42).String())
}

// --------------------------------------------------------------------------
// Node codec
// --------------------------------------------------------------------------

func TestNodeCodec(t *testing.T) {
	leaf := leafOf("a", "b", "c")
	leaf.Values[1] = []byte{}

	internalNode := &Node{
		Kind:  KindInternal,
		Level: 2,
		Keys:  [][]byte{[]byte("a"), []byte("m")},
		Children: []Ref{
			{Loc: Location{Segment: 1, Offset: 17}, Size: 120, Count: 40},
			{Loc: Location{Segment: 300, Offset: 1 << 40}, Size: 1 << 20, Count: 1 << 33},
		},
	}

	strategies := []ICompressionStrategy{NoCompression{}, SnappyCompression{MinSize: 0}}
	for _, strategy := range strategies {
		for _, n := range []*Node{leaf, internalNode} {
			t.Run(fmt.Sprintf("%s/%s", strategy.Name(), n.Kind), func(t *testing.T) {
				kind, payload, err := EncodeNode(n, strategy)
				require.NoError(t, err)

				got, err := DecodeNode(kind, payload)
				require.NoError(t, err)
				assert.Equal(t, n.Kind, got.Kind)
				assert.Equal(t, n.Level, got.Level)
				assert.Equal(t, n.Keys, got.Keys)
				if n.Kind == KindLeaf {
					require.Len(t, got.Values, len(n.Values))
					for i := range n.Values {
						assert.True(t, bytes.Equal(n.Values[i], got.Values[i]))
					}
				} else {
					assert.Equal(t, n.Children, got.Children)
				}
				assert.Zero(t, got.Owner, "decoded nodes are never owned")
			})
		}
	}
}

func TestSnappyOnlyWhenSmaller(t *testing.T) {
	s := SnappyCompression{MinSize: 64}

	_, ok := s.Compress([]byte("short"))
	assert.False(t, ok)

	repetitive := bytes.Repeat([]byte("abcdefgh"), 100)
	c, ok := s.Compress(repetitive)
	require.True(t, ok)
	assert.Less(t, len(c), len(repetitive))

	leaf := leafOf()
	for i := 0; i < 50; i++ {
		leaf.Keys = append(leaf.Keys, []byte(fmt.Sprintf("key-%04d", i)))
		leaf.Values = append(leaf.Values, bytes.Repeat([]byte{'x'}, 40))
	}
	kind, _, err := EncodeNode(leaf, s)
	require.NoError(t, err)
	assert.True(t, kind.Compressed())
}

func TestDecodeNodeErrors(t *testing.T) {
	kind, payload, err := EncodeNode(leafOf("a", "b"), NoCompression{})
	require.NoError(t, err)

	for i := 0; i < len(payload); i++ {
		_, err := DecodeNode(kind, payload[:i])
		assert.ErrorIs(t, err, db.ErrCorruptSegment, "length %d", i)
	}

	_, err = DecodeNode(RecCommit, payload)
	assert.ErrorIs(t, err, db.ErrCorruptSegment)

	_, err = DecodeNode(RecLeaf|FlagSnappy, []byte{0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, db.ErrCorruptSegment)

	// internal nodes have a level >= 1
	_, err = DecodeNode(RecInternal, []byte{0x00, 0x00})
	assert.ErrorIs(t, err, db.ErrCorruptSegment)

	// an entry count the payload cannot hold
	_, err = DecodeNode(RecLeaf, []byte{0x7F})
	assert.ErrorIs(t, err, db.ErrCorruptSegment)
}

// --------------------------------------------------------------------------
// Commit, header, trailer
// --------------------------------------------------------------------------

func TestCommitRecord(t *testing.T) {
	c := CommitRecord{
		Number: 12345,
		Root:   Ref{Loc: Location{Segment: 7, Offset: 4096}, Size: 812, Count: 99},
		Time:   time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
	}
	payload, err := EncodeCommit(c)
	require.NoError(t, err)
	got, err := DecodeCommit(payload)
	require.NoError(t, err)
	assert.Equal(t, c.Number, got.Number)
	assert.Equal(t, c.Root, got.Root)
	assert.True(t, c.Time.Equal(got.Time))

	_, err = DecodeCommit(payload[:len(payload)-1])
	assert.ErrorIs(t, err, db.ErrCorruptSegment)
}

func TestSegmentHeader(t *testing.T) {
	h := SegmentHeader{Version: FormatVersion, SegmentID: 42, StoreID: uuid.New()}
	payload, err := EncodeHeader(h)
	require.NoError(t, err)
	got, err := DecodeHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	bad := bytes.Clone(payload)
	bad[0] = 'X'
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, db.ErrCorruptSegment)

	h.Version = FormatVersion + 1
	payload, err = EncodeHeader(h)
	require.NoError(t, err)
	_, err = DecodeHeader(payload)
	assert.ErrorIs(t, err, db.ErrCorruptSegment)
}

func TestSegmentTrailer(t *testing.T) {
	tr := SegmentTrailer{ValidLength: 1 << 26, Records: 1000}
	payload, err := EncodeTrailer(tr)
	require.NoError(t, err)
	got, err := DecodeTrailer(payload)
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	_, err = DecodeTrailer(nil)
	assert.ErrorIs(t, err, db.ErrCorruptSegment)
}

// --------------------------------------------------------------------------
// Node operations
// --------------------------------------------------------------------------

func TestSearchAndChildIndex(t *testing.T) {
	leaf := leafOf("b", "d", "f")
	cases := []struct {
		key   string
		idx   int
		found bool
	}{
		{"a", 0, false}, {"b", 0, true}, {"c", 1, false}, {"f", 2, true}, {"g", 3, false},
	}
	for _, c := range cases {
		idx, found := leaf.Search([]byte(c.key))
		assert.Equal(t, c.idx, idx, c.key)
		assert.Equal(t, c.found, found, c.key)
	}

	in := &Node{Kind: KindInternal, Level: 1, Keys: [][]byte{[]byte("b"), []byte("d"), []byte("f")}}
	for key, want := range map[string]int{"a": 0, "b": 0, "c": 0, "d": 1, "e": 1, "f": 2, "z": 2} {
		assert.Equal(t, want, in.ChildIndex([]byte(key)), key)
	}
}

func TestSplitAndConcat(t *testing.T) {
	n := leafOf("a", "b", "c", "d", "e", "f")
	at := n.SplitPoint()
	assert.Equal(t, 3, at)

	right := n.Split(at, 2)
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(n))
	assert.Equal(t, []string{"d", "e", "f"}, keysOf(right))
	assert.Equal(t, uint64(2), right.Owner)

	// appending to the left half must not clobber the right half
	n.Keys = append(n.Keys, []byte("c2"))
	n.Values = append(n.Values, []byte("v-c2"))
	assert.Equal(t, "d", string(right.Keys[0]))

	merged := Concat(n, right, 3)
	assert.Equal(t, []string{"a", "b", "c", "c2", "d", "e", "f"}, keysOf(merged))
	assert.Len(t, merged.Values, 7)
	assert.Equal(t, uint64(7), merged.Count())
}

func TestSplitPointByBytes(t *testing.T) {
	n := leafOf("a", "b", "c", "d")
	n.Values[0] = bytes.Repeat([]byte{'x'}, 1000)
	assert.Equal(t, 1, n.SplitPoint(), "a single large entry forms its own half")

	in := &Node{Kind: KindInternal, Level: 1}
	for i := 0; i < 5; i++ {
		in.Keys = append(in.Keys, []byte{byte('a' + i)})
		in.Children = append(in.Children, Ref{Count: 1})
	}
	in.Keys[0] = bytes.Repeat([]byte{'a'}, 1000)
	at := in.SplitPoint()
	assert.GreaterOrEqual(t, at, 2, "internal halves keep two children")
	assert.LessOrEqual(t, at, 3)
}

func TestCloneIsIndependent(t *testing.T) {
	n := leafOf("a", "b")
	c := n.Clone(9)
	c.Keys[0] = []byte("z")
	c.Values = append(c.Values, []byte("new"))
	assert.Equal(t, "a", string(n.Keys[0]))
	assert.Len(t, n.Values, 2)
	assert.Equal(t, uint64(9), c.Owner)
}

func keysOf(n *Node) []string {
	out := make([]string, len(n.Keys))
	for i, k := range n.Keys {
		out[i] = string(k)
	}
	return out
}
