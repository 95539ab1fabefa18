package codec

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedFill returns a FillFunc that hands out data at most n bytes at a time,
// which forces the slow paths of every decoder.
func chunkedFill(data []byte, n int) FillFunc {
	return func(buf []byte) (int, error) {
		if len(data) == 0 {
			return 0, io.EOF
		}
		c := copy(buf[:min(n, len(buf))], data)
		data = data[c:]
		return c, nil
	}
}

// readers builds a reader per buffering strategy for the same input.
func readers(data []byte) map[string]*Reader {
	return map[string]*Reader{
		"bytes":     NewBytesReader(data),
		"stream":    NewStreamReader(bytes.NewReader(data), 64),
		"oneByte":   NewReader(chunkedFill(data, 1), 16),
		"threeByte": NewReader(chunkedFill(data, 3), 16),
	}
}

func TestVUIntBoundaries(t *testing.T) {
	cases := []struct {
		value  uint64
		length int
	}{
		{0, 1}, {0x7F, 1}, {0x80, 2}, {0x3FFF, 2}, {0x4000, 3},
		{0x1FFFFF, 3}, {0x200000, 4}, {0xFFFFFFF, 4}, {0x10000000, 5},
		{0x7FFFFFFFF, 5}, {0x800000000, 6}, {0x3FFFFFFFFFF, 6}, {0x40000000000, 7},
		{0x1FFFFFFFFFFFF, 7}, {0x2000000000000, 8}, {0xFFFFFFFFFFFFFF, 8},
		{0x100000000000000, 9}, {math.MaxUint64, 9},
	}
	for _, c := range cases {
		buf := make([]byte, MaxVUIntLen)
		n := PackVUInt(buf, c.value)
		require.Equal(t, c.length, n, "length of %#x", c.value)
		require.Equal(t, c.length, LengthVUInt(c.value))
		require.Equal(t, c.length, LengthVUIntByFirstByte(buf[0]))

		v, m := UnpackVUInt(buf[:n])
		require.Equal(t, n, m)
		require.Equal(t, c.value, v)

		for name, r := range readers(buf[:n]) {
			got, err := r.ReadVUInt64()
			require.NoError(t, err, name)
			require.Equal(t, c.value, got, name)
			eof, err := r.Eof()
			require.NoError(t, err)
			require.True(t, eof, name)
		}
	}
}

func TestVUIntSingleByteBelow128(t *testing.T) {
	for v := uint64(0); v < 128; v++ {
		w := NewBufferWriter()
		require.NoError(t, w.WriteVUInt64(v))
		require.Equal(t, []byte{byte(v)}, w.Bytes())
	}
}

func TestVIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 1 << 20, -(1 << 20), math.MaxInt32, math.MinInt32,
		math.MaxInt64, math.MinInt64}
	w := NewBufferWriter()
	for _, v := range values {
		require.NoError(t, w.WriteVInt64(v))
	}
	for name, r := range readers(w.Bytes()) {
		for _, v := range values {
			got, err := r.ReadVInt64()
			require.NoError(t, err, name)
			assert.Equal(t, v, got, name)
		}
	}
	assert.Equal(t, uint64(0), ZigZag(0))
	assert.Equal(t, uint64(1), ZigZag(-1))
	assert.Equal(t, uint64(2), ZigZag(1))
	assert.Equal(t, int64(-3), UnZigZag(5))
}

func TestReadVUInt32Overflow(t *testing.T) {
	w := NewBufferWriter()
	require.NoError(t, w.WriteVUInt64(math.MaxUint32))
	require.NoError(t, w.WriteVUInt64(math.MaxUint32+1))
	r := NewBytesReader(w.Bytes())

	v, err := r.ReadVUInt32()
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), v)

	_, err = r.ReadVUInt32()
	require.ErrorIs(t, err, ErrOverflow)
	var oe *OverflowError
	require.True(t, errors.As(err, &oe))
	require.Equal(t, "VUInt32", oe.Field)
}

func TestReadVInt32Overflow(t *testing.T) {
	w := NewBufferWriter()
	require.NoError(t, w.WriteVInt64(math.MinInt32))
	require.NoError(t, w.WriteVInt64(math.MinInt32-1))
	r := NewBytesReader(w.Bytes())

	v, err := r.ReadVInt32()
	require.NoError(t, err)
	require.Equal(t, int32(math.MinInt32), v)
	_, err = r.ReadVInt32()
	require.ErrorIs(t, err, ErrOverflow)
}

func TestTruncatedInput(t *testing.T) {
	buf := make([]byte, MaxVUIntLen)
	n := PackVUInt(buf, 0x123456789)
	for name, r := range readers(buf[:n-1]) {
		_, err := r.ReadVUInt64()
		require.ErrorIs(t, err, ErrUnexpectedEndOfStream, name)
	}

	_, err := NewBytesReader([]byte{1, 2, 3}).ReadInt64()
	require.ErrorIs(t, err, ErrUnexpectedEndOfStream)

	_, err = NewBytesReader(nil).ReadUInt8()
	require.ErrorIs(t, err, ErrUnexpectedEndOfStream)

	// string announcing more code points than present
	_, err = NewBytesReader([]byte{4, 'a'}).ReadString()
	require.ErrorIs(t, err, ErrUnexpectedEndOfStream)
}

func TestStrings(t *testing.T) {
	values := []string{"", "a", "hello world", "žluťoučký kůň", "日本語", "emoji 😀 pair", "𝄞𝄞",
		strings.Repeat("x", 5000)}
	w := NewBufferWriter()
	require.NoError(t, w.WriteNullString())
	for _, s := range values {
		require.NoError(t, w.WriteString(s))
	}
	for name, r := range readers(w.Bytes()) {
		s, err := r.ReadNullableString()
		require.NoError(t, err, name)
		require.Nil(t, s, name)
		for _, v := range values {
			got, err := r.ReadNullableString()
			require.NoError(t, err, name)
			require.NotNil(t, got, name)
			require.Equal(t, v, *got, name)
		}
	}
}

func TestStringNullAndEmptyEncoding(t *testing.T) {
	w := NewBufferWriter()
	require.NoError(t, w.WriteNullString())
	require.NoError(t, w.WriteString(""))
	require.Equal(t, []byte{0, 1}, w.Bytes())
}

func TestStringSurrogatePairLength(t *testing.T) {
	// U+1D11E occupies two UTF-16 units, so the prefix is 2+1.
	w := NewBufferWriter()
	require.NoError(t, w.WriteString("𝄞"))
	b := w.Bytes()
	require.Equal(t, byte(3), b[0])
	cp, n := UnpackVUInt(b[1:])
	require.Equal(t, uint64(0x1D11E), cp)
	require.Equal(t, len(b)-1, n)
}

func TestStringInvalidCodePoint(t *testing.T) {
	w := NewBufferWriter()
	require.NoError(t, w.WriteVUInt64(3))
	require.NoError(t, w.WriteVUInt64(0x110000))
	_, err := NewBytesReader(w.Bytes()).ReadString()
	require.ErrorIs(t, err, ErrInvalidEncoding)

	// pair that does not fit into the announced length
	w.Reset()
	require.NoError(t, w.WriteVUInt64(2))
	require.NoError(t, w.WriteVUInt64(0x1F600))
	_, err = NewBytesReader(w.Bytes()).ReadString()
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestFixedWidthValues(t *testing.T) {
	now := time.Unix(1700000000, 123456789).UTC()
	id := uuid.New()

	var out bytes.Buffer
	w := NewStreamWriter(&out, 16)
	require.NoError(t, w.WriteInt64(-42))
	require.NoError(t, w.WriteUInt64(math.MaxUint64))
	require.NoError(t, w.WriteDateTime(now))
	require.NoError(t, w.WriteGUID(id))
	require.NoError(t, w.WriteUInt8(7))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteByteArray(nil))
	require.NoError(t, w.WriteByteArray([]byte{}))
	require.NoError(t, w.WriteByteArray([]byte("payload")))
	require.NoError(t, w.Flush())
	require.Equal(t, int64(out.Len()), w.Written())
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xD6}, out.Bytes()[:8])

	for name, r := range readers(out.Bytes()) {
		i, err := r.ReadInt64()
		require.NoError(t, err, name)
		require.Equal(t, int64(-42), i)
		u, err := r.ReadUInt64()
		require.NoError(t, err)
		require.Equal(t, uint64(math.MaxUint64), u)
		ts, err := r.ReadDateTime()
		require.NoError(t, err)
		require.True(t, now.Equal(ts))
		g, err := r.ReadGUID()
		require.NoError(t, err)
		require.Equal(t, id, g)
		b, err := r.ReadUInt8()
		require.NoError(t, err)
		require.Equal(t, uint8(7), b)
		ok, err := r.ReadBool()
		require.NoError(t, err)
		require.True(t, ok)
		a, err := r.ReadByteArray()
		require.NoError(t, err)
		require.Nil(t, a)
		a, err = r.ReadByteArray()
		require.NoError(t, err)
		require.NotNil(t, a)
		require.Len(t, a, 0)
		a, err = r.ReadByteArray()
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), a)
		require.Equal(t, int64(out.Len()), r.Consumed())
	}
}

func TestReadBlockAcrossRefills(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	r := NewReader(chunkedFill(data, 7), 16)
	require.NoError(t, r.Skip(5))
	got, err := r.ReadBytes(len(data) - 5)
	require.NoError(t, err)
	require.Equal(t, data[5:], got)
	eof, err := r.Eof()
	require.NoError(t, err)
	require.True(t, eof)
}

func TestRefillFailureIsReported(t *testing.T) {
	boom := errors.New("disk on fire")
	r := NewReader(func([]byte) (int, error) { return 0, boom }, 16)
	_, err := r.ReadUInt8()
	require.ErrorIs(t, err, boom)
	_, err = r.Eof()
	require.ErrorIs(t, err, boom)
}

func TestWriterFlushBoundaries(t *testing.T) {
	var flushes [][]byte
	w := NewWriter(func(p []byte) error {
		flushes = append(flushes, append([]byte(nil), p...))
		return nil
	}, 16)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.WriteVUInt64(uint64(i)*0x10001))
	}
	require.NoError(t, w.Flush())

	var all []byte
	for _, f := range flushes {
		require.LessOrEqual(t, len(f), 16)
		all = append(all, f...)
	}
	r := NewBytesReader(all)
	for i := 0; i < 100; i++ {
		v, err := r.ReadVUInt64()
		require.NoError(t, err)
		require.Equal(t, uint64(i)*0x10001, v)
	}
}

func TestWriterStickyError(t *testing.T) {
	boom := errors.New("full")
	w := NewWriter(func([]byte) error { return boom }, 16)
	require.NoError(t, w.WriteBlock(make([]byte, 16)))
	require.ErrorIs(t, w.WriteUInt8(1), boom)
	require.ErrorIs(t, w.WriteVUInt64(1), boom)
	require.ErrorIs(t, w.Flush(), boom)
}
