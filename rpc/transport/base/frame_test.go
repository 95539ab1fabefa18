package base

import (
	"bytes"
	"io"
	"testing"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []struct {
		shard, request uint64
		data           []byte
	}{
		{1, 1, []byte("hello")},
		{0, 0, nil},
		{1 << 40, 1<<64 - 1, bytes.Repeat([]byte{0x5a}, 70000)},
		{7, 300, []byte{0}},
	}

	var stream bytes.Buffer
	for _, f := range frames {
		require.NoError(t, writeFrame(&stream, f.shard, f.request, f.data))
	}

	r := codec.NewStreamReader(&stream, 128)
	buf := make([]byte, 16)
	for _, f := range frames {
		shard, request, data, err := readFrame(r, buf)
		require.NoError(t, err)
		assert.Equal(t, f.shard, shard)
		assert.Equal(t, f.request, request)
		assert.Equal(t, len(f.data), len(data))
		assert.True(t, bytes.Equal(f.data, data))
		assert.NotNil(t, data)
	}

	_, _, _, err := readFrame(r, buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameHeaderEncoding(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, writeFrame(&stream, 1, 0x200, []byte("ab")))
	assert.Equal(t, []byte{0x01, 0x82, 0x00, 0x02, 'a', 'b'}, stream.Bytes())
}

func TestTruncatedFrame(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, writeFrame(&stream, 3, 4, []byte("payload")))
	full := stream.Bytes()

	for cut := 1; cut < len(full); cut++ {
		r := codec.NewBytesReader(full[:cut])
		_, _, _, err := readFrame(r, nil)
		assert.ErrorIs(t, err, codec.ErrUnexpectedEndOfStream, "cut at %d", cut)
	}
}

func TestFrameTooLarge(t *testing.T) {
	err := writeFrame(io.Discard, 1, 1, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	header := codec.AppendVUInt(nil, 1)
	header = codec.AppendVUInt(header, 1)
	header = codec.AppendVUInt(header, MaxFrameSize+1)
	_, _, _, err = readFrame(codec.NewBytesReader(header), nil)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
