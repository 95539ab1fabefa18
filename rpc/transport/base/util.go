package base

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ValentinKolb/sKV/lib/codec"
)

// MaxFrameSize limits the payload of a single frame.
const MaxFrameSize = 64 << 20

// frameHeaderSize is the longest possible header (three VUInts).
const frameHeaderSize = 3 * codec.MaxVUIntLen

// ErrFrameTooLarge is returned when a frame announces a payload above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// writeFrame writes a frame with the format:
// - VUInt: shardID
// - VUInt: requestID
// - VUInt: payload length
// - N bytes: payload
func writeFrame(w io.Writer, shardID uint64, requestID uint64, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	header := make([]byte, 0, frameHeaderSize)
	header = codec.AppendVUInt(header, shardID)
	header = codec.AppendVUInt(header, requestID)
	header = codec.AppendVUInt(header, uint64(len(data)))

	// header and payload in one write where the connection supports it
	b := net.Buffers{header, data}
	_, err := b.WriteTo(w)
	return err
}

// readFrame reads the next frame from r. The payload is read into buf when it fits,
// otherwise a new slice is allocated. A cleanly closed stream yields io.EOF.
func readFrame(r *codec.Reader, buf []byte) (uint64, uint64, []byte, error) {
	if eof, err := r.Eof(); err != nil {
		return 0, 0, nil, err
	} else if eof {
		return 0, 0, nil, io.EOF
	}

	shardID, err := r.ReadVUInt64()
	if err != nil {
		return 0, 0, nil, err
	}
	requestID, err := r.ReadVUInt64()
	if err != nil {
		return 0, 0, nil, err
	}
	contentLength, err := r.ReadVUInt64()
	if err != nil {
		return 0, 0, nil, err
	}
	if contentLength > MaxFrameSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, contentLength)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		return shardID, requestID, []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}
	if err := r.ReadBlock(buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, buf[:contentLength], nil
}
