package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// DefaultBufferSize is used when a constructor receives a non-positive size.
const DefaultBufferSize = 4096

// FillFunc loads the next chunk of input into buf and returns how many bytes were
// written. Returning zero bytes (with nil or io.EOF) marks the end of the stream.
type FillFunc func(buf []byte) (int, error)

// Reader decodes values from a buffer that is refilled on demand.
//
// The buffer holds the unread bytes buf[pos:end]. When the source is exhausted
// end is set to -1 and every further read fails with ErrUnexpectedEndOfStream.
//
// Thread-safety: not safe for concurrent use.
type Reader struct {
	buf  []byte
	pos  int
	end  int
	fill FillFunc
	err  error
	read int64
}

// NewReader creates a Reader that calls fill whenever its buffer of the given size
// runs empty.
func NewReader(fill FillFunc, size int) *Reader {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Reader{buf: make([]byte, size), fill: fill}
}

// NewBytesReader creates a Reader over a fixed byte slice. The slice is not copied
// and never written to.
func NewBytesReader(b []byte) *Reader {
	return &Reader{buf: b, end: len(b)}
}

// NewStreamReader creates a Reader that refills from r.
func NewStreamReader(r io.Reader, size int) *Reader {
	return NewReader(func(buf []byte) (int, error) {
		return io.ReadAtLeast(r, buf, 1)
	}, size)
}

// --------------------------------------------------------------------------
// Buffer management
// --------------------------------------------------------------------------

// refill asks the FillFunc for more input. It must only be called when pos == end.
func (r *Reader) refill() error {
	if r.end == -1 {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	if r.fill == nil {
		r.pos, r.end = 0, -1
		return nil
	}
	n, err := r.fill(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = fmt.Errorf("codec: refill failed: %w", err)
		if n <= 0 {
			return r.err
		}
	}
	if n <= 0 {
		r.pos, r.end = 0, -1
		return nil
	}
	r.pos, r.end = 0, n
	return nil
}

// ensure makes at least one unread byte available.
func (r *Reader) ensure() error {
	if r.end == -1 {
		return ErrUnexpectedEndOfStream
	}
	if r.pos < r.end {
		return nil
	}
	if err := r.refill(); err != nil {
		return err
	}
	if r.end == -1 {
		return ErrUnexpectedEndOfStream
	}
	return nil
}

// Eof reports whether the source is exhausted. It refills the buffer if needed.
func (r *Reader) Eof() (bool, error) {
	if r.end == -1 {
		return true, nil
	}
	if r.pos < r.end {
		return false, nil
	}
	if err := r.refill(); err != nil {
		return false, err
	}
	return r.end == -1, nil
}

// Consumed returns the number of bytes decoded so far.
func (r *Reader) Consumed() int64 {
	return r.read
}

// --------------------------------------------------------------------------
// Raw bytes
// --------------------------------------------------------------------------

// ReadUInt8 reads a single byte.
func (r *Reader) ReadUInt8() (uint8, error) {
	if err := r.ensure(); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	r.read++
	return b, nil
}

// ReadInt8 reads a single byte as a signed value.
func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.ReadUInt8()
	return int8(b), err
}

// ReadBool reads a byte and reports whether it is non-zero.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUInt8()
	return b != 0, err
}

// ReadBlock fills dst completely, refilling as often as needed.
func (r *Reader) ReadBlock(dst []byte) error {
	for len(dst) > 0 {
		if err := r.ensure(); err != nil {
			return err
		}
		n := copy(dst, r.buf[r.pos:r.end])
		r.pos += n
		r.read += int64(n)
		dst = dst[n:]
	}
	return nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidEncoding, n)
	}
	// avoid trusting huge lengths from corrupt input before any byte arrived
	if n > 1<<16 {
		out := make([]byte, 0, 1<<16)
		chunk := make([]byte, 1<<16)
		for len(out) < n {
			c := chunk[:min(len(chunk), n-len(out))]
			if err := r.ReadBlock(c); err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
		return out, nil
	}
	out := make([]byte, n)
	if err := r.ReadBlock(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) error {
	for n > 0 {
		if err := r.ensure(); err != nil {
			return err
		}
		step := min(n, r.end-r.pos)
		r.pos += step
		r.read += int64(step)
		n -= step
	}
	return nil
}

// ReadByteArray reads a VUInt(len+1) prefixed byte slice. A zero prefix decodes to nil,
// an empty array to a non-nil empty slice.
func (r *Reader) ReadByteArray() ([]byte, error) {
	l, err := r.ReadVUInt64()
	if err != nil {
		return nil, err
	}
	if l == 0 {
		return nil, nil
	}
	l--
	if l > math.MaxInt32 {
		return nil, &OverflowError{Field: "byte array length", Value: l}
	}
	return r.ReadBytes(int(l))
}

// --------------------------------------------------------------------------
// Variable-length integers
// --------------------------------------------------------------------------

// ReadVUInt64 decodes a VUInt. When the whole encoding is buffered it is decoded in
// place, otherwise byte by byte across refills.
func (r *Reader) ReadVUInt64() (uint64, error) {
	if err := r.ensure(); err != nil {
		return 0, err
	}
	l := LengthVUIntByFirstByte(r.buf[r.pos])
	if r.pos+l <= r.end {
		v, _ := UnpackVUInt(r.buf[r.pos:r.end])
		r.pos += l
		r.read += int64(l)
		return v, nil
	}
	v := uint64(r.buf[r.pos] & (byte(0xff) >> l))
	r.pos++
	r.read++
	for i := 1; i < l; i++ {
		b, err := r.ReadUInt8()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// ReadVUInt32 decodes a VUInt that must fit in 32 bits.
func (r *Reader) ReadVUInt32() (uint32, error) {
	v, err := r.ReadVUInt64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, &OverflowError{Field: "VUInt32", Value: v}
	}
	return uint32(v), nil
}

// ReadVInt64 decodes a zig-zag VInt.
func (r *Reader) ReadVInt64() (int64, error) {
	u, err := r.ReadVUInt64()
	if err != nil {
		return 0, err
	}
	return UnZigZag(u), nil
}

// ReadVInt32 decodes a VInt that must fit in 32 bits.
func (r *Reader) ReadVInt32() (int32, error) {
	v, err := r.ReadVInt64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &OverflowError{Field: "VInt32", Value: v}
	}
	return int32(v), nil
}

// --------------------------------------------------------------------------
// Fixed width values
// --------------------------------------------------------------------------

// ReadUInt64 reads 8 bytes big-endian.
func (r *Reader) ReadUInt64() (uint64, error) {
	if r.end != -1 && r.end-r.pos >= 8 {
		v := binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
		r.read += 8
		return v, nil
	}
	var tmp [8]byte
	if err := r.ReadBlock(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// ReadInt64 reads 8 bytes big-endian as a signed value.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUInt64()
	return int64(v), err
}

// ReadUInt32 reads 4 bytes big-endian.
func (r *Reader) ReadUInt32() (uint32, error) {
	var tmp [4]byte
	if err := r.ReadBlock(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

// ReadDateTime reads an Int64 of Unix nanoseconds and returns it as UTC time.
func (r *Reader) ReadDateTime() (time.Time, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, v).UTC(), nil
}

// ReadGUID reads a raw 16-byte identifier.
func (r *Reader) ReadGUID() (uuid.UUID, error) {
	var id uuid.UUID
	err := r.ReadBlock(id[:])
	return id, err
}

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

// ReadString reads a string. Null decodes to "".
func (r *Reader) ReadString() (string, error) {
	s, err := r.ReadNullableString()
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

// ReadNullableString reads a string and returns nil for the null encoding.
//
// The length prefix counts UTF-16 code units. Code points above 0xFFFF occupy two
// units and are rebuilt as a surrogate pair before conversion to UTF-8.
func (r *Reader) ReadNullableString() (*string, error) {
	l, err := r.ReadVUInt64()
	if err != nil {
		return nil, err
	}
	if l == 0 {
		return nil, nil
	}
	l--
	if l > math.MaxInt32 {
		return nil, &OverflowError{Field: "string length", Value: l}
	}
	n := int(l)
	units := make([]uint16, 0, min(n, 1024))
	for len(units) < n {
		c, err := r.ReadVUInt64()
		if err != nil {
			return nil, err
		}
		switch {
		case c <= 0xFFFF:
			units = append(units, uint16(c))
		case c <= 0x10FFFF:
			if len(units)+2 > n {
				return nil, fmt.Errorf("%w: surrogate pair exceeds string length", ErrInvalidEncoding)
			}
			c -= 0x10000
			units = append(units, uint16(c>>10)+0xD800, uint16(c&0x3FF)+0xDC00)
		default:
			return nil, fmt.Errorf("%w: code point %#x", ErrInvalidEncoding, c)
		}
	}
	s := string(utf16.Decode(units))
	return &s, nil
}
