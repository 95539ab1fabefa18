package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// minWriterBuffer guarantees room for any single fixed-width or VUInt value.
const minWriterBuffer = 16

// FlushFunc receives a full (or explicitly flushed) buffer. The slice is only valid
// for the duration of the call.
type FlushFunc func(p []byte) error

// Writer encodes values into a buffer that is handed to a FlushFunc when full.
// A Writer without FlushFunc (NewBufferWriter) grows its buffer instead.
//
// The first flush error is sticky: all later writes return it.
//
// Thread-safety: not safe for concurrent use.
type Writer struct {
	buf     []byte
	pos     int
	flush   FlushFunc
	err     error
	written int64
}

// NewWriter creates a Writer that calls flush whenever its buffer is full.
func NewWriter(flush FlushFunc, size int) *Writer {
	if size < minWriterBuffer {
		size = max(DefaultBufferSize, minWriterBuffer)
	}
	return &Writer{buf: make([]byte, size), flush: flush}
}

// NewStreamWriter creates a Writer that flushes into w.
func NewStreamWriter(w io.Writer, size int) *Writer {
	return NewWriter(func(p []byte) error {
		_, err := w.Write(p)
		return err
	}, size)
}

// NewBufferWriter creates an in-memory Writer. Use Bytes to obtain the output.
func NewBufferWriter() *Writer {
	return &Writer{buf: make([]byte, 256)}
}

// Bytes returns the content of an in-memory Writer. The slice aliases the internal
// buffer until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.pos]
}

// Reset discards buffered content and any sticky error.
func (w *Writer) Reset() {
	w.pos = 0
	w.err = nil
	w.written = 0
}

// Written returns the number of bytes accepted so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Flush hands the buffered bytes to the FlushFunc.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.flush == nil || w.pos == 0 {
		return nil
	}
	if err := w.flush(w.buf[:w.pos]); err != nil {
		w.err = fmt.Errorf("codec: flush failed: %w", err)
		return w.err
	}
	w.pos = 0
	return nil
}

// reserve makes room for n contiguous bytes. n never exceeds minWriterBuffer for
// flushing writers.
func (w *Writer) reserve(n int) error {
	if w.err != nil {
		return w.err
	}
	if w.pos+n <= len(w.buf) {
		return nil
	}
	if w.flush == nil {
		grown := make([]byte, max(2*len(w.buf), w.pos+n))
		copy(grown, w.buf[:w.pos])
		w.buf = grown
		return nil
	}
	return w.Flush()
}

// --------------------------------------------------------------------------
// Raw bytes
// --------------------------------------------------------------------------

// WriteUInt8 writes a single byte.
func (w *Writer) WriteUInt8(b uint8) error {
	if err := w.reserve(1); err != nil {
		return err
	}
	w.buf[w.pos] = b
	w.pos++
	w.written++
	return nil
}

// WriteInt8 writes a single signed byte.
func (w *Writer) WriteInt8(b int8) error {
	return w.WriteUInt8(uint8(b))
}

// WriteBool writes 1 for true and 0 for false.
func (w *Writer) WriteBool(b bool) error {
	if b {
		return w.WriteUInt8(1)
	}
	return w.WriteUInt8(0)
}

// WriteBlock writes p verbatim.
func (w *Writer) WriteBlock(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.flush == nil {
		if err := w.reserve(len(p)); err != nil {
			return err
		}
	}
	for len(p) > 0 {
		if w.pos == len(w.buf) {
			if err := w.Flush(); err != nil {
				return err
			}
		}
		n := copy(w.buf[w.pos:], p)
		w.pos += n
		w.written += int64(n)
		p = p[n:]
	}
	return nil
}

// WriteByteArray writes a VUInt(len+1) prefixed byte slice; nil is written as null.
func (w *Writer) WriteByteArray(p []byte) error {
	if p == nil {
		return w.WriteVUInt64(0)
	}
	if err := w.WriteVUInt64(uint64(len(p)) + 1); err != nil {
		return err
	}
	return w.WriteBlock(p)
}

// --------------------------------------------------------------------------
// Variable-length integers
// --------------------------------------------------------------------------

// WriteVUInt64 writes v as VUInt.
func (w *Writer) WriteVUInt64(v uint64) error {
	if err := w.reserve(MaxVUIntLen); err != nil {
		return err
	}
	n := PackVUInt(w.buf[w.pos:], v)
	w.pos += n
	w.written += int64(n)
	return nil
}

// WriteVUInt32 writes v as VUInt.
func (w *Writer) WriteVUInt32(v uint32) error {
	return w.WriteVUInt64(uint64(v))
}

// WriteVInt64 writes v as zig-zag VInt.
func (w *Writer) WriteVInt64(v int64) error {
	return w.WriteVUInt64(ZigZag(v))
}

// WriteVInt32 writes v as zig-zag VInt.
func (w *Writer) WriteVInt32(v int32) error {
	return w.WriteVInt64(int64(v))
}

// --------------------------------------------------------------------------
// Fixed width values
// --------------------------------------------------------------------------

// WriteUInt64 writes 8 bytes big-endian.
func (w *Writer) WriteUInt64(v uint64) error {
	if err := w.reserve(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
	w.written += 8
	return nil
}

// WriteInt64 writes 8 bytes big-endian.
func (w *Writer) WriteInt64(v int64) error {
	return w.WriteUInt64(uint64(v))
}

// WriteUInt32 writes 4 bytes big-endian.
func (w *Writer) WriteUInt32(v uint32) error {
	if err := w.reserve(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
	w.written += 4
	return nil
}

// WriteDateTime writes t as Int64 of Unix nanoseconds.
func (w *Writer) WriteDateTime(t time.Time) error {
	return w.WriteInt64(t.UnixNano())
}

// WriteGUID writes the raw 16 bytes of id.
func (w *Writer) WriteGUID(id uuid.UUID) error {
	return w.WriteBlock(id[:])
}

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

// WriteString writes s with a length counted in UTF-16 code units and one VUInt per
// code point. Invalid UTF-8 is written as U+FFFD.
func (w *Writer) WriteString(s string) error {
	units := 0
	for _, c := range s {
		units += utf16.RuneLen(c)
	}
	if err := w.WriteVUInt64(uint64(units) + 1); err != nil {
		return err
	}
	for _, c := range s {
		if err := w.WriteVUInt64(uint64(c)); err != nil {
			return err
		}
	}
	return nil
}

// WriteNullString writes the null string marker.
func (w *Writer) WriteNullString() error {
	return w.WriteVUInt64(0)
}

// WriteNullableString writes s, or the null marker when s is nil.
func (w *Writer) WriteNullableString(s *string) error {
	if s == nil {
		return w.WriteNullString()
	}
	return w.WriteString(*s)
}
