// Package codec provides the buffered binary reader and writer used by every
// persistent and wire format in sKV.
//
// The package has two layers:
//
//   - Buffered I/O: Reader and Writer own a byte buffer and a cursor. Data is moved
//     in and out through an injected FillFunc / FlushFunc, so the same code decodes
//     from a segment file, a network frame or a plain byte slice.
//
//   - Variable-length encoding on top of the buffer:
//     VUInt: the number of leading one-bits of the first byte (0..8) gives the count of
//     following bytes, the remaining bits form the big-endian value. Values below 0x80
//     take one byte, a full 64-bit value takes nine.
//     VInt: zig-zag mapping onto VUInt (2n -> n, 2n+1 -> -n-1).
//     String: VUInt(len+1) where 0 encodes null and 1 the empty string, len counts
//     UTF-16 code units, followed by one VUInt per code point.
//     Fixed-width: Int64/UInt64 big-endian, DateTime as Int64 of Unix nanoseconds,
//     GUID as a raw 16-byte block.
//
// Decoding never panics on malformed input. Truncated input yields ErrUnexpectedEndOfStream,
// 32-bit reads of larger values yield an *OverflowError (matching ErrOverflow) and
// out-of-range code points yield ErrInvalidEncoding.
//
// Thread-safety: Reader and Writer are not safe for concurrent use. The pure helpers
// in pack.go (PackVUInt, UnpackVUInt, ...) are stateless.
package codec
