package codec

import (
	"encoding/binary"
	"math/bits"
)

// MaxVUIntLen is the longest possible VUInt encoding.
const MaxVUIntLen = 9

// LengthVUIntByFirstByte returns the total encoded length of a VUInt from its first byte.
func LengthVUIntByFirstByte(b byte) int {
	return bits.LeadingZeros8(^b) + 1
}

// LengthVUInt returns how many bytes PackVUInt needs for v.
func LengthVUInt(v uint64) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	case v < 0x200000:
		return 3
	case v < 0x10000000:
		return 4
	case v < 0x800000000:
		return 5
	case v < 0x40000000000:
		return 6
	case v < 0x2000000000000:
		return 7
	case v < 0x100000000000000:
		return 8
	default:
		return 9
	}
}

// LengthVInt returns how many bytes the zig-zag encoding of v needs.
func LengthVInt(v int64) int {
	return LengthVUInt(ZigZag(v))
}

// PackVUInt writes v into buf and returns the number of bytes used.
// buf must have room for LengthVUInt(v) bytes.
func PackVUInt(buf []byte, v uint64) int {
	l := LengthVUInt(v)
	if l == MaxVUIntLen {
		buf[0] = 0xff
		binary.BigEndian.PutUint64(buf[1:], v)
		return l
	}
	for i := l - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] |= ^(byte(0xff) >> (l - 1))
	return l
}

// AppendVUInt appends the encoding of v to dst.
func AppendVUInt(dst []byte, v uint64) []byte {
	var tmp [MaxVUIntLen]byte
	n := PackVUInt(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// UnpackVUInt decodes a VUInt from the start of buf. It returns the value and the
// number of bytes consumed, or n == 0 when buf is too short.
func UnpackVUInt(buf []byte) (v uint64, n int) {
	if len(buf) == 0 {
		return 0, 0
	}
	l := LengthVUIntByFirstByte(buf[0])
	if len(buf) < l {
		return 0, 0
	}
	v = uint64(buf[0] & (byte(0xff) >> l))
	for i := 1; i < l; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v, l
}

// ZigZag maps a signed value onto the unsigned VUInt domain (n -> 2n, -n-1 -> 2n+1).
func ZigZag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// UnZigZag reverses ZigZag.
func UnZigZag(u uint64) int64 {
	if u&1 == 0 {
		return int64(u >> 1)
	}
	return -int64(u>>1) - 1
}
