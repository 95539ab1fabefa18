package internal

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/golang/snappy"
)

// ICompressionStrategy decides how node payloads are stored.
type ICompressionStrategy interface {
	Name() string

	// Compress returns the compressed payload, or ok == false if the payload should
	// be stored as is.
	Compress(src []byte) (dst []byte, ok bool)
}

// NoCompression stores every payload uncompressed.
type NoCompression struct{}

func (NoCompression) Name() string                   { return "none" }
func (NoCompression) Compress([]byte) ([]byte, bool) { return nil, false }

// SnappyCompression compresses payloads of at least MinSize bytes when that saves
// at least an eighth of the size.
type SnappyCompression struct {
	MinSize int
}

func (SnappyCompression) Name() string { return "snappy" }

func (s SnappyCompression) Compress(src []byte) ([]byte, bool) {
	if len(src) < s.MinSize {
		return nil, false
	}
	dst := snappy.Encode(nil, src)
	if len(dst) > len(src)-len(src)/8 {
		return nil, false
	}
	return dst, true
}

// decompress expands a payload flagged with FlagSnappy. Decoding does not depend on the
// configured strategy so stores can switch strategies between runs.
func decompress(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %w", db.ErrCorruptSegment, err)
	}
	return out, nil
}
