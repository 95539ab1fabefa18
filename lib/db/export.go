package db

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/sKV/lib/codec"
)

const (
	exportMagic   = "SKVEXP\x00"
	exportVersion = 1
)

// Export writes every key visible in tx to w.
//
// Format: magic "SKVEXP\x00", VUInt version, then per entry VUInt(len(key)+1), key,
// VUInt(len(value)), value, terminated by VUInt(0). It returns the number of entries.
func Export(tx Tx, w io.Writer) (uint64, error) {
	bw := codec.NewStreamWriter(w, 1<<20)
	if err := bw.WriteBlock([]byte(exportMagic)); err != nil {
		return 0, err
	}
	if err := bw.WriteVUInt64(exportVersion); err != nil {
		return 0, err
	}

	it := tx.SeekRange(nil, Forward)
	defer it.Close()

	var n uint64
	for it.Next() {
		k, v := it.Key(), it.Value()
		if err := bw.WriteVUInt64(uint64(len(k)) + 1); err != nil {
			return n, err
		}
		if err := bw.WriteBlock(k); err != nil {
			return n, err
		}
		if err := bw.WriteVUInt64(uint64(len(v))); err != nil {
			return n, err
		}
		if err := bw.WriteBlock(v); err != nil {
			return n, err
		}
		n++
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	if err := bw.WriteVUInt64(0); err != nil {
		return n, err
	}
	return n, bw.Flush()
}

// Import reads an Export stream from r and stores every entry through tx. The
// caller commits. It returns the number of entries.
func Import(tx Tx, r io.Reader) (uint64, error) {
	if !tx.Writable() {
		return 0, ErrReadOnly
	}
	br := codec.NewStreamReader(r, 1<<20)

	magic := make([]byte, len(exportMagic))
	if err := br.ReadBlock(magic); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	if string(magic) != exportMagic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrInvalidExport, magic)
	}
	version, err := br.ReadVUInt64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	if version != exportVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidExport, version)
	}

	var n uint64
	for {
		kl, err := br.ReadVUInt32()
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrInvalidExport, err)
		}
		if kl == 0 {
			return n, nil
		}
		key, err := br.ReadBytes(int(kl - 1))
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrInvalidExport, err)
		}
		vl, err := br.ReadVUInt32()
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrInvalidExport, err)
		}
		value, err := br.ReadBytes(int(vl))
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrInvalidExport, err)
		}
		if err := tx.Set(key, value); err != nil {
			return n, err
		}
		n++
	}
}
