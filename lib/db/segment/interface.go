package segment

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
)

// ICollection is a set of segment files addressed by id.
type ICollection interface {
	// CreateNew creates an empty file with an id larger than every id used before.
	CreateNew() (IFile, error)

	// Open returns the file with the given id.
	Open(id uint32) (IFile, error)

	// Delete removes the file permanently.
	Delete(id uint32) error

	// IDs lists all existing ids in ascending order.
	IDs() []uint32

	// Close closes all files. The collection is unusable afterwards.
	Close() error
}

// IFile is one append-only segment file.
type IFile interface {
	ID() uint32

	// Append writes p at the end of the file and returns the offset it was written at.
	Append(p []byte) (offset int64, err error)

	// Read returns length bytes starting at offset. Reading beyond Size fails.
	Read(offset int64, length int) ([]byte, error)

	// ReadAt implements io.ReaderAt.
	ReadAt(p []byte, offset int64) (int, error)

	// Size returns the current length of the file.
	Size() int64

	// Sync makes all appended bytes durable.
	Sync() error

	// Truncate cuts the file to size, discarding a torn or rejected tail.
	Truncate(size int64) error
}

// FileName returns the on-disk name of a segment.
func FileName(id uint32) string {
	return fmt.Sprintf("%08d.seg", id)
}

func ioErr(op string, id uint32, err error) error {
	return fmt.Errorf("%w: segment %d: %s: %w", db.ErrIOFailure, id, op, err)
}

func rangeErr(id uint32, offset int64, length int, size int64) error {
	return fmt.Errorf("%w: segment %d: read [%d,%d) beyond size %d", db.ErrCorruptSegment, id, offset, offset+int64(length), size)
}
