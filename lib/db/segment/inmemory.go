package segment

import (
	"io"
	"os"
	"slices"
	"sync"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

type memCollection struct {
	files  *xsync.MapOf[uint32, *memFile]
	mu     sync.Mutex
	nextID uint32
}

// NewInMemoryCollection creates an empty collection kept entirely in memory.
func NewInMemoryCollection() ICollection {
	return &memCollection{files: xsync.NewMapOf[uint32, *memFile](), nextID: 1}
}

func (c *memCollection) CreateNew() (IFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &memFile{id: c.nextID}
	c.nextID++
	c.files.Store(f.id, f)
	return f, nil
}

func (c *memCollection) Open(id uint32) (IFile, error) {
	f, ok := c.files.Load(id)
	if !ok {
		return nil, ioErr("open", id, os.ErrNotExist)
	}
	return f, nil
}

func (c *memCollection) Delete(id uint32) error {
	if _, ok := c.files.LoadAndDelete(id); !ok {
		return ioErr("delete", id, os.ErrNotExist)
	}
	return nil
}

func (c *memCollection) IDs() []uint32 {
	ids := make([]uint32, 0, c.files.Size())
	c.files.Range(func(id uint32, _ *memFile) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Close keeps the content so a test can reopen an engine on the same collection.
func (c *memCollection) Close() error { return nil }

type memFile struct {
	id   uint32
	mu   sync.RWMutex
	data []byte
}

func (f *memFile) ID() uint32 { return f.id }

func (f *memFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data))
}

func (f *memFile) Append(p []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := int64(len(f.data))
	f.data = append(f.data, p...)
	return off, nil
}

func (f *memFile) Read(offset int64, length int) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if offset < 0 || length < 0 || offset+int64(length) > int64(len(f.data)) {
		return nil, rangeErr(f.id, offset, length, int64(len(f.data)))
	}
	return slices.Clone(f.data[offset : offset+int64(length)]), nil
}

func (f *memFile) ReadAt(p []byte, offset int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if offset >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Sync() error { return nil }

func (f *memFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size < 0 || size > int64(len(f.data)) {
		return ioErr("truncate", f.id, db.ErrCorruptSegment)
	}
	f.data = f.data[:size:size]
	return nil
}
