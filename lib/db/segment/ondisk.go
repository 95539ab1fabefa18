package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("segment")

// --------------------------------------------------------------------------
// Collection
// --------------------------------------------------------------------------

type onDiskCollection struct {
	dir    string
	files  *xsync.MapOf[uint32, *onDiskFile]
	mu     sync.Mutex // id allocation and deletion
	nextID uint32
	closed atomic.Bool
}

// NewOnDiskCollection opens (or creates) the directory dir and registers every
// "*.seg" file found in it.
func NewOnDiskCollection(dir string) (ICollection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", db.ErrIOFailure, dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", db.ErrIOFailure, dir, err)
	}

	c := &onDiskCollection{
		dir:    dir,
		files:  xsync.NewMapOf[uint32, *onDiskFile](),
		nextID: 1,
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".seg") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".seg"), 10, 32)
		if err != nil {
			Logger.Warningf("ignoring unexpected file %s in %s", name, dir)
			continue
		}
		f, err := openOnDiskFile(filepath.Join(dir, name), uint32(id), os.O_RDWR)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.files.Store(f.id, f)
		c.nextID = max(c.nextID, f.id+1)
	}
	return c, nil
}

func (c *onDiskCollection) CreateNew() (IFile, error) {
	if c.closed.Load() {
		return nil, db.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	f, err := openOnDiskFile(filepath.Join(c.dir, FileName(id)), id, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, err
	}
	c.nextID++
	c.files.Store(id, f)
	if err := syncDir(c.dir); err != nil {
		Logger.Warningf("failed to sync directory %s: %v", c.dir, err)
	}
	Logger.Debugf("created segment %d", id)
	return f, nil
}

func (c *onDiskCollection) Open(id uint32) (IFile, error) {
	if c.closed.Load() {
		return nil, db.ErrClosed
	}
	f, ok := c.files.Load(id)
	if !ok {
		return nil, ioErr("open", id, os.ErrNotExist)
	}
	return f, nil
}

func (c *onDiskCollection) Delete(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files.LoadAndDelete(id)
	if !ok {
		return ioErr("delete", id, os.ErrNotExist)
	}
	if err := f.f.Close(); err != nil {
		Logger.Warningf("failed to close segment %d before deletion: %v", id, err)
	}
	if err := os.Remove(f.path); err != nil {
		return ioErr("delete", id, err)
	}
	Logger.Debugf("deleted segment %d", id)
	return nil
}

func (c *onDiskCollection) IDs() []uint32 {
	ids := make([]uint32, 0, c.files.Size())
	c.files.Range(func(id uint32, _ *onDiskFile) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func (c *onDiskCollection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	c.files.Range(func(id uint32, f *onDiskFile) bool {
		if err := f.f.Close(); err != nil {
			errs = append(errs, ioErr("close", id, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// syncDir makes file creation durable on file systems that need it.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// --------------------------------------------------------------------------
// File
// --------------------------------------------------------------------------

type onDiskFile struct {
	id   uint32
	path string
	f    *os.File
	mu   sync.Mutex // serializes Append and Truncate
	size atomic.Int64
}

func openOnDiskFile(path string, id uint32, flag int) (*onDiskFile, error) {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, ioErr("open", id, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioErr("stat", id, err)
	}
	file := &onDiskFile{id: id, path: path, f: f}
	file.size.Store(st.Size())
	return file, nil
}

func (f *onDiskFile) ID() uint32 { return f.id }

func (f *onDiskFile) Size() int64 { return f.size.Load() }

func (f *onDiskFile) Append(p []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := f.size.Load()
	n, err := f.f.WriteAt(p, off)
	if err != nil {
		// keep the logical size where it was, the caller truncates the torn bytes
		return off, ioErr("append", f.id, err)
	}
	f.size.Store(off + int64(n))
	return off, nil
}

func (f *onDiskFile) Read(offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+int64(length) > f.size.Load() {
		return nil, rangeErr(f.id, offset, length, f.size.Load())
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *onDiskFile) ReadAt(p []byte, offset int64) (int, error) {
	n, err := f.f.ReadAt(p, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		if errors.Is(err, io.EOF) {
			return n, err
		}
		return n, ioErr("read", f.id, err)
	}
	return n, nil
}

func (f *onDiskFile) Sync() error {
	if err := f.f.Sync(); err != nil {
		return ioErr("sync", f.id, err)
	}
	return nil
}

func (f *onDiskFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.f.Truncate(size); err != nil {
		return ioErr("truncate", f.id, err)
	}
	f.size.Store(size)
	return nil
}
