package oak

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
	"github.com/ValentinKolb/sKV/lib/db/segment"
	"github.com/ValentinKolb/sKV/lib/db/util"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("oak")

// closeWait bounds how long Close waits for an active write transaction.
const closeWait = 5 * time.Second

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// snapshot is a published state of the store. Snapshots are immutable.
type snapshot struct {
	root       internal.Ref
	number     uint64
	commitLoc  internal.Location
	commitSize uint32
}

// segMeta tracks bookkeeping bytes of a segment that count as live.
type segMeta struct {
	overhead int64
	sealed   bool
}

// retiredSegment is a compacted segment waiting for all older snapshots to close.
type retiredSegment struct {
	id uint32
	at uint64
}

// oakDB implements db.KVDB on a copy-on-write B+tree persisted in append-only segments.
//
// Locking:
//   - writeSlot (capacity 1) is held by the single writer: a write transaction, a
//     compaction step or Close. Only its holder appends to segments and publishes.
//   - mu guards current, active, segments and retired. It is only held for short
//     bookkeeping sections, never while doing I/O on the tree.
//   - pins maps open transaction ids to the commit number they read from.
type oakDB struct {
	opts     *Options
	coll     segment.ICollection
	ownsColl bool
	storeID  uuid.UUID
	strategy internal.ICompressionStrategy

	cache *lru.Cache

	writeSlot chan struct{}

	mu       sync.Mutex
	current  *snapshot
	active   segment.IFile
	segments map[uint32]*segMeta
	retired  []retiredSegment

	// owned by the writeSlot holder
	activeGood     int64
	activeRecords  uint64
	activeOverhead int64
	poisoned       error

	pins     *xsync.MapOf[uint64, uint64]
	nextTxID atomic.Uint64

	metrics *engineMetrics

	events *util.LockFreeMPSC[commitEvent]
	bgStop context.CancelFunc
	bgDone sync.WaitGroup
	closed atomic.Bool
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open opens the store persisted in coll, recovering the last intact commit. An empty
// collection is initialized as a new store. The collection stays owned by the caller.
func Open(coll segment.ICollection, opts *Options) (db.KVDB, error) {
	s, err := open(coll, opts, false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDir opens the store in directory dir, creating it if necessary.
func OpenDir(dir string, opts *Options) (db.KVDB, error) {
	coll, err := segment.NewOnDiskCollection(dir)
	if err != nil {
		return nil, err
	}
	s, err := open(coll, opts, true)
	if err != nil {
		_ = coll.Close()
		return nil, err
	}
	return s, nil
}

func open(coll segment.ICollection, opts *Options, owns bool) (*oakDB, error) {
	o := opts.norm()
	cache, err := lru.New(o.NodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create node cache: %w", err)
	}

	s := &oakDB{
		opts:      o,
		coll:      coll,
		ownsColl:  owns,
		strategy:  o.Compression.strategy(),
		cache:     cache,
		writeSlot: make(chan struct{}, 1),
		segments:  make(map[uint32]*segMeta),
		pins:      xsync.NewMapOf[uint64, uint64](),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	s.metrics = newEngineMetrics(s)

	if o.AutoCompactInterval > 0 {
		s.startAutoCompaction()
	}

	Logger.Infof("opened store %q at commit %d with %d keys (%d segments, writer policy %v, compression %v)",
		o.Name, s.current.number, s.current.root.Count, len(coll.IDs()), o.WriterPolicy, o.Compression)
	return s, nil
}

// Close stops background compaction, waits (bounded) for an active writer and
// releases the node cache. Open transactions fail with db.ErrClosed afterwards.
func (s *oakDB) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.bgStop != nil {
		s.bgStop()
		s.bgDone.Wait()
	}

	select {
	case s.writeSlot <- struct{}{}:
	case <-time.After(closeWait):
		Logger.Warningf("closing store %q while a write transaction is still active", s.opts.Name)
	}

	var err error
	if s.active != nil {
		if serr := s.active.Sync(); serr != nil {
			err = serr
		}
	}
	s.metrics.unregister()
	s.cache.Purge()
	if s.ownsColl {
		if cerr := s.coll.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	Logger.Infof("closed store %q at commit %d", s.opts.Name, s.current.number)
	return err
}

// WritePrometheus writes the store's metrics in Prometheus text format.
func (s *oakDB) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Writer slot and snapshot pins
// --------------------------------------------------------------------------

// acquireWriter takes the writer slot. With block == false it fails immediately
// when the slot is taken.
func (s *oakDB) acquireWriter(ctx context.Context, block bool) error {
	select {
	case s.writeSlot <- struct{}{}:
		return nil
	default:
	}
	if !block {
		s.metrics.conflicts.Inc()
		return db.ErrTransactionConflict
	}
	select {
	case s.writeSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *oakDB) releaseWriter() {
	<-s.writeSlot
}

// pin registers a transaction on the current snapshot. Registration happens under mu
// so that collectRetired never misses a reader of a snapshot it is about to outlive.
func (s *oakDB) pin(id uint64) *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	s.pins.Store(id, snap.number)
	return snap
}

func (s *oakDB) unpin(id uint64) {
	s.pins.Delete(id)
}

// collectRetired deletes retired segments no open transaction can still read.
func (s *oakDB) collectRetired() {
	s.mu.Lock()
	if len(s.retired) == 0 {
		s.mu.Unlock()
		return
	}
	oldest := s.current.number
	s.pins.Range(func(_ uint64, n uint64) bool {
		oldest = min(oldest, n)
		return true
	})
	var drop []uint32
	keep := s.retired[:0]
	for _, r := range s.retired {
		if r.at <= oldest {
			drop = append(drop, r.id)
			delete(s.segments, r.id)
		} else {
			keep = append(keep, r)
		}
	}
	s.retired = keep
	s.mu.Unlock()

	for _, id := range drop {
		if err := s.coll.Delete(id); err != nil {
			Logger.Errorf("failed to delete retired segment %d: %v", id, err)
			continue
		}
		s.metrics.deletedSegments.Inc()
		Logger.Infof("deleted segment %d of store %q", id, s.opts.Name)
	}
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

func (s *oakDB) Stats() (db.Stats, error) {
	if s.closed.Load() {
		return db.Stats{}, db.ErrClosed
	}
	id := s.nextTxID.Add(1)
	cur := s.pin(id)
	defer s.unpin(id)

	live, height, err := s.walkLive(cur)
	if err != nil {
		return db.Stats{}, err
	}
	segs := s.segmentStats(live)

	st := db.Stats{
		DbType:           db.ImplOak,
		CommitNumber:     cur.number,
		KeyCount:         cur.root.Count,
		TreeHeight:       height,
		SegmentCount:     len(segs),
		OpenTransactions: s.pins.Size() - 1,
		WriterActive:     len(s.writeSlot) > 0,
		Segments:         segs,
		NodeSizes:        s.metrics.nodeSizes.Summary(),
		Commits:          s.metrics.commitMeter.Count(),
		CommitRate1m:     s.metrics.commitMeter.Rate1(),
		Compactions:      s.metrics.compactionTimer.Count(),
		CompactionMean:   time.Duration(s.metrics.compactionTimer.Mean()),
		RelocatedBytes:   int64(s.metrics.relocatedBytes.Get()),
		DeletedSegments:  int64(s.metrics.deletedSegments.Get()),
	}
	sizes := make([]float64, 0, len(segs))
	for _, seg := range segs {
		st.TotalBytes += seg.SizeBytes
		st.LiveBytes += seg.LiveBytes
		if seg.PendingDeletion {
			st.PendingDeletion++
		}
		sizes = append(sizes, float64(seg.SizeBytes))
	}
	st.SegmentDistribution = util.NewDistributionStats(sizes)
	return st, nil
}

// segmentStats combines file sizes with the live byte counts of walkLive.
func (s *oakDB) segmentStats(live map[uint32]int64) []db.SegmentStats {
	s.mu.Lock()
	activeID := uint32(0)
	if s.active != nil {
		activeID = s.active.ID()
	}
	overhead := make(map[uint32]int64, len(s.segments))
	for id, m := range s.segments {
		overhead[id] = m.overhead
	}
	pending := make(map[uint32]bool, len(s.retired))
	for _, r := range s.retired {
		pending[r.id] = true
	}
	s.mu.Unlock()

	ids := s.coll.IDs()
	out := make([]db.SegmentStats, 0, len(ids))
	for _, id := range ids {
		f, err := s.coll.Open(id)
		if err != nil {
			continue
		}
		size := f.Size()
		lb := live[id] + overhead[id]
		if pending[id] {
			lb = 0
		}
		out = append(out, db.SegmentStats{
			ID:              id,
			SizeBytes:       size,
			LiveBytes:       min(lb, size),
			Active:          id == activeID,
			PendingDeletion: pending[id],
		})
	}
	return out
}
