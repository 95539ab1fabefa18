package oak

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
	"github.com/ValentinKolb/sKV/lib/db/util"
)

// commitEvent is sent to the background compactor after every published write.
type commitEvent struct {
	number uint64
	bytes  int64
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// Compact rewrites the live nodes of up to CompactionBatch fragmented segments into the
// active segment and retires them. Each rewritten segment is published as its own
// commit, so a cancelled pass leaves a consistent store behind.
//
// The returned bool reports whether more segments qualified than this pass handled.
//
// Thread-safety: Compact takes the writer slot for every segment it rewrites and may
// run concurrently with transactions.
func (s *oakDB) Compact(ctx context.Context) (bool, error) {
	if s.closed.Load() {
		return false, db.ErrClosed
	}
	plan, err := s.planCompaction()
	if err != nil {
		return false, err
	}
	if len(plan) == 0 {
		s.collectRetired()
		return false, nil
	}

	batch := plan[:min(len(plan), s.opts.CompactionBatch)]
	if err := s.compactSegments(ctx, batch); err != nil {
		return true, err
	}
	return len(plan) > len(batch), nil
}

// CompactFull rewrites every segment that holds data when the call starts, regardless
// of its live ratio, and retires it. Commits published during the pass land in newer
// segments and are not rewritten.
//
// Thread-safety: like Compact.
func (s *oakDB) CompactFull(ctx context.Context) error {
	if s.closed.Load() {
		return db.ErrClosed
	}
	var plan []uint32
	for _, seg := range s.segmentStats(nil) {
		if seg.PendingDeletion || seg.SizeBytes == 0 {
			continue
		}
		plan = append(plan, seg.ID)
	}
	Logger.Infof("full compaction of store %q: rewriting %d segments", s.opts.Name, len(plan))
	if len(plan) == 0 {
		s.collectRetired()
		return nil
	}
	return s.compactSegments(ctx, plan)
}

// compactSegments rewrites the given segments in order and stops at the first error.
func (s *oakDB) compactSegments(ctx context.Context, ids []uint32) error {
	start := time.Now()
	var relocated int64
	defer func() {
		s.collectRetired()
		s.metrics.observeCompaction(relocated, time.Since(start))
	}()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		moved, err := s.compactSegment(ctx, id)
		relocated += moved
		if err != nil {
			return err
		}
	}
	return nil
}

// planCompaction returns the ids of all segments worth rewriting, lowest live ratio first.
// Segments without any live data are always included.
func (s *oakDB) planCompaction() ([]uint32, error) {
	id := s.nextTxID.Add(1)
	cur := s.pin(id)
	defer s.unpin(id)

	live, _, err := s.walkLive(cur)
	if err != nil {
		return nil, err
	}

	h := util.NewMapHeap[uint32]()
	for _, seg := range s.segmentStats(live) {
		if seg.PendingDeletion || seg.SizeBytes == 0 {
			continue
		}
		dead := live[seg.ID] == 0 && !seg.Active
		ratio := seg.LiveRatio()
		garbage := seg.SizeBytes - seg.LiveBytes
		if dead || (ratio < s.opts.CompactionThreshold && garbage >= s.opts.CompactionMinGarbage) {
			h.Upsert(seg.ID, uint64(ratio*1e6))
		}
	}

	plan := make([]uint32, 0, h.Len())
	for {
		item, ok := h.PopMin()
		if !ok {
			break
		}
		plan = append(plan, item.Key)
	}
	return plan, nil
}

// compactSegment moves everything the current root still references in segment id to
// the active segment and retires the segment. It returns the number of relocated bytes.
func (s *oakDB) compactSegment(ctx context.Context, id uint32) (int64, error) {
	if err := s.acquireWriter(ctx, true); err != nil {
		return 0, err
	}
	defer s.releaseWriter()
	if s.closed.Load() {
		return 0, db.ErrClosed
	}
	if s.poisoned != nil {
		return 0, s.poisoned
	}

	s.mu.Lock()
	_, exists := s.segments[id]
	for _, r := range s.retired {
		exists = exists && r.id != id
	}
	s.mu.Unlock()
	if !exists {
		return 0, nil
	}

	if s.active.ID() == id {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}

	cur := s.current
	owner := s.nextTxID.Add(1)
	root, moved, err := s.relocate(cur.root, id, owner)
	if err != nil {
		return 0, err
	}
	if root.IsDirty() || cur.commitLoc.Segment == id {
		if _, err := s.commitRoot(root, "compaction"); err != nil {
			return 0, err
		}
		if !s.opts.SyncOnCommit {
			// the segment is deleted later, the commit replacing it must be durable first
			if err := s.active.Sync(); err != nil {
				return moved, err
			}
		}
	}

	s.mu.Lock()
	at := s.current.number
	s.retired = append(s.retired, retiredSegment{id: id, at: at})
	s.mu.Unlock()
	Logger.Infof("compacted segment %d of store %q: relocated %d bytes, retired at commit %d", id, s.opts.Name, moved, at)
	return moved, nil
}

// relocate copies every node stored in segment seg, and all ancestors of such nodes,
// into new nodes owned by owner. Subtrees without such nodes are returned unchanged.
func (s *oakDB) relocate(ref internal.Ref, seg uint32, owner uint64) (internal.Ref, int64, error) {
	if ref.IsEmpty() {
		return ref, 0, nil
	}
	n, err := s.load(ref)
	if err != nil {
		return ref, 0, err
	}

	var moved int64
	var c *internal.Node
	if n.Kind == internal.KindInternal {
		for i, child := range n.Children {
			var nc internal.Ref
			var m int64
			if n.Level == 1 {
				// children are leaves, only load the ones that move
				if child.Loc.Segment != seg {
					continue
				}
				leaf, err := s.load(child)
				if err != nil {
					return ref, 0, err
				}
				nc, m = dirtyRef(leaf.Clone(owner)), int64(child.Size)
			} else {
				if nc, m, err = s.relocate(child, seg, owner); err != nil {
					return ref, 0, err
				}
				if !nc.IsDirty() {
					continue
				}
			}
			if c == nil {
				c = n.Clone(owner)
			}
			c.Children[i] = nc
			moved += m
		}
	}
	if ref.Loc.Segment == seg {
		moved += int64(ref.Size)
		if c == nil {
			c = n.Clone(owner)
		}
	}
	if c == nil {
		return ref, 0, nil
	}
	return dirtyRef(c), moved, nil
}

// walkLive sums the record sizes reachable from snap per segment, including its commit
// record, and returns the tree height. Leaves are accounted from their references
// without being read.
func (s *oakDB) walkLive(snap *snapshot) (map[uint32]int64, int, error) {
	live := make(map[uint32]int64)
	if !snap.commitLoc.IsZero() {
		live[snap.commitLoc.Segment] += int64(snap.commitSize)
	}
	if snap.root.IsEmpty() {
		return live, 0, nil
	}

	height := 0
	var walk func(ref internal.Ref, depth int) error
	walk = func(ref internal.Ref, depth int) error {
		live[ref.Loc.Segment] += int64(ref.Size)
		height = max(height, depth)
		n, err := s.load(ref)
		if err != nil {
			return err
		}
		if n.Kind == internal.KindLeaf {
			return nil
		}
		for _, child := range n.Children {
			if n.Level == 1 {
				live[child.Loc.Segment] += int64(child.Size)
				height = max(height, depth+1)
				continue
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(snap.root, 1); err != nil {
		return nil, 0, err
	}
	return live, height, nil
}

// --------------------------------------------------------------------------
// Background compaction
// --------------------------------------------------------------------------

// startAutoCompaction runs Compact every AutoCompactInterval as long as commits wrote
// new data since the last run. It is stopped by Close.
func (s *oakDB) startAutoCompaction() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgStop = cancel
	s.events = util.NewLockFreeMPSC[commitEvent]()
	s.bgDone.Add(1)
	go s.autoCompact(ctx)
}

func (s *oakDB) autoCompact(ctx context.Context) {
	defer s.bgDone.Done()
	ticker := time.NewTicker(s.opts.AutoCompactInterval)
	defer ticker.Stop()

	var pending int64
	for {
		select {
		case <-ctx.Done():
			s.events.Close()
			for range s.events.Recv() {
			}
			return
		case ev := <-s.events.Recv():
			pending += ev.bytes
		case <-ticker.C:
			if pending == 0 {
				continue
			}
			Logger.Debugf("background compaction of store %q after %d written bytes", s.opts.Name, pending)
			pending = 0
			for {
				more, err := s.Compact(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) && !errors.Is(err, db.ErrClosed) {
						Logger.Errorf("background compaction of store %q failed: %v", s.opts.Name, err)
					}
					break
				}
				if !more {
					break
				}
			}
		}
	}
}
