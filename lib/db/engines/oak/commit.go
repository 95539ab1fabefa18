package oak

import (
	"fmt"
	"math"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
)

// commitWriter persists the dirty part of a tree. It remembers what it wrote so a
// failed commit can be undone.
type commitWriter struct {
	s       *oakDB
	written []internal.Location
	sizes   []int
	bytes   int64

	startSegment uint32
	startGood    int64
	startRecords uint64
}

// write stores the dirty subtree below ref in post-order (children before parents) and
// returns the persisted reference. Clean references are returned unchanged.
func (w *commitWriter) write(ref internal.Ref) (internal.Ref, error) {
	if !ref.IsDirty() {
		return ref, nil
	}
	n := ref.Node
	if n.Kind == internal.KindInternal {
		for i, child := range n.Children {
			clean, err := w.write(child)
			if err != nil {
				return internal.Ref{}, err
			}
			n.Children[i] = clean
		}
	}

	kind, payload, err := internal.EncodeNode(n, w.s.strategy)
	if err != nil {
		return internal.Ref{}, err
	}
	rec := internal.AppendRecord(nil, kind, payload)
	if uint64(len(rec)) > math.MaxUint32 {
		return internal.Ref{}, fmt.Errorf("%w: node record of %d bytes", db.ErrKeyTooLarge, len(rec))
	}
	loc, err := w.s.appendRecord(rec)
	if err != nil {
		return internal.Ref{}, err
	}
	w.written = append(w.written, loc)
	w.sizes = append(w.sizes, len(rec))
	w.bytes += int64(len(rec))

	// from now on the node is shared with the snapshot being built
	n.Owner = 0
	w.s.cache.Add(loc, n)
	return internal.Ref{Loc: loc, Size: uint32(len(rec)), Count: n.Count()}, nil
}

// commitRoot writes the dirty nodes below root and a commit record, then publishes the
// resulting snapshot. Only the holder of the writer slot may call it.
func (s *oakDB) commitRoot(root internal.Ref, reason string) (*snapshot, error) {
	if s.poisoned != nil {
		return nil, s.poisoned
	}
	start := time.Now()
	w := &commitWriter{
		s:            s,
		startSegment: s.active.ID(),
		startGood:    s.activeGood,
		startRecords: s.activeRecords,
	}

	snap, err := w.commit(root)
	if err != nil {
		s.abort(w, err)
		return nil, fmt.Errorf("%s %d failed: %w", reason, s.current.number+1, err)
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.metrics.observeCommit(w, time.Since(start))
	if reason == "commit" && s.events != nil {
		s.events.Push(commitEvent{number: snap.number, bytes: w.bytes})
	}
	Logger.Debugf("%s %d published: %d keys, %d nodes, %d bytes", reason, snap.number, snap.root.Count, len(w.written), w.bytes)
	return snap, nil
}

func (w *commitWriter) commit(root internal.Ref) (*snapshot, error) {
	s := w.s
	clean, err := w.write(root)
	if err != nil {
		return nil, err
	}
	number := s.current.number + 1
	payload, err := internal.EncodeCommit(internal.CommitRecord{
		Number: number,
		Root:   clean,
		Time:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	rec := internal.AppendRecord(nil, internal.RecCommit, payload)
	loc, err := s.appendRecord(rec)
	if err != nil {
		return nil, err
	}
	w.bytes += int64(len(rec))
	if s.opts.SyncOnCommit {
		if err := s.active.Sync(); err != nil {
			return nil, err
		}
	}
	return &snapshot{root: clean, number: number, commitLoc: loc, commitSize: uint32(len(rec))}, nil
}

// abort drops everything a failed commit wrote. Records already sealed into a previous
// segment by a rotation stay behind as garbage. If the active segment cannot be cut
// back the store refuses all further writes.
func (s *oakDB) abort(w *commitWriter, cause error) {
	for _, loc := range w.written {
		s.cache.Remove(loc)
	}
	good, records := w.startGood, w.startRecords
	if s.active.ID() != w.startSegment {
		good, records = s.activeOverhead, 1
	}
	if err := s.active.Truncate(good); err != nil {
		s.poisoned = fmt.Errorf("%w: segment %d could not be restored after a failed commit (%v): %w",
			db.ErrIOFailure, s.active.ID(), cause, err)
		Logger.Errorf("store %q is read-only from now on: %v", s.opts.Name, s.poisoned)
		return
	}
	s.activeGood = good
	s.activeRecords = records
	Logger.Warningf("commit of store %q rolled back: %v", s.opts.Name, cause)
}
