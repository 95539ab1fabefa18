package oak

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
	"github.com/ValentinKolb/sKV/lib/db/segment"
	"github.com/google/uuid"
)

// foundCommit is a commit record found while scanning.
type foundCommit struct {
	rec  internal.CommitRecord
	loc  internal.Location
	size uint32
}

// segmentScan is the result of reading one segment from start to end.
type segmentScan struct {
	file     segment.IFile
	good     int64
	records  uint64
	overhead int64
	header   bool
	sealed   bool
	commits  []foundCommit
	damage   error
}

// recover rebuilds the in-memory state from the segment collection: it validates all
// records, cuts off corrupt tails and publishes the newest commit whose tree is intact.
func (s *oakDB) recover() error {
	ids := s.coll.IDs()
	if len(ids) == 0 {
		s.storeID = uuid.New()
		s.current = &snapshot{}
		if err := s.createSegment(); err != nil {
			return err
		}
		Logger.Infof("initialized new store %s", s.storeID)
		return nil
	}

	valid := make(map[uint32]int64, len(ids))
	var commits []foundCommit
	var last *segmentScan
	for i, id := range ids {
		f, err := s.coll.Open(id)
		if err != nil {
			return err
		}
		sc, err := s.scanSegment(f)
		if err != nil {
			return err
		}
		if sc.damage != nil {
			Logger.Warningf("segment %d: discarding %d bytes after offset %d: %v", id, f.Size()-sc.good, sc.good, sc.damage)
			// a segment without header is left alone unless it is the tail of the store
			if sc.header || i == len(ids)-1 {
				if err := f.Truncate(sc.good); err != nil {
					return err
				}
			}
		}
		valid[id] = sc.good
		s.segments[id] = &segMeta{overhead: sc.overhead, sealed: sc.sealed}
		commits = append(commits, sc.commits...)
		last = sc
	}
	if s.storeID == uuid.Nil {
		s.storeID = uuid.New()
	}

	if err := s.chooseCommit(commits, valid); err != nil {
		return err
	}

	switch {
	case !last.header:
		// the segment was created but its header never made it to disk
		if err := s.writeHeader(last.file); err != nil {
			return err
		}
	case last.sealed:
		if err := s.createSegment(); err != nil {
			return err
		}
	default:
		s.setActive(last.file, last.overhead, last.records)
	}
	return nil
}

// chooseCommit publishes the newest commit whose tree only references intact records.
func (s *oakDB) chooseCommit(commits []foundCommit, valid map[uint32]int64) error {
	s.current = &snapshot{}
	if len(commits) == 0 {
		return nil
	}
	// newest first; for equal numbers the later record wins
	slices.SortFunc(commits, func(a, b foundCommit) int {
		if a.rec.Number != b.rec.Number {
			return cmpDesc(a.rec.Number, b.rec.Number)
		}
		if a.loc.Segment != b.loc.Segment {
			return cmpDesc(a.loc.Segment, b.loc.Segment)
		}
		return cmpDesc(a.loc.Offset, b.loc.Offset)
	})

	for i, c := range commits {
		err := s.verifyTree(c.rec.Root, valid)
		if err == nil {
			if i > 0 {
				Logger.Warningf("recovered store from commit %d, %d newer commits are damaged", c.rec.Number, i)
			}
			s.current = &snapshot{root: c.rec.Root, number: c.rec.Number, commitLoc: c.loc, commitSize: c.size}
			return nil
		}
		Logger.Warningf("commit %d (segment %d offset %d) is not usable: %v", c.rec.Number, c.loc.Segment, c.loc.Offset, err)
		s.cache.Purge()
	}
	return fmt.Errorf("%w: none of %d commit records references an intact tree", db.ErrCorruptSegment, len(commits))
}

func cmpDesc[T uint32 | uint64](a, b T) int {
	if a > b {
		return -1
	}
	if a < b {
		return 1
	}
	return 0
}

// verifyTree checks that every reference below root lies inside the intact part of an
// existing segment. Internal nodes are decoded, leaves were checksummed by the scan.
func (s *oakDB) verifyTree(root internal.Ref, valid map[uint32]int64) error {
	if root.IsEmpty() {
		return nil
	}
	end, ok := valid[root.Loc.Segment]
	if !ok {
		return fmt.Errorf("%w: reference to missing segment %d", db.ErrCorruptSegment, root.Loc.Segment)
	}
	if root.Loc.Offset+uint64(root.Size) > uint64(end) {
		return fmt.Errorf("%w: reference to segment %d offset %d beyond intact length %d",
			db.ErrCorruptSegment, root.Loc.Segment, root.Loc.Offset, end)
	}
	n, err := s.load(root)
	if err != nil {
		return err
	}
	if n.Kind == internal.KindLeaf {
		return nil
	}
	for _, child := range n.Children {
		if err := s.verifyTree(child, valid); err != nil {
			return err
		}
	}
	return nil
}

// scanSegment reads every record of f. Structural damage ends the scan and is reported
// in damage; only I/O failures are returned as error.
func (s *oakDB) scanSegment(f segment.IFile) (*segmentScan, error) {
	sc := &segmentScan{file: f}
	size := f.Size()
	for sc.good < size && !sc.sealed {
		off := sc.good
		head, err := f.Read(off, int(min(int64(internal.MaxRecordHeader), size-off)))
		if err != nil {
			return nil, err
		}
		total, err := internal.RecordLength(head)
		if err == nil && off+int64(total) > size {
			err = internal.ErrTruncatedRecord
		}
		if err != nil {
			sc.damage = err
			return sc, nil
		}
		buf, err := f.Read(off, total)
		if err != nil {
			return nil, err
		}
		kind, payload, _, err := internal.ParseRecord(buf)
		if err == nil {
			err = s.scanRecord(sc, kind, payload, internal.Location{Segment: f.ID(), Offset: uint64(off)}, total)
		}
		if err != nil {
			if isForeign(err) {
				return nil, err
			}
			sc.damage = err
			return sc, nil
		}
		sc.good = off + int64(total)
		sc.records++
	}
	if sc.sealed && sc.good < size {
		sc.damage = fmt.Errorf("%w: data after trailer", db.ErrCorruptSegment)
	}
	if size == 0 {
		sc.damage = fmt.Errorf("%w: empty segment", db.ErrCorruptSegment)
	}
	return sc, nil
}

var errForeignSegment = errors.New("segment belongs to a different store")

func isForeign(err error) bool {
	return errors.Is(err, errForeignSegment)
}

func (s *oakDB) scanRecord(sc *segmentScan, kind internal.RecordKind, payload []byte, loc internal.Location, total int) error {
	if !sc.header {
		if kind != internal.RecHeader {
			return fmt.Errorf("%w: segment does not start with a header", db.ErrCorruptSegment)
		}
		h, err := internal.DecodeHeader(payload)
		if err != nil {
			return err
		}
		if h.SegmentID != loc.Segment {
			return fmt.Errorf("%w: header names segment %d", db.ErrCorruptSegment, h.SegmentID)
		}
		switch s.storeID {
		case uuid.Nil:
			s.storeID = h.StoreID
		case h.StoreID:
		default:
			return fmt.Errorf("%w: segment %d has store id %s, expected %s", errForeignSegment, loc.Segment, h.StoreID, s.storeID)
		}
		sc.header = true
		sc.overhead = int64(total)
		return nil
	}

	switch kind.Base() {
	case internal.RecCommit:
		c, err := internal.DecodeCommit(payload)
		if err != nil {
			return err
		}
		sc.commits = append(sc.commits, foundCommit{rec: c, loc: loc, size: uint32(total)})
	case internal.RecTrailer:
		if _, err := internal.DecodeTrailer(payload); err != nil {
			return err
		}
		sc.sealed = true
		sc.overhead += int64(total)
	case internal.RecHeader:
		return fmt.Errorf("%w: unexpected header record", db.ErrCorruptSegment)
	}
	return nil
}
