package oak

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
	"github.com/ValentinKolb/sKV/lib/db/segment"
)

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// readRecord reads and validates the record of the given size at loc.
func (s *oakDB) readRecord(loc internal.Location, size uint32) (internal.RecordKind, []byte, error) {
	f, err := s.coll.Open(loc.Segment)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reference to missing segment %d", db.ErrCorruptSegment, loc.Segment)
	}
	buf, err := f.Read(int64(loc.Offset), int(size))
	if err != nil {
		return 0, nil, err
	}
	kind, payload, n, err := internal.ParseRecord(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("segment %d offset %d: %w", loc.Segment, loc.Offset, err)
	}
	if n != int(size) {
		return 0, nil, fmt.Errorf("%w: segment %d offset %d: record size %d, expected %d",
			db.ErrCorruptSegment, loc.Segment, loc.Offset, n, size)
	}
	return kind, payload, nil
}

// load returns the node behind ref, from the ref itself, the cache or the segment.
func (s *oakDB) load(ref internal.Ref) (*internal.Node, error) {
	if ref.Node != nil {
		return ref.Node, nil
	}
	if ref.Loc.IsZero() {
		return nil, fmt.Errorf("%w: empty node reference", db.ErrCorruptSegment)
	}
	if v, ok := s.cache.Get(ref.Loc); ok {
		return v.(*internal.Node), nil
	}
	kind, payload, err := s.readRecord(ref.Loc, ref.Size)
	if err != nil {
		return nil, err
	}
	n, err := internal.DecodeNode(kind, payload)
	if err != nil {
		return nil, fmt.Errorf("segment %d offset %d: %w", ref.Loc.Segment, ref.Loc.Offset, err)
	}
	s.cache.Add(ref.Loc, n)
	return n, nil
}

// --------------------------------------------------------------------------
// Writing (writer slot holder only)
// --------------------------------------------------------------------------

// appendRecord writes a framed record to the active segment, sealing it first if the
// record would push it past MaxSegmentSize.
func (s *oakDB) appendRecord(rec []byte) (internal.Location, error) {
	if s.active.Size()+int64(len(rec)) > s.opts.MaxSegmentSize && s.active.Size() > s.activeOverhead {
		if err := s.rotate(); err != nil {
			return internal.Location{}, err
		}
	}
	off, err := s.active.Append(rec)
	if err != nil {
		return internal.Location{}, err
	}
	s.activeGood = off + int64(len(rec))
	s.activeRecords++
	s.metrics.bytesWritten.Add(len(rec))
	return internal.Location{Segment: s.active.ID(), Offset: uint64(off)}, nil
}

// rotate seals the active segment with a trailer and starts a new one.
func (s *oakDB) rotate() error {
	old := s.active
	payload, err := internal.EncodeTrailer(internal.SegmentTrailer{
		ValidLength: uint64(old.Size()),
		Records:     s.activeRecords,
	})
	if err != nil {
		return err
	}
	rec := internal.AppendRecord(nil, internal.RecTrailer, payload)
	if _, err := old.Append(rec); err != nil {
		return err
	}
	if err := old.Sync(); err != nil {
		return err
	}

	s.mu.Lock()
	if m := s.segments[old.ID()]; m != nil {
		m.overhead += int64(len(rec))
		m.sealed = true
	}
	s.mu.Unlock()

	if err := s.createSegment(); err != nil {
		return err
	}
	Logger.Infof("sealed segment %d (%d bytes), active segment is now %d", old.ID(), old.Size(), s.active.ID())
	return nil
}

// createSegment creates a new active segment and writes its header.
func (s *oakDB) createSegment() error {
	f, err := s.coll.CreateNew()
	if err != nil {
		return err
	}
	return s.writeHeader(f)
}

// writeHeader (re)initializes f as an empty active segment.
func (s *oakDB) writeHeader(f segment.IFile) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	payload, err := internal.EncodeHeader(internal.SegmentHeader{
		Version:   internal.FormatVersion,
		SegmentID: f.ID(),
		StoreID:   s.storeID,
	})
	if err != nil {
		return err
	}
	rec := internal.AppendRecord(nil, internal.RecHeader, payload)
	if _, err := f.Append(rec); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	s.setActive(f, int64(len(rec)), 1)
	return nil
}

// setActive installs f as the segment new records are appended to.
func (s *oakDB) setActive(f segment.IFile, overhead int64, records uint64) {
	s.mu.Lock()
	s.active = f
	if m := s.segments[f.ID()]; m != nil {
		m.overhead = overhead
	} else {
		s.segments[f.ID()] = &segMeta{overhead: overhead}
	}
	s.mu.Unlock()
	s.activeGood = f.Size()
	s.activeOverhead = overhead
	s.activeRecords = records
}
