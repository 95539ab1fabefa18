package oak

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
	"github.com/ValentinKolb/sKV/lib/db/segment"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func openTest(t *testing.T, coll segment.ICollection, opts *Options) *oakDB {
	t.Helper()
	s, err := open(coll, opts, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *oakDB, kv ...string) {
	t.Helper()
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, tx.Set([]byte(kv[i]), []byte(kv[i+1])))
	}
	require.NoError(t, tx.Commit())
}

func dump(t *testing.T, s *oakDB) map[string]string {
	t.Helper()
	tx, err := s.Begin(context.Background(), false)
	require.NoError(t, err)
	defer tx.Rollback()
	return dumpTx(t, tx)
}

func dumpTx(t *testing.T, tx db.Tx) map[string]string {
	t.Helper()
	out := map[string]string{}
	it := tx.SeekRange(nil, db.Forward)
	defer it.Close()
	for it.Next() {
		out[string(it.Key())] = string(it.Value())
	}
	require.NoError(t, it.Err())
	return out
}

// churn writes rounds of overwrites and deletes to create garbage.
func churn(t *testing.T, s *oakDB, seed int64, rounds, keys int) map[string]string {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	expected := map[string]string{}
	for r := 0; r < rounds; r++ {
		tx, err := s.Begin(context.Background(), true)
		require.NoError(t, err)
		for j := 0; j < keys/2; j++ {
			k := fmt.Sprintf("k%05d", rnd.Intn(keys))
			if rnd.Intn(5) == 0 {
				_, err := tx.Delete([]byte(k))
				require.NoError(t, err)
				delete(expected, k)
				continue
			}
			v := fmt.Sprintf("v%d-%s", r, k)
			require.NoError(t, tx.Set([]byte(k), []byte(v)))
			expected[k] = v
		}
		require.NoError(t, tx.Commit())
	}
	return expected
}

func compactAll(t *testing.T, s *oakDB) {
	t.Helper()
	for i := 0; i < 200; i++ {
		more, err := s.Compact(context.Background())
		require.NoError(t, err)
		if !more {
			return
		}
	}
	t.Fatal("compaction did not settle")
}

// checkTree verifies ordering, separator keys, counts, levels and node bounds below ref.
func checkTree(t *testing.T, s *oakDB, ref internal.Ref, isRoot bool) (min, max []byte, count uint64, level uint8) {
	t.Helper()
	n, err := s.load(ref)
	require.NoError(t, err)

	if n.Kind == internal.KindLeaf {
		for i := 1; i < n.Len(); i++ {
			require.Less(t, bytes.Compare(n.Keys[i-1], n.Keys[i]), 0, "leaf keys out of order")
		}
		require.LessOrEqual(t, n.Len(), s.opts.MaxLeafEntries)
		if n.Len() == 0 {
			return nil, nil, 0, 0
		}
		return n.MinKey(), n.Keys[n.Len()-1], uint64(n.Len()), 0
	}

	require.Equal(t, len(n.Keys), len(n.Children))
	require.LessOrEqual(t, n.Len(), s.opts.MaxInternalChildren)
	if isRoot {
		require.GreaterOrEqual(t, n.Len(), 2, "internal root with a single child")
	}
	var prevMax []byte
	for i, child := range n.Children {
		cmin, cmax, c, lvl := checkTree(t, s, child, false)
		require.Equal(t, n.Level-1, lvl, "child level")
		require.Equal(t, c, child.Count, "reference key count")
		count += c
		if c == 0 {
			continue
		}
		require.Equal(t, n.Keys[i], cmin, "separator is not the child's minimum")
		if prevMax != nil {
			require.Less(t, bytes.Compare(prevMax, cmin), 0, "children overlap")
		}
		if min == nil {
			min = cmin
		}
		prevMax, max = cmax, cmax
	}
	return min, max, count, n.Level
}

var errInjected = errors.New("injected failure")

// faultyCollection fails appends, truncations or reads on demand.
type faultyCollection struct {
	segment.ICollection
	failAppend   atomic.Bool
	failTruncate atomic.Bool
	failRead     atomic.Bool
}

type faultyFile struct {
	segment.IFile
	c *faultyCollection
}

func (c *faultyCollection) CreateNew() (segment.IFile, error) {
	f, err := c.ICollection.CreateNew()
	if err != nil {
		return nil, err
	}
	return &faultyFile{IFile: f, c: c}, nil
}

func (c *faultyCollection) Open(id uint32) (segment.IFile, error) {
	f, err := c.ICollection.Open(id)
	if err != nil {
		return nil, err
	}
	return &faultyFile{IFile: f, c: c}, nil
}

func (f *faultyFile) Append(p []byte) (int64, error) {
	if f.c.failAppend.Load() {
		return 0, errInjected
	}
	return f.IFile.Append(p)
}

func (f *faultyFile) Read(offset int64, length int) ([]byte, error) {
	if f.c.failRead.Load() {
		return nil, errInjected
	}
	return f.IFile.Read(offset, length)
}

func (f *faultyFile) Truncate(size int64) error {
	if f.c.failTruncate.Load() {
		return errInjected
	}
	return f.IFile.Truncate(size)
}

// rewrite replaces the content of segment id from offset on with tail.
func rewrite(t *testing.T, coll segment.ICollection, id uint32, offset int64, tail []byte) {
	t.Helper()
	f, err := coll.Open(id)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(offset))
	_, err = f.Append(tail)
	require.NoError(t, err)
}

func lastSegment(coll segment.ICollection) uint32 {
	ids := coll.IDs()
	return ids[len(ids)-1]
}

// --------------------------------------------------------------------------
// Tree
// --------------------------------------------------------------------------

func TestTreeStructure(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	rnd := rand.New(rand.NewSource(1))
	live := map[string]bool{}

	for round := 0; round < 30; round++ {
		wtx, err := s.Begin(context.Background(), true)
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			k := fmt.Sprintf("%04d", rnd.Intn(800))
			if rnd.Intn(3) == 0 {
				_, err := wtx.Delete([]byte(k))
				require.NoError(t, err)
				delete(live, k)
			} else {
				require.NoError(t, wtx.Set([]byte(k), bytes.Repeat([]byte{'v'}, rnd.Intn(60))))
				live[k] = true
			}
		}
		// the uncommitted tree must already be valid
		root := wtx.(*tx).root
		if !root.IsEmpty() {
			_, _, count, _ := checkTree(t, s, root, true)
			require.Equal(t, uint64(len(live)), count)
		}
		require.NoError(t, wtx.Commit())

		cur := s.current
		if !cur.root.IsEmpty() {
			_, _, count, _ := checkTree(t, s, cur.root, true)
			require.Equal(t, uint64(len(live)), count)
			require.Equal(t, count, cur.root.Count)
		}
	}
}

func TestCopyOnWriteSharesSubtrees(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tx.Set([]byte(fmt.Sprintf("%04d", i)), []byte("v")))
	}
	require.NoError(t, tx.Commit())

	before := s.current
	put(t, s, "0250", "changed")
	after := s.current

	oldRoot, err := s.load(before.root)
	require.NoError(t, err)
	newRoot, err := s.load(after.root)
	require.NoError(t, err)

	// exactly one child of the root was copied
	require.Equal(t, len(oldRoot.Children), len(newRoot.Children))
	changed := 0
	for i := range oldRoot.Children {
		if oldRoot.Children[i].Loc != newRoot.Children[i].Loc {
			changed++
		}
	}
	assert.Equal(t, 1, changed)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func TestIteratorIgnoresLaterWritesOfItsTransaction(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	put(t, s, "0000", "committed")

	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	expected := map[string]string{"0000": "committed"}
	for i := 1; i < 100; i++ {
		k := fmt.Sprintf("%04d", i)
		require.NoError(t, tx.Set([]byte(k), []byte("v")))
		expected[k] = "v"
	}

	it := tx.SeekRange(nil, db.Forward)
	defer it.Close()
	require.True(t, it.Next())
	seen := map[string]string{string(it.Key()): string(it.Value())}

	// overwrite, delete and insert into leaves the iterator still has to visit
	require.NoError(t, tx.Set([]byte("0050"), []byte("changed")))
	_, err = tx.Delete([]byte("0070"))
	require.NoError(t, err)
	require.NoError(t, tx.Set([]byte("0080a"), []byte("new")))
	for i := 0; i < 30; i++ {
		_, err = tx.Delete([]byte(fmt.Sprintf("%04d", 10+i)))
		require.NoError(t, err)
	}

	for it.Next() {
		seen[string(it.Key())] = string(it.Value())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, expected, seen)

	value, _, err := tx.Get([]byte("0050"))
	require.NoError(t, err)
	assert.Equal(t, []byte("changed"), value)
	require.NoError(t, tx.Commit())

	final := dump(t, s)
	assert.Equal(t, "changed", final["0050"])
	assert.Equal(t, "new", final["0080a"])
	assert.NotContains(t, final, "0070")
	assert.Len(t, final, 100-1-30+1)
}

func TestWriterPolicy(t *testing.T) {
	t.Run("FailFast", func(t *testing.T) {
		opts := smallOptions()
		opts.WriterPolicy = WriterFailFast
		s := openTest(t, segment.NewInMemoryCollection(), opts)

		first, err := s.Begin(context.Background(), true)
		require.NoError(t, err)
		_, err = s.Begin(context.Background(), true)
		assert.ErrorIs(t, err, db.ErrTransactionConflict)
		assert.Equal(t, uint64(1), s.metrics.conflicts.Get())
		require.NoError(t, first.Rollback())

		second, err := s.Begin(context.Background(), true)
		require.NoError(t, err)
		require.NoError(t, second.Rollback())
	})

	t.Run("Block", func(t *testing.T) {
		s := openTest(t, segment.NewInMemoryCollection(), smallOptions())

		first, err := s.Begin(context.Background(), true)
		require.NoError(t, err)
		require.NoError(t, first.Set([]byte("k"), []byte("first")))

		got := make(chan db.Tx)
		go func() {
			tx, err := s.Begin(context.Background(), true)
			if err != nil {
				close(got)
				return
			}
			got <- tx
		}()

		select {
		case <-got:
			t.Fatal("second writer started while the first is active")
		case <-time.After(50 * time.Millisecond):
		}
		require.NoError(t, first.Commit())

		second, ok := <-got
		require.True(t, ok)
		// the second writer sees the first one's commit
		v, _, err := second.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, "first", string(v))
		require.NoError(t, second.Rollback())
	})
}

func TestKeyTooLarge(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	defer tx.Rollback()
	err = tx.Set(bytes.Repeat([]byte{'k'}, s.opts.maxKeySize()+1), []byte("v"))
	assert.ErrorIs(t, err, db.ErrKeyTooLarge)
	require.NoError(t, tx.Set(bytes.Repeat([]byte{'k'}, s.opts.maxKeySize()), []byte("v")))
}

func TestClosed(t *testing.T) {
	s, err := open(segment.NewInMemoryCollection(), smallOptions(), false)
	require.NoError(t, err)
	reader, err := s.Begin(context.Background(), false)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Begin(context.Background(), false)
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = s.Compact(context.Background())
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = s.Stats()
	assert.ErrorIs(t, err, db.ErrClosed)
	_, _, err = reader.Get([]byte("k"))
	assert.ErrorIs(t, err, db.ErrClosed)
}

func TestCommitNumbers(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	for i := 1; i <= 5; i++ {
		put(t, s, "k", fmt.Sprint(i))
		assert.Equal(t, uint64(i), s.current.number)
	}
}

// --------------------------------------------------------------------------
// Commit failures
// --------------------------------------------------------------------------

func TestCommitFailureRollsBack(t *testing.T) {
	coll := &faultyCollection{ICollection: segment.NewInMemoryCollection()}
	s := openTest(t, coll, smallOptions())
	put(t, s, "a", "1")
	size := s.active.Size()

	coll.failAppend.Store(true)
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, tx.Set([]byte("b"), []byte("2")))
	err = tx.Commit()
	require.ErrorIs(t, err, errInjected)
	coll.failAppend.Store(false)

	assert.Equal(t, size, s.active.Size())
	assert.Equal(t, map[string]string{"a": "1"}, dump(t, s))

	put(t, s, "c", "3")
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, dump(t, s))
}

func TestCommitFailurePoisons(t *testing.T) {
	coll := &faultyCollection{ICollection: segment.NewInMemoryCollection()}
	s := openTest(t, coll, smallOptions())
	put(t, s, "a", "1")

	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, tx.Set([]byte(fmt.Sprintf("%04d", i)), []byte("v")))
	}
	// fail the commit record after the nodes were written, then fail the cleanup
	s.opts.SyncOnCommit = true
	coll.failTruncate.Store(true)
	s.active = &failingSync{IFile: s.active}
	require.Error(t, tx.Commit())

	_, err = s.Begin(context.Background(), true)
	assert.ErrorIs(t, err, db.ErrIOFailure)

	// readers keep working
	assert.Equal(t, map[string]string{"a": "1"}, dump(t, s))
}

func TestFailedDeleteAbortsTransaction(t *testing.T) {
	coll := &faultyCollection{ICollection: segment.NewInMemoryCollection()}
	s := openTest(t, coll, smallOptions())
	expected := map[string]string{}
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("%04d", i)
		require.NoError(t, tx.Set([]byte(k), []byte("v")))
		expected[k] = "v"
	}
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(context.Background(), true)
	require.NoError(t, err)
	_, err = tx.Delete([]byte("0000"))
	require.NoError(t, err)

	// the path to the first leaf is owned by tx now, the siblings must be read
	// from the segment once the leaf underflows
	s.cache.Purge()
	coll.failRead.Store(true)
	for i := 1; i < 50 && err == nil; i++ {
		_, err = tx.Delete([]byte(fmt.Sprintf("%04d", i)))
	}
	require.ErrorIs(t, err, errInjected)
	coll.failRead.Store(false)

	_, _, err = tx.Get([]byte("0100"))
	assert.ErrorIs(t, err, errInjected)
	assert.ErrorIs(t, tx.Set([]byte("x"), []byte("y")), errInjected)
	assert.ErrorIs(t, tx.Commit(), errInjected)

	assert.Equal(t, expected, dump(t, s))
	put(t, s, "x", "y")
	expected["x"] = "y"
	assert.Equal(t, expected, dump(t, s))
}

type failingSync struct {
	segment.IFile
}

func (f *failingSync) Sync() error { return errInjected }

// --------------------------------------------------------------------------
// Recovery
// --------------------------------------------------------------------------

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenDir(dir, smallOptions())
	require.NoError(t, err)
	s := kv.(*oakDB)
	expected := churn(t, s, 1, 10, 400)
	number := s.current.number
	require.NoError(t, kv.Close())

	kv, err = OpenDir(dir, smallOptions())
	require.NoError(t, err)
	defer kv.Close()
	s = kv.(*oakDB)
	assert.Equal(t, number, s.current.number)
	assert.Equal(t, expected, dump(t, s))

	put(t, s, "after", "reopen")
	assert.Equal(t, number+1, s.current.number)
}

func TestRecoveryTornTail(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	put(t, s, "a", "1")
	put(t, s, "b", "2")
	require.NoError(t, s.Close())

	// cut the last commit record in half
	f, err := coll.Open(lastSegment(coll))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(f.Size()-3))

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, map[string]string{"a": "1"}, dump(t, s))
	assert.Equal(t, uint64(1), s.current.number)

	put(t, s, "c", "3")
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, dump(t, s))
}

func TestRecoveryChecksumMismatch(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	put(t, s, "a", "1")
	put(t, s, "a", "2")
	loc := s.current.commitLoc
	require.NoError(t, s.Close())

	// flip a bit inside the newest commit record
	f, err := coll.Open(loc.Segment)
	require.NoError(t, err)
	tail, err := f.Read(int64(loc.Offset), int(f.Size()-int64(loc.Offset)))
	require.NoError(t, err)
	tail[3] ^= 0x40
	rewrite(t, coll, loc.Segment, int64(loc.Offset), tail)

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, map[string]string{"a": "1"}, dump(t, s))
	assert.Equal(t, int64(loc.Offset), s.active.Size(), "corrupt tail was not cut off")
}

func TestRecoveryFallsBackToIntactTree(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	put(t, s, "a", "1")
	first := s.current
	put(t, s, "b", "2")
	second := s.current
	require.NoError(t, s.Close())

	// append a well-formed commit record pointing beyond the end of the segment
	payload, err := internal.EncodeCommit(internal.CommitRecord{
		Number: second.number + 1,
		Root: internal.Ref{
			Loc:   internal.Location{Segment: second.commitLoc.Segment, Offset: 1 << 30},
			Size:  100,
			Count: 3,
		},
		Time: time.Now(),
	})
	require.NoError(t, err)
	f, err := coll.Open(lastSegment(coll))
	require.NoError(t, err)
	_, err = f.Append(internal.AppendRecord(nil, internal.RecCommit, payload))
	require.NoError(t, err)

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, second.number, s.current.number)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, dump(t, s))
	assert.NotEqual(t, first.number, s.current.number)
}

func TestRecoveryHeaderlessSegment(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	put(t, s, "a", "1")
	require.NoError(t, s.Close())

	// crash between creating a segment and writing its header
	_, err = coll.CreateNew()
	require.NoError(t, err)

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, lastSegment(coll), s.active.ID())
	assert.Equal(t, map[string]string{"a": "1"}, dump(t, s))
	put(t, s, "b", "2")
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, dump(t, s))
}

func TestRecoveryForeignSegment(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	put(t, s, "a", "1")
	require.NoError(t, s.Close())

	f, err := coll.CreateNew()
	require.NoError(t, err)
	payload, err := internal.EncodeHeader(internal.SegmentHeader{
		Version:   internal.FormatVersion,
		SegmentID: f.ID(),
		StoreID:   uuid.New(),
	})
	require.NoError(t, err)
	_, err = f.Append(internal.AppendRecord(nil, internal.RecHeader, payload))
	require.NoError(t, err)

	_, err = open(coll, smallOptions(), false)
	assert.ErrorIs(t, err, errForeignSegment)
}

func TestRecoveryAcrossSegments(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	expected := churn(t, s, 2, 20, 300)
	require.Greater(t, len(coll.IDs()), 3, "test needs several segments")
	require.NoError(t, s.Close())

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, expected, dump(t, s))
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(expected)), st.KeyCount)
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

func TestCompactionReclaimsSpace(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s := openTest(t, coll, smallOptions())
	expected := churn(t, s, 3, 30, 300)

	before, err := s.Stats()
	require.NoError(t, err)
	require.Greater(t, before.Fragmentation(), 0.3)

	compactAll(t, s)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, expected, dump(t, s))
	assert.Less(t, after.TotalBytes, before.TotalBytes)
	assert.Less(t, after.Fragmentation(), before.Fragmentation())
	assert.Greater(t, after.DeletedSegments, int64(0))
	assert.Greater(t, after.Compactions, int64(0))
	assert.Zero(t, after.PendingDeletion)
}

func TestCompactionKeepsSegmentsOfOpenSnapshots(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s := openTest(t, coll, smallOptions())
	churn(t, s, 100, 10, 300)
	old := dump(t, s)

	reader, err := s.Begin(context.Background(), false)
	require.NoError(t, err)
	segmentsBefore := coll.IDs()

	churn(t, s, 101, 10, 300)
	current := dump(t, s)
	compactAll(t, s)
	assert.Equal(t, current, dump(t, s))

	// every segment the reader may use still exists
	ids := map[uint32]bool{}
	for _, id := range coll.IDs() {
		ids[id] = true
	}
	for _, id := range segmentsBefore {
		_, pending := pendingIDs(s)[id]
		if !ids[id] {
			t.Fatalf("segment %d deleted while an older snapshot is open (pending=%v)", id, pending)
		}
	}
	assert.Equal(t, old, dumpTx(t, reader))

	st, err := s.Stats()
	require.NoError(t, err)
	require.Greater(t, st.PendingDeletion, 0)

	require.NoError(t, reader.Rollback())
	st, err = s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.PendingDeletion, "retired segments must be deleted after the last reader closed")
	assert.Equal(t, st.SegmentCount, len(coll.IDs()))
}

func pendingIDs(s *oakDB) map[uint32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uint32]struct{}{}
	for _, r := range s.retired {
		out[r.id] = struct{}{}
	}
	return out
}

func TestCompactionCancelled(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	expected := churn(t, s, 6, 20, 300)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	more, err := s.Compact(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, more)
	assert.Equal(t, expected, dump(t, s))

	compactAll(t, s)
	assert.Equal(t, expected, dump(t, s))
}

func TestCompactionSurvivesReopen(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s, err := open(coll, smallOptions(), false)
	require.NoError(t, err)
	expected := churn(t, s, 7, 20, 300)
	compactAll(t, s)
	require.NoError(t, s.Close())

	s = openTest(t, coll, smallOptions())
	assert.Equal(t, expected, dump(t, s))
}

func TestCompactionOfEmptiedStore(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s := openTest(t, coll, smallOptions())
	expected := churn(t, s, 8, 5, 300)

	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	for k := range expected {
		_, err := tx.Delete([]byte(k))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	assert.True(t, s.current.root.IsEmpty())

	compactAll(t, s)
	assert.Empty(t, dump(t, s))
	assert.LessOrEqual(t, len(coll.IDs()), 2)
}

func TestFullCompactionRewritesEverySegment(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s := openTest(t, coll, smallOptions())
	expected := churn(t, s, 11, 20, 300)
	// afterwards only segments below the garbage thresholds remain
	compactAll(t, s)
	before := coll.IDs()
	require.NotEmpty(t, before)

	reader, err := s.Begin(context.Background(), false)
	require.NoError(t, err)

	require.NoError(t, s.CompactFull(context.Background()))
	assert.Equal(t, expected, dump(t, s))
	assert.Equal(t, expected, dumpTx(t, reader))

	// the reader still pins the old segments
	pending := pendingIDs(s)
	for _, id := range before {
		assert.Contains(t, pending, id, "segment %d was not rewritten", id)
	}

	require.NoError(t, reader.Rollback())
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.PendingDeletion)
	for _, id := range coll.IDs() {
		assert.NotContains(t, before, id, "segment %d survived a full compaction", id)
	}

	require.NoError(t, s.Close())
	s = openTest(t, coll, smallOptions())
	assert.Equal(t, expected, dump(t, s))
}

func TestFullCompactionOfEmptyStore(t *testing.T) {
	s := openTest(t, segment.NewInMemoryCollection(), smallOptions())
	require.NoError(t, s.CompactFull(context.Background()))
	assert.Empty(t, dump(t, s))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.CompactFull(context.Background()), db.ErrClosed)
}

func TestAutoCompaction(t *testing.T) {
	opts := smallOptions()
	opts.AutoCompactInterval = 10 * time.Millisecond
	s := openTest(t, segment.NewInMemoryCollection(), opts)
	expected := churn(t, s, 9, 30, 300)

	require.Eventually(t, func() bool {
		return s.metrics.compactionTimer.Count() > 0 && s.metrics.deletedSegments.Get() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, expected, dump(t, s))
}

// --------------------------------------------------------------------------
// Stats and metrics
// --------------------------------------------------------------------------

func TestStatsSegments(t *testing.T) {
	coll := segment.NewInMemoryCollection()
	s := openTest(t, coll, smallOptions())
	churn(t, s, 10, 10, 300)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, len(coll.IDs()), st.SegmentCount)
	assert.Greater(t, st.TreeHeight, 1)
	assert.Equal(t, int64(10), st.Commits)
	assert.Greater(t, st.NodeSizes.Count, int64(0))

	active := 0
	var total int64
	for _, seg := range st.Segments {
		if seg.Active {
			active++
			assert.Equal(t, s.active.ID(), seg.ID)
		}
		assert.LessOrEqual(t, seg.LiveBytes, seg.SizeBytes)
		total += seg.SizeBytes
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, total, st.TotalBytes)

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), `skv_commits_total{store="test"} 10`)
}
