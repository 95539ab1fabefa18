package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory is a function that creates a new, empty instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("RangeScan", func(t *testing.T) {
			testRangeScan(t, factory())
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("TransactionState", func(t *testing.T) {
			testTransactionState(t, factory())
		})

		t.Run("SingleWriter", func(t *testing.T) {
			testSingleWriter(t, factory())
		})

		t.Run("ManyKeys", func(t *testing.T) {
			testManyKeys(t, factory())
		})

		t.Run("CompactionSafety", func(t *testing.T) {
			testCompactionSafety(t, factory())
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})

		t.Run("ExportImport", func(t *testing.T) {
			testExportImport(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Stats", func(t *testing.T) {
			testStats(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// update runs fn in a write transaction and commits it.
func update(t testing.TB, database db.KVDB, fn func(tx db.Tx)) {
	t.Helper()
	tx, err := database.Begin(context.Background(), true)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

// view runs fn in a read transaction.
func view(t testing.TB, database db.KVDB, fn func(tx db.Tx)) {
	t.Helper()
	tx, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
}

type pair struct {
	key, value string
}

// collect drains an iterator.
func collect(t testing.TB, it db.Iterator) []pair {
	t.Helper()
	defer it.Close()
	var out []pair
	for it.Next() {
		out = append(out, pair{string(it.Key()), string(it.Value())})
	}
	require.NoError(t, it.Err())
	return out
}

func scanAll(t testing.TB, database db.KVDB) []pair {
	t.Helper()
	var out []pair
	view(t, database, func(tx db.Tx) {
		out = collect(t, tx.SeekRange(nil, db.Forward))
	})
	return out
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%06d", i))
}

func value(i, round int) []byte {
	return []byte(fmt.Sprintf("value-%d-%d", i, round))
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	value1 := []byte("test-value1")
	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("test-key"), value1))

		// own writes are visible before commit
		v, ok, err := tx.Get([]byte("test-key"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value1, v)
	})

	// Set copies its arguments
	value1[0] = 'X'

	view(t, database, func(tx db.Tx) {
		v, ok, err := tx.Get([]byte("test-key"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "test-value1", string(v))

		_, ok, err = tx.Get([]byte("nonexistent-key"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("test-key"), []byte("updated-value")))
	})
	view(t, database, func(tx db.Tx) {
		v, ok, err := tx.Get([]byte("test-key"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "updated-value", string(v))
		assert.Equal(t, uint64(1), tx.KeyCount())
	})
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("a"), []byte("1")))
		require.NoError(t, tx.Set([]byte("b"), []byte("2")))
	})

	update(t, database, func(tx db.Tx) {
		existed, err := tx.Delete([]byte("a"))
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = tx.Delete([]byte("a"))
		require.NoError(t, err)
		assert.False(t, existed, "second delete must report a missing key")

		existed, err = tx.Delete([]byte("missing"))
		require.NoError(t, err)
		assert.False(t, existed)
	})

	assert.Equal(t, []pair{{"b", "2"}}, scanAll(t, database))

	update(t, database, func(tx db.Tx) {
		existed, err := tx.Delete([]byte("b"))
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, uint64(0), tx.KeyCount())
	})
	assert.Empty(t, scanAll(t, database))
}

func testRangeScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("a"), []byte("1")))
		require.NoError(t, tx.Set([]byte("b"), []byte("2")))
		require.NoError(t, tx.Set([]byte("c"), []byte("3")))
	})

	view(t, database, func(tx db.Tx) {
		assert.Equal(t, []pair{{"a", "1"}, {"b", "2"}, {"c", "3"}},
			collect(t, tx.SeekRange([]byte("a"), db.Forward)))
		assert.Equal(t, []pair{{"b", "2"}, {"c", "3"}},
			collect(t, tx.SeekRange([]byte("aa"), db.Forward)))
		assert.Empty(t, collect(t, tx.SeekRange([]byte("d"), db.Forward)))

		assert.Equal(t, []pair{{"c", "3"}, {"b", "2"}, {"a", "1"}},
			collect(t, tx.SeekRange(nil, db.Backward)))
		assert.Equal(t, []pair{{"b", "2"}, {"a", "1"}},
			collect(t, tx.SeekRange([]byte("bb"), db.Backward)))
		assert.Equal(t, []pair{{"b", "2"}, {"a", "1"}},
			collect(t, tx.SeekRange([]byte("b"), db.Backward)))
		assert.Empty(t, collect(t, tx.SeekRange([]byte("0"), db.Backward)))
	})

	// an iterator keeps its snapshot when the store changes
	tx, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	it := tx.SeekRange(nil, db.Forward)
	require.True(t, it.Next())
	update(t, database, func(w db.Tx) {
		require.NoError(t, w.Set([]byte("ab"), []byte("x")))
		_, err := w.Delete([]byte("c"))
		require.NoError(t, err)
	})
	var rest []string
	for it.Next() {
		rest = append(rest, string(it.Key()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"b", "c"}, rest)
	require.NoError(t, it.Close())
	require.NoError(t, tx.Rollback())
}

func testSnapshotIsolation(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("k"), []byte("old")))
	})

	reader, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	defer reader.Rollback()

	writer, err := database.Begin(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, writer.Set([]byte("k"), []byte("new")))
	require.NoError(t, writer.Set([]byte("k2"), []byte("v2")))

	// uncommitted changes are invisible
	v, _, err := reader.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))

	require.NoError(t, writer.Commit())

	// committed changes are invisible to snapshots taken before the commit
	v, _, err = reader.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))
	_, ok, err := reader.Get([]byte("k2"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), reader.KeyCount())

	view(t, database, func(tx db.Tx) {
		v, _, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(v))
		assert.Greater(t, tx.CommitNumber(), reader.CommitNumber())
	})
}

func testRollback(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte("keep"), []byte("1")))
	})

	tx, err := database.Begin(context.Background(), true)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tx.Set(key(i), value(i, 0)))
	}
	_, err = tx.Delete([]byte("keep"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "rollback of a finished transaction is a no-op")

	assert.Equal(t, []pair{{"keep", "1"}}, scanAll(t, database))
}

func testTransactionState(t *testing.T, database db.KVDB) {
	defer database.Close()

	ro, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ro.Writable())
	assert.ErrorIs(t, ro.Set([]byte("k"), []byte("v")), db.ErrReadOnly)
	_, err = ro.Delete([]byte("k"))
	assert.ErrorIs(t, err, db.ErrReadOnly)
	require.NoError(t, ro.Commit())

	_, _, err = ro.Get([]byte("k"))
	assert.ErrorIs(t, err, db.ErrTxClosed)
	assert.ErrorIs(t, ro.Commit(), db.ErrTxClosed)

	rw, err := database.Begin(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, rw.Writable())
	require.NoError(t, rw.Set([]byte("k"), []byte("v")))
	it := rw.SeekRange(nil, db.Forward)
	require.NoError(t, rw.Commit())
	assert.ErrorIs(t, rw.Set([]byte("k"), []byte("v")), db.ErrTxClosed)

	// iterators of finished transactions stop with an error
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), db.ErrTxClosed)
}

func testSingleWriter(t *testing.T, database db.KVDB) {
	defer database.Close()

	first, err := database.Begin(context.Background(), true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = database.Begin(ctx, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrTransactionConflict) || errors.Is(err, context.DeadlineExceeded),
		"unexpected error %v", err)

	// readers are never blocked by the writer
	ro, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, ro.Rollback())

	require.NoError(t, first.Rollback())

	second, err := database.Begin(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, second.Rollback())
}

func testManyKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	const n = 5000
	rnd := rand.New(rand.NewSource(42))
	order := rnd.Perm(n)
	expected := make(map[string]string, n)

	// several commits so the tree is built from persisted and new nodes
	for start := 0; start < n; start += 1000 {
		update(t, database, func(tx db.Tx) {
			for _, i := range order[start : start+1000] {
				require.NoError(t, tx.Set(key(i), value(i, 0)))
				expected[string(key(i))] = string(value(i, 0))
			}
		})
	}

	// delete every third key and overwrite every fifth
	update(t, database, func(tx db.Tx) {
		for _, i := range rnd.Perm(n) {
			switch {
			case i%3 == 0:
				existed, err := tx.Delete(key(i))
				require.NoError(t, err)
				require.True(t, existed)
				delete(expected, string(key(i)))
			case i%5 == 0:
				require.NoError(t, tx.Set(key(i), value(i, 1)))
				expected[string(key(i))] = string(value(i, 1))
			}
		}
	})

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	view(t, database, func(tx db.Tx) {
		assert.Equal(t, uint64(len(expected)), tx.KeyCount())

		got := collect(t, tx.SeekRange(nil, db.Forward))
		require.Len(t, got, len(keys))
		for i, p := range got {
			require.Equal(t, keys[i], p.key)
			require.Equal(t, expected[p.key], p.value)
		}

		back := collect(t, tx.SeekRange(nil, db.Backward))
		require.Len(t, back, len(keys))
		for i, p := range back {
			require.Equal(t, keys[len(keys)-1-i], p.key)
		}

		for i := 0; i < n; i += 7 {
			v, ok, err := tx.Get(key(i))
			require.NoError(t, err)
			want, exists := expected[string(key(i))]
			require.Equal(t, exists, ok, "key %s", key(i))
			if exists {
				require.Equal(t, want, string(v))
			}
		}
	})

	// delete everything, the tree must collapse to empty
	update(t, database, func(tx db.Tx) {
		for _, k := range keys {
			existed, err := tx.Delete([]byte(k))
			require.NoError(t, err)
			require.True(t, existed)
		}
	})
	assert.Empty(t, scanAll(t, database))
}

func testCompactionSafety(t *testing.T, database db.KVDB) {
	defer database.Close()

	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		update(t, database, func(tx db.Tx) {
			for j := 0; j < 200; j++ {
				i := rnd.Intn(1000)
				if rnd.Intn(4) == 0 {
					_, err := tx.Delete(key(i))
					require.NoError(t, err)
					continue
				}
				require.NoError(t, tx.Set(key(i), value(i, round)))
			}
		})
	}
	before := scanAll(t, database)

	// a reader holding an old snapshot must survive compaction
	old, err := database.Begin(context.Background(), false)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		more, err := database.Compact(context.Background())
		require.NoError(t, err)
		if !more {
			break
		}
	}
	assert.Equal(t, before, scanAll(t, database))
	assert.Equal(t, before, collect(t, old.SeekRange(nil, db.Forward)))

	// a full pass rewrites everything, the old snapshot stays readable
	require.NoError(t, database.CompactFull(context.Background()))
	assert.Equal(t, before, scanAll(t, database))
	assert.Equal(t, before, collect(t, old.SeekRange(nil, db.Forward)))
	require.NoError(t, old.Rollback())

	// a cancelled compaction leaves the store intact
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = database.Compact(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, before, scanAll(t, database))
}

func testConcurrentReaders(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		for i := 0; i < 100; i++ {
			require.NoError(t, tx.Set(key(i), value(i, 0)))
		}
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tx, err := database.Begin(context.Background(), false)
				if err != nil {
					errs <- err
					return
				}
				// every snapshot holds exactly one round for all keys
				it := tx.SeekRange(nil, db.Forward)
				var round []byte
				count := 0
				for it.Next() {
					r := it.Value()[bytes.LastIndexByte(it.Value(), '-'):]
					if round == nil {
						round = r
					} else if !bytes.Equal(r, round) {
						errs <- fmt.Errorf("snapshot mixes rounds %s and %s", round, r)
					}
					count++
				}
				if err := it.Err(); err != nil {
					errs <- err
				}
				if count != 100 {
					errs <- fmt.Errorf("snapshot holds %d keys", count)
				}
				_ = it.Close()
				_ = tx.Rollback()
			}
		}()
	}

	for round := 1; round <= 20; round++ {
		update(t, database, func(tx db.Tx) {
			for i := 0; i < 100; i++ {
				require.NoError(t, tx.Set(key(i), value(i, round)))
			}
		})
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testExportImport(t *testing.T, factory DBFactory) {
	src := factory()
	defer src.Close()
	dst := factory()
	defer dst.Close()

	update(t, src, func(tx db.Tx) {
		for i := 0; i < 300; i++ {
			require.NoError(t, tx.Set(key(i), value(i, 0)))
		}
		require.NoError(t, tx.Set([]byte("empty"), nil))
	})

	var buf bytes.Buffer
	view(t, src, func(tx db.Tx) {
		n, err := db.Export(tx, &buf)
		require.NoError(t, err)
		assert.Equal(t, uint64(301), n)
	})

	update(t, dst, func(tx db.Tx) {
		n, err := db.Import(tx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, uint64(301), n)
	})
	assert.Equal(t, scanAll(t, src), scanAll(t, dst))

	update(t, dst, func(tx db.Tx) {
		_, err := db.Import(tx, bytes.NewReader([]byte("garbage")))
		assert.ErrorIs(t, err, db.ErrInvalidExport)
	})
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		require.NoError(t, tx.Set([]byte{}, []byte("empty key")))
		require.NoError(t, tx.Set([]byte("nil value"), nil))
		require.NoError(t, tx.Set([]byte{0x00}, []byte("zero")))
		require.NoError(t, tx.Set([]byte{0xFF, 0xFF}, []byte("high")))
		require.NoError(t, tx.Set(bytes.Repeat([]byte("v"), 1), bytes.Repeat([]byte("x"), 100_000)))
	})

	view(t, database, func(tx db.Tx) {
		v, ok, err := tx.Get([]byte{})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "empty key", string(v))

		v, ok, err = tx.Get([]byte("nil value"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, v)

		v, ok, err = tx.Get([]byte("v"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, v, 100_000)

		got := collect(t, tx.SeekRange(nil, db.Forward))
		require.Len(t, got, 5)
		assert.Equal(t, "", got[0].key)
		assert.Equal(t, "\x00", got[1].key)
		assert.Equal(t, "\xff\xff", got[4].key)
	})

	// empty transactions commit without changing the commit number
	var number uint64
	view(t, database, func(tx db.Tx) { number = tx.CommitNumber() })
	update(t, database, func(tx db.Tx) {})
	view(t, database, func(tx db.Tx) { assert.Equal(t, number, tx.CommitNumber()) })
}

func testStats(t *testing.T, database db.KVDB) {
	defer database.Close()

	update(t, database, func(tx db.Tx) {
		for i := 0; i < 1000; i++ {
			require.NoError(t, tx.Set(key(i), value(i, 0)))
		}
	})

	reader, err := database.Begin(context.Background(), false)
	require.NoError(t, err)
	defer reader.Rollback()

	st, err := database.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), st.KeyCount)
	assert.Equal(t, reader.CommitNumber(), st.CommitNumber)
	assert.Equal(t, 1, st.OpenTransactions)
	assert.GreaterOrEqual(t, st.SegmentCount, 1)
	assert.Greater(t, st.TotalBytes, int64(0))
	assert.LessOrEqual(t, st.LiveBytes, st.TotalBytes)
	assert.NotEmpty(t, st.String())
}
