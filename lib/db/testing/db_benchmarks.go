package testing

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/stretchr/testify/require"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetBatch", func(b *testing.B) {
		benchmarkSetBatch(b, factory())
	})

	b.Run("SetLargeValue", func(b *testing.B) {
		benchmarkSetLargeValue(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("Compact", func(b *testing.B) {
		benchmarkCompact(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// fill stores n keys in batches of 1000.
func fill(b *testing.B, database db.KVDB, n int) {
	b.Helper()
	for start := 0; start < n; start += 1000 {
		update(b, database, func(tx db.Tx) {
			for i := start; i < min(start+1000, n); i++ {
				require.NoError(b, tx.Set(key(i), value(i, 0)))
			}
		})
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for one committed transaction per Set
func benchmarkSet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, database, func(tx db.Tx) {
			require.NoError(b, tx.Set(key(i), value(i, 0)))
		})
	}
}

// Benchmark for Set inside large transactions
func benchmarkSetBatch(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	b.ResetTimer()
	tx, err := database.Begin(context.Background(), true)
	require.NoError(b, err)
	for i := 0; i < b.N; i++ {
		require.NoError(b, tx.Set(key(i), value(i, 0)))
		if i%1000 == 999 {
			require.NoError(b, tx.Commit())
			tx, err = database.Begin(context.Background(), true)
			require.NoError(b, err)
		}
	}
	require.NoError(b, tx.Commit())
}

// Benchmark for Set with 100KB values
func benchmarkSetLargeValue(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	large := make([]byte, 100*1024)
	rand.Read(large)

	b.SetBytes(int64(len(large)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, database, func(tx db.Tx) {
			require.NoError(b, tx.Set(key(i%100), large))
		})
	}
}

// Benchmark for point reads
func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 10_000
	fill(b, database, n)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		tx, err := database.Begin(context.Background(), false)
		if err != nil {
			b.Error(err)
			return
		}
		defer tx.Rollback()
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, ok, err := tx.Get(key(rnd.Intn(n))); err != nil || !ok {
				b.Errorf("lookup failed: found=%v err=%v", ok, err)
				return
			}
		}
	})
}

// Benchmark for Delete of existing keys
func benchmarkDelete(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	fill(b, database, b.N)

	b.ResetTimer()
	tx, err := database.Begin(context.Background(), true)
	require.NoError(b, err)
	for i := 0; i < b.N; i++ {
		if _, err := tx.Delete(key(i)); err != nil {
			b.Fatal(err)
		}
	}
	require.NoError(b, tx.Commit())
}

// Benchmark for a full forward scan
func benchmarkScan(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 10_000
	fill(b, database, n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		view(b, database, func(tx db.Tx) {
			it := tx.SeekRange(nil, db.Forward)
			count := 0
			for it.Next() {
				count++
			}
			require.NoError(b, it.Err())
			require.Equal(b, n, count)
			_ = it.Close()
		})
	}
}

// Benchmark for compaction after overwriting all keys
func benchmarkCompact(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 5_000
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		fill(b, database, n)
		b.StartTimer()
		for {
			more, err := database.Compact(context.Background())
			require.NoError(b, err)
			if !more {
				break
			}
		}
	}
}

// Benchmark for reads running while a writer commits
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 10_000
	fill(b, database, n)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			i := rnd.Intn(n)
			if rnd.Intn(10) == 0 {
				tx, err := database.Begin(context.Background(), true)
				if err != nil {
					b.Error(err)
					return
				}
				if err := tx.Set(key(i), value(i, 1)); err != nil {
					b.Error(err)
				}
				if err := tx.Commit(); err != nil {
					b.Error(err)
				}
				continue
			}
			tx, err := database.Begin(context.Background(), false)
			if err != nil {
				b.Error(err)
				return
			}
			if _, _, err := tx.Get(key(i)); err != nil {
				b.Error(err)
			}
			_ = tx.Rollback()
		}
	})
}
