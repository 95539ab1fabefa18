package oak

import (
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/segment"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
)

// smallOptions forces deep trees and many segments on small data sets.
func smallOptions() *Options {
	opts := DefaultOptions()
	opts.Name = "test"
	opts.MaxLeafEntries = 8
	opts.MaxInternalChildren = 4
	opts.MaxNodeBytes = 1024
	opts.MaxSegmentSize = 16 << 10
	opts.CompactionMinGarbage = 1024
	opts.SyncOnCommit = false
	return opts
}

func mustOpen(coll segment.ICollection, opts *Options) db.KVDB {
	kv, err := Open(coll, opts)
	if err != nil {
		panic(err)
	}
	return kv
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "OakDB", func() db.KVDB {
		return mustOpen(segment.NewInMemoryCollection(), DefaultOptions())
	})
}

func TestSmallNodes(t *testing.T) {
	dbtesting.RunKVDBTests(t, "OakDB(small)", func() db.KVDB {
		return mustOpen(segment.NewInMemoryCollection(), smallOptions())
	})
}

func TestSnappy(t *testing.T) {
	dbtesting.RunKVDBTests(t, "OakDB(snappy)", func() db.KVDB {
		opts := smallOptions()
		opts.Compression = CompressionSnappy
		return mustOpen(segment.NewInMemoryCollection(), opts)
	})
}

func TestOnDisk(t *testing.T) {
	dbtesting.RunKVDBTests(t, "OakDB(disk)", func() db.KVDB {
		kv, err := OpenDir(t.TempDir(), smallOptions())
		if err != nil {
			t.Fatal(err)
		}
		return kv
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "OakDB", func() db.KVDB {
		opts := DefaultOptions()
		opts.SyncOnCommit = false
		return mustOpen(segment.NewInMemoryCollection(), opts)
	})
}
