package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/sKV/lib/db"
)

// HexBytes formats b as upper-case hex bytes separated by single spaces.
func HexBytes(b []byte) string {
	return fmt.Sprintf("% X", b)
}

// Dump writes one line per entry of kv in key order: the key, a colon and the value,
// both as HexBytes.
func Dump(ctx context.Context, out io.Writer, kv db.KVDB) error {
	tx, err := kv.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it := tx.SeekRange(nil, db.Forward)
	defer it.Close()
	for it.Next() {
		if _, err := fmt.Fprintf(out, "%s: %s\n", HexBytes(it.Key()), HexBytes(it.Value())); err != nil {
			return err
		}
	}
	return it.Err()
}

// Compact runs compaction passes until none reports remaining work, printing the
// storage report after every pass. With full set a single full compaction runs instead.
func Compact(ctx context.Context, out io.Writer, kv db.KVDB, full bool) error {
	printStats := func() error {
		stats, err := kv.Stats()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, stats.String())
		return err
	}

	if full {
		fmt.Fprintln(out, "Starting full compaction")
		if err := kv.CompactFull(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Compaction done")
		return printStats()
	}

	fmt.Fprintln(out, "Starting first compaction")
	for {
		more, err := kv.Compact(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if err := printStats(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Another compaction needed")
	}
	fmt.Fprintln(out, "Compaction done")
	return printStats()
}

// ExportFile writes the current snapshot of kv to path (see db.Export) and returns
// the number of exported entries.
func ExportFile(ctx context.Context, kv db.KVDB, path string) (n uint64, err error) {
	tx, err := kv.Begin(ctx, false)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	if n, err = db.Export(tx, f); err != nil {
		return n, fmt.Errorf("export to %s: %w", path, err)
	}
	return n, f.Sync()
}

// ImportFile stores all entries of the export file at path in one write transaction
// and commits it. Existing keys are overwritten.
func ImportFile(ctx context.Context, kv db.KVDB, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tx, err := kv.Begin(ctx, true)
	if err != nil {
		return 0, err
	}
	n, err := db.Import(tx, f)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("import from %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
