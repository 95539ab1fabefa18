package admin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) db.KVDB {
	t.Helper()
	opts := oak.DefaultOptions()
	opts.SyncOnCommit = false
	opts.MaxSegmentSize = 16 << 10
	kv, err := oak.OpenDir(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func write(t *testing.T, kv db.KVDB, pairs map[string]string) {
	t.Helper()
	tx, err := kv.Begin(context.Background(), true)
	require.NoError(t, err)
	for k, v := range pairs {
		require.NoError(t, tx.Set([]byte(k), []byte(v)))
	}
	require.NoError(t, tx.Commit())
}

func dumpString(t *testing.T, kv db.KVDB) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Dump(context.Background(), &out, kv))
	return out.String()
}

func TestHexBytes(t *testing.T) {
	assert.Equal(t, "00 AB 01 FF", HexBytes([]byte{0x00, 0xab, 0x01, 0xff}))
	assert.Equal(t, "61", HexBytes([]byte("a")))
	assert.Equal(t, "", HexBytes(nil))
}

func TestDump(t *testing.T) {
	kv := openStore(t, t.TempDir())
	write(t, kv, map[string]string{"b": "", "a": "12"})

	assert.Equal(t, "61: 31 32\n62: \n", dumpString(t, kv))
}

func TestExportImport(t *testing.T) {
	src := openStore(t, t.TempDir())
	pairs := make(map[string]string)
	for i := 0; i < 500; i++ {
		pairs[fmt.Sprintf("key-%04d", i)] = fmt.Sprintf("value-%d", i)
	}
	write(t, src, pairs)

	file := filepath.Join(t.TempDir(), "export.dat")
	n, err := ExportFile(context.Background(), src, file)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), n)

	dst := openStore(t, t.TempDir())
	write(t, dst, map[string]string{"key-0000": "old", "zzz": "kept"})

	n, err = ImportFile(context.Background(), dst, file)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), n)

	tx, err := dst.Begin(context.Background(), false)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.Equal(t, uint64(501), tx.KeyCount())
	v, ok, err := tx.Get([]byte("key-0000"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value-0", string(v))
	v, ok, err = tx.Get([]byte("zzz"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", string(v))
}

func TestImportRejectsGarbage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "garbage.dat")
	require.NoError(t, os.WriteFile(file, []byte("definitely not an export"), 0o644))

	kv := openStore(t, t.TempDir())
	_, err := ImportFile(context.Background(), kv, file)
	require.ErrorIs(t, err, db.ErrInvalidExport)

	// the failed import left no transaction behind
	write(t, kv, map[string]string{"a": "1"})
	assert.Equal(t, "61: 31\n", dumpString(t, kv))
}

func TestCompact(t *testing.T) {
	kv := openStore(t, t.TempDir())
	value := string(bytes.Repeat([]byte("x"), 200))
	for round := 0; round < 5; round++ {
		pairs := make(map[string]string)
		for i := 0; i < 100; i++ {
			pairs[fmt.Sprintf("key-%03d", i)] = fmt.Sprintf("%d-%s", round, value)
		}
		write(t, kv, pairs)
	}
	before := dumpString(t, kv)

	var out bytes.Buffer
	require.NoError(t, Compact(context.Background(), &out, kv, false))
	assert.Contains(t, out.String(), "Starting first compaction")
	assert.Contains(t, out.String(), "Compaction done")
	assert.Contains(t, out.String(), "STORAGE")

	assert.Equal(t, before, dumpString(t, kv))
}

func TestCompactFull(t *testing.T) {
	kv := openStore(t, t.TempDir())
	value := string(bytes.Repeat([]byte("y"), 300))
	pairs := make(map[string]string)
	for i := 0; i < 200; i++ {
		pairs[fmt.Sprintf("key-%03d", i)] = value
	}
	write(t, kv, pairs)
	before := dumpString(t, kv)

	stats, err := kv.Stats()
	require.NoError(t, err)
	var old []uint32
	for _, seg := range stats.Segments {
		old = append(old, seg.ID)
	}
	require.NotEmpty(t, old)

	var out bytes.Buffer
	require.NoError(t, Compact(context.Background(), &out, kv, true))
	assert.Contains(t, out.String(), "Starting full compaction")
	assert.Contains(t, out.String(), "Compaction done")
	assert.Equal(t, before, dumpString(t, kv))

	stats, err = kv.Stats()
	require.NoError(t, err)
	for _, seg := range stats.Segments {
		assert.NotContains(t, old, seg.ID)
	}
}

func TestWithStore(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	called := false
	err := withStore(missing, true, func(db.KVDB) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))

	// without mustExist the directory becomes a new store
	err = withStore(missing, false, func(kv db.KVDB) error {
		stats, err := kv.Stats()
		require.NoError(t, err)
		assert.Zero(t, stats.KeyCount)
		return nil
	})
	require.NoError(t, err)
	info, err := os.Stat(missing)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
