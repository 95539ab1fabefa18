package oak

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
)

// WriterPolicy decides what Begin does while another write transaction is open.
type WriterPolicy uint8

const (
	// WriterBlock waits until the active writer finishes or the context is done.
	WriterBlock WriterPolicy = iota
	// WriterFailFast returns db.ErrTransactionConflict immediately.
	WriterFailFast
)

func (p WriterPolicy) String() string {
	switch p {
	case WriterBlock:
		return "block"
	case WriterFailFast:
		return "fail-fast"
	default:
		return "unknown"
	}
}

// ParseWriterPolicy parses "block" or "fail-fast".
func ParseWriterPolicy(s string) (WriterPolicy, error) {
	switch strings.ToLower(s) {
	case "block", "":
		return WriterBlock, nil
	case "fail-fast", "failfast":
		return WriterFailFast, nil
	}
	return 0, fmt.Errorf("unknown writer policy %q", s)
}

// Compression selects how node payloads are stored.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
)

func (c Compression) String() string {
	return c.strategy().Name()
}

func (c Compression) strategy() internal.ICompressionStrategy {
	if c == CompressionSnappy {
		return internal.SnappyCompression{MinSize: 256}
	}
	return internal.NoCompression{}
}

// ParseCompression parses "none" or "snappy".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// Options configures an oak store. Zero numeric fields are replaced by the defaults;
// start from DefaultOptions to keep SyncOnCommit enabled.
type Options struct {
	// Name labels the store's metrics.
	Name string

	// MaxSegmentSize is the size at which the active segment is sealed and a new one started.
	MaxSegmentSize int64

	// MaxLeafEntries and MaxInternalChildren bound the fan-out of the tree.
	MaxLeafEntries      int
	MaxInternalChildren int

	// MaxNodeBytes splits nodes whose estimated encoding grows beyond it. Keys longer
	// than a quarter of it are rejected with db.ErrKeyTooLarge.
	MaxNodeBytes int

	WriterPolicy WriterPolicy
	Compression  Compression

	// CompactionThreshold is the live ratio below which a segment is rewritten.
	CompactionThreshold float64

	// CompactionBatch is the maximum number of segments rewritten per Compact call.
	CompactionBatch int

	// CompactionMinGarbage is the amount of unreachable bytes a partially live segment
	// needs before it is rewritten. Segments without live data are always collected.
	CompactionMinGarbage int64

	// AutoCompactInterval enables background compaction when > 0.
	AutoCompactInterval time.Duration

	// NodeCacheSize is the number of decoded nodes kept in memory.
	NodeCacheSize int

	// SyncOnCommit fsyncs the active segment before a commit is published.
	SyncOnCommit bool
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		Name:                 "default",
		MaxSegmentSize:       64 << 20,
		MaxLeafEntries:       64,
		MaxInternalChildren:  64,
		MaxNodeBytes:         32 << 10,
		WriterPolicy:         WriterBlock,
		Compression:          CompressionNone,
		CompactionThreshold:  0.5,
		CompactionBatch:      4,
		CompactionMinGarbage: 4 << 10,
		NodeCacheSize:        4096,
		SyncOnCommit:         true,
	}
}

func (o *Options) norm() *Options {
	def := DefaultOptions()
	var oo Options
	if o != nil {
		oo = *o
	} else {
		oo = *def
	}
	if oo.Name == "" {
		oo.Name = def.Name
	}
	if oo.MaxSegmentSize <= 0 {
		oo.MaxSegmentSize = def.MaxSegmentSize
	}
	if oo.MaxLeafEntries < 2 {
		oo.MaxLeafEntries = def.MaxLeafEntries
	}
	if oo.MaxInternalChildren < 3 {
		oo.MaxInternalChildren = def.MaxInternalChildren
	}
	if oo.MaxNodeBytes < 256 {
		oo.MaxNodeBytes = def.MaxNodeBytes
	}
	if oo.CompactionThreshold <= 0 || oo.CompactionThreshold > 1 {
		oo.CompactionThreshold = def.CompactionThreshold
	}
	if oo.CompactionBatch <= 0 {
		oo.CompactionBatch = def.CompactionBatch
	}
	if oo.CompactionMinGarbage <= 0 {
		oo.CompactionMinGarbage = def.CompactionMinGarbage
	}
	if oo.NodeCacheSize <= 0 {
		oo.NodeCacheSize = def.NodeCacheSize
	}
	return &oo
}

func (o *Options) minLeafEntries() int {
	return max(1, o.MaxLeafEntries/4)
}

func (o *Options) minInternalChildren() int {
	return max(2, o.MaxInternalChildren/4)
}

func (o *Options) maxKeySize() int {
	return o.MaxNodeBytes / 4
}
