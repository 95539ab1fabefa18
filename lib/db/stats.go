package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/sKV/lib/db/util"
)

// SegmentStats describes one segment file.
type SegmentStats struct {
	ID              uint32 `json:"id"`
	SizeBytes       int64  `json:"size_bytes"`
	LiveBytes       int64  `json:"live_bytes"`
	Active          bool   `json:"active"`
	PendingDeletion bool   `json:"pending_deletion"`
}

// LiveRatio is the share of the segment's data that is still reachable. Empty
// segments count as fully live.
func (s SegmentStats) LiveRatio() float64 {
	if s.SizeBytes <= 0 {
		return 1
	}
	return float64(s.LiveBytes) / float64(s.SizeBytes)
}

// Stats is the summary returned by KVDB.Stats.
type Stats struct {
	DbType           Implementation `json:"db_type"`
	CommitNumber     uint64         `json:"commit_number"`
	KeyCount         uint64         `json:"key_count"`
	TreeHeight       int            `json:"tree_height"`
	SegmentCount     int            `json:"segment_count"`
	TotalBytes       int64          `json:"total_bytes"`
	LiveBytes        int64          `json:"live_bytes"`
	OpenTransactions int            `json:"open_transactions"`
	WriterActive     bool           `json:"writer_active"`
	PendingDeletion  int            `json:"pending_deletion"`
	Segments         []SegmentStats `json:"segments"`

	SegmentDistribution util.DistributionStats `json:"segment_distribution"`
	NodeSizes           util.HistogramSummary  `json:"node_sizes"`

	Commits         int64         `json:"commits"`
	CommitRate1m    float64       `json:"commit_rate_1m"`
	Compactions     int64         `json:"compactions"`
	CompactionMean  time.Duration `json:"compaction_mean"`
	RelocatedBytes  int64         `json:"relocated_bytes"`
	DeletedSegments int64         `json:"deleted_segments"`
}

// Fragmentation is the share of stored bytes that is no longer reachable.
func (s Stats) Fragmentation() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	return 1 - float64(s.LiveBytes)/float64(s.TotalBytes)
}

// String renders a human-readable report.
func (s Stats) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Store")
	addField("Engine", string(s.DbType))
	addField("Commit Number", strconv.FormatUint(s.CommitNumber, 10))
	addField("Keys", strconv.FormatUint(s.KeyCount, 10))
	addField("Tree Height", strconv.Itoa(s.TreeHeight))
	addField("Open Transactions", strconv.Itoa(s.OpenTransactions))
	addField("Writer Active", strconv.FormatBool(s.WriterActive))

	addSection("Storage")
	addField("Segments", strconv.Itoa(s.SegmentCount))
	addField("Total Bytes", strconv.FormatInt(s.TotalBytes, 10))
	addField("Live Bytes", strconv.FormatInt(s.LiveBytes, 10))
	addField("Fragmentation", fmt.Sprintf("%.1f %%", s.Fragmentation()*100))
	addField("Pending Deletion", strconv.Itoa(s.PendingDeletion))
	addField("Node Size avg/p90", fmt.Sprintf("%d / %d B (%d nodes)", s.NodeSizes.Average, s.NodeSizes.P90, s.NodeSizes.Count))

	addSection("Activity")
	addField("Commits", strconv.FormatInt(s.Commits, 10))
	addField("Commit Rate (1m)", fmt.Sprintf("%.2f /s", s.CommitRate1m))
	addField("Compactions", strconv.FormatInt(s.Compactions, 10))
	addField("Compaction Mean", s.CompactionMean.String())
	addField("Relocated Bytes", strconv.FormatInt(s.RelocatedBytes, 10))
	addField("Deleted Segments", strconv.FormatInt(s.DeletedSegments, 10))

	addSection("Segments")
	for _, seg := range s.Segments {
		flags := ""
		if seg.Active {
			flags += " active"
		}
		if seg.PendingDeletion {
			flags += " pending-deletion"
		}
		addField(fmt.Sprintf("%08d", seg.ID), fmt.Sprintf("%d B, %.1f %% live%s", seg.SizeBytes, seg.LiveRatio()*100, flags))
	}
	return sb.String()
}
