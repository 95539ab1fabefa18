package oak

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/sKV/lib/db/util"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// engineMetrics holds the instruments of one store.
//
// The VictoriaMetrics set is exported in Prometheus format (see oakDB.WritePrometheus),
// the go-metrics registry provides the moving rates reported by Stats.
type engineMetrics struct {
	set *metrics.Set

	commits         *metrics.Counter
	bytesWritten    *metrics.Counter
	compactions     *metrics.Counter
	relocatedBytes  *metrics.Counter
	deletedSegments *metrics.Counter
	conflicts       *metrics.Counter
	commitTime      *metrics.Histogram

	registry        gometrics.Registry
	commitMeter     gometrics.Meter
	compactionTimer gometrics.Timer

	nodeSizes *util.SizeHistogram
}

func newEngineMetrics(s *oakDB) *engineMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`skv_%s{store=%q}`, metric, s.opts.Name)
	}

	m := &engineMetrics{
		set:             set,
		commits:         set.NewCounter(name("commits_total")),
		bytesWritten:    set.NewCounter(name("written_bytes_total")),
		compactions:     set.NewCounter(name("compactions_total")),
		relocatedBytes:  set.NewCounter(name("relocated_bytes_total")),
		deletedSegments: set.NewCounter(name("deleted_segments_total")),
		conflicts:       set.NewCounter(name("write_conflicts_total")),
		commitTime:      set.NewHistogram(name("commit_duration_seconds")),
		registry:        gometrics.NewRegistry(),
		nodeSizes:       util.NewSizeHistogram(),
	}
	m.commitMeter = gometrics.NewRegisteredMeter("commits", m.registry)
	m.compactionTimer = gometrics.NewRegisteredTimer("compactions", m.registry)

	set.NewGauge(name("segments"), func() float64 {
		return float64(len(s.coll.IDs()))
	})
	set.NewGauge(name("open_transactions"), func() float64 {
		return float64(s.pins.Size())
	})
	set.NewGauge(name("commit_number"), func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return float64(s.current.number)
	})
	set.NewGauge(name("keys"), func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return float64(s.current.root.Count)
	})
	return m
}

func (m *engineMetrics) observeCommit(w *commitWriter, took time.Duration) {
	m.commits.Inc()
	m.commitTime.Update(took.Seconds())
	m.commitMeter.Mark(1)
	for _, size := range w.sizes {
		m.nodeSizes.AddSample(size)
	}
}

func (m *engineMetrics) observeCompaction(relocated int64, took time.Duration) {
	m.compactions.Inc()
	m.relocatedBytes.Add(int(relocated))
	m.compactionTimer.Update(took)
}

// unregister stops the meters of the go-metrics registry.
func (m *engineMetrics) unregister() {
	m.registry.UnregisterAll()
}
