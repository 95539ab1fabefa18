package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of samples.
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and extremes of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}
	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// DistributionStats extends Stats with a balance score in [0,1]; 1 means all samples are equal.
type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats scores how evenly values are spread, combining the
// coefficient of variation with the min/max ratio.
func NewDistributionStats(values []float64) DistributionStats {
	s := NewStats(values)
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDeviation / s.Mean
	}
	return DistributionStats{
		Stats:               s,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + s.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the inclusive upper bounds of the buckets (16 B .. 4 GiB); one
// extra bucket collects everything larger.
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// HistogramSummary is a point-in-time view of a SizeHistogram.
type HistogramSummary struct {
	Count   int64 `json:"count"`
	Average int   `json:"average"`
	Median  int   `json:"median"`
	P90     int   `json:"p90"`
	P99     int   `json:"p99"`
}

// SizeHistogram tracks a distribution of byte sizes in exponential buckets.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records one size.
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, b := range sizeBoundaries {
		if size <= b {
			idx = i
			break
		}
	}
	h.mu.Lock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
	h.mu.Unlock()
}

// GetCount returns the number of samples.
func (h *SizeHistogram) GetCount() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// AverageSize returns the exact mean of all samples.
func (h *SizeHistogram) AverageSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// GetPercentileEstimate estimates the given percentile (0-100) from the bucket
// midpoints. Returns 0 for an empty histogram or an invalid percentile.
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.percentile(percentile)
}

func (h *SizeHistogram) percentile(percentile int) int {
	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}
	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var seen int64
	for i, c := range h.buckets {
		seen += c
		if seen < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// MedianEstimate is GetPercentileEstimate(50).
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// Summary returns count, mean and percentile estimates in one consistent read.
func (h *SizeHistogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := HistogramSummary{Count: h.count}
	if h.count > 0 {
		s.Average = int(h.sum / h.count)
		s.Median = h.percentile(50)
		s.P90 = h.percentile(90)
		s.P99 = h.percentile(99)
	}
	return s
}

// SizeDistribution returns the bucket bounds and the share of samples (in percent)
// per bucket. The last share belongs to the overflow bucket.
func (h *SizeHistogram) SizeDistribution() ([]int, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	shares := make([]float64, len(h.buckets))
	if h.count == 0 {
		return sizeBoundaries, shares
	}
	for i, c := range h.buckets {
		shares[i] = float64(c) * 100.0 / float64(h.count)
	}
	return sizeBoundaries, shares
}

// Reset clears all samples.
func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count, h.sum = 0, 0
	clear(h.buckets)
}
