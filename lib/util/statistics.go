package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes count, mean, population standard deviation, minimum and
// maximum of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Count: len(values), Min: values[0], Max: values[0]}

	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - s.Mean
		sq += d * d
	}
	s.StdDeviation = math.Sqrt(sq / float64(len(values)))

	s.MinMaxRatio = 1.0
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly items are spread over buckets, e.g.
// entries over cluster directories. The quality is 1 for a perfectly even
// spread and approaches 0 the more the bucket sizes vary.
func NewDistributionStats(bucketSizes []float64) DistributionStats {
	stats := NewStats(bucketSizes)

	// coefficient of variation, capped at 1
	var cv float64
	if stats.Mean > 0 {
		cv = math.Min(1.0, stats.StdDeviation/stats.Mean)
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-cv)*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, growing by a
// factor of 4 from 64 bytes to 1 GiB. A last bucket holds everything larger.
var sizeBoundaries = func() []int64 {
	var b []int64
	for v := int64(64); v <= 1<<30; v *= 4 {
		b = append(b, v)
	}
	return b
}()

// SizeHistogram counts sizes in exponentially growing buckets, which is
// enough to describe the size distribution of millions of entries in a few
// hundred bytes.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample adds a size to the histogram
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int64) {
	i := 0
	for i < len(sizeBoundaries) && size > sizeBoundaries[i] {
		i++
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets[i]++
	h.count++
	h.sum += size
}

// Count returns the number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Sum returns the sum of all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Sum() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

// Average returns the exact mean of all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Average() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / h.count
}

// Percentile estimates the given percentile (0-100) as the middle of the
// bucket it falls into.
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Percentile(p int) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative >= target {
			return bucketMiddle(i)
		}
	}
	return bucketMiddle(len(h.buckets) - 1)
}

// Distribution returns the bucket upper bounds and the percentage of samples
// per bucket. The last percentage belongs to the open bucket above the last bound.
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Distribution() ([]int64, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return sizeBoundaries, percentages
	}
	for i, n := range h.buckets {
		percentages[i] = float64(n) * 100.0 / float64(h.count)
	}
	return sizeBoundaries, percentages
}

func bucketMiddle(i int) int64 {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}
