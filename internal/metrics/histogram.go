package metrics

import (
	"math"
	"sync/atomic"
)

const histogramBuckets = 100

// Histogram is a fixed-size log-spaced bucket array. Every update is a
// single atomic increment, so concurrent workers share one instance.
type Histogram struct {
	buckets [histogramBuckets]atomic.Int64
	min     float64
	max     float64
	logMin  float64
	logMax  float64
	count   atomic.Int64
	sum     atomic.Int64 // in value units, truncated
}

// NewHistogram creates a histogram covering [min, max] with log-spaced
// bucket boundaries. Values outside the range clamp to the edge buckets.
func NewHistogram(min, max float64) *Histogram {
	if min <= 0 {
		min = 0.001
	}
	if max <= min {
		max = min * 1e6
	}
	return &Histogram{
		min:    min,
		max:    max,
		logMin: math.Log(min),
		logMax: math.Log(max),
	}
}

// Observe records one value
func (h *Histogram) Observe(value float64) {
	h.buckets[h.bucketFor(value)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(value))
}

func (h *Histogram) bucketFor(value float64) int {
	if value <= h.min {
		return 0
	}
	if value >= h.max {
		return histogramBuckets - 1
	}
	pos := (math.Log(value) - h.logMin) / (h.logMax - h.logMin)
	idx := int(pos * histogramBuckets)
	if idx >= histogramBuckets {
		idx = histogramBuckets - 1
	}
	return idx
}

// bucketValue returns the representative (geometric-mid) value of bucket i
func (h *Histogram) bucketValue(i int) float64 {
	width := (h.logMax - h.logMin) / histogramBuckets
	return math.Exp(h.logMin + width*(float64(i)+0.5))
}

// Percentile derives the requested percentile by cumulative bucket scan
func (h *Histogram) Percentile(pct float64) float64 {
	total := h.count.Load()
	if total == 0 {
		return 0
	}
	rank := int64(math.Ceil(pct / 100 * float64(total)))
	if rank < 1 {
		rank = 1
	}
	var cumulative int64
	for i := 0; i < histogramBuckets; i++ {
		cumulative += h.buckets[i].Load()
		if cumulative >= rank {
			return h.bucketValue(i)
		}
	}
	return h.bucketValue(histogramBuckets - 1)
}

// Count reports total observations
func (h *Histogram) Count() int64 {
	return h.count.Load()
}

// Mean reports the running average
func (h *Histogram) Mean() float64 {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return float64(h.sum.Load()) / float64(count)
}

// Reset zeroes every bucket
func (h *Histogram) Reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
	h.count.Store(0)
	h.sum.Store(0)
}
