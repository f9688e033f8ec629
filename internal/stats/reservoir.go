// Package stats provides a fixed-capacity sliding-window reservoir used by
// the connection health monitor to keep a uniform sample of a measurement
// stream and derive percentiles and averages from it.
//
// Two policies compose:
//
//   - Reservoir sampling: once the store is full, the next push draws a slot
//     uniformly over everything seen so far; in-range draws overwrite that
//     slot, out-of-range draws discard the sample. Every element of the
//     stream therefore has an equal chance of being retained.
//
//   - Time window: measurements carry their wallclock stamp. When a window
//     is configured, entries older than the window are skipped by
//     Percentile and Statistics (they still occupy their slot until
//     replaced by sampling).
package stats

import (
	"math/rand"
	"sort"
	"time"
)

// Measurement is one stored sample with its arrival time.
type Measurement struct {
	Value float64
	At    time.Time
}

// Stats summarizes the live samples of a reservoir.
type Stats struct {
	Count   int
	Average float64
}

// Reservoir is a fixed-capacity uniform sample over a measurement stream,
// optionally restricted to a trailing time window. It is not safe for
// concurrent use; callers serialize access.
type Reservoir struct {
	data     []Measurement
	capacity int
	window   time.Duration // zero = untimed
	seen     int           // total pushes observed

	now  func() time.Time
	intn func(n int) int
}

// NewReservoir creates a reservoir with the given capacity. A non-zero
// window restricts Percentile and Statistics to samples younger than window.
func NewReservoir(capacity int, window time.Duration) *Reservoir {
	return &Reservoir{
		data:     make([]Measurement, 0, capacity),
		capacity: capacity,
		window:   window,
		now:      time.Now,
		intn:     rand.Intn,
	}
}

// Push adds a measurement, applying reservoir sampling once full.
func (r *Reservoir) Push(value float64) {
	m := Measurement{Value: value, At: r.now()}
	r.seen++
	if len(r.data) < r.capacity {
		r.data = append(r.data, m)
		return
	}
	// Algorithm R: keep each of the seen elements with probability
	// capacity/seen by drawing a slot over the whole stream so far.
	j := r.intn(r.seen)
	if j < r.capacity {
		r.data[j] = m
	}
}

// Size returns the number of stored measurements.
func (r *Reservoir) Size() int {
	return len(r.data)
}

// At returns the i-th stored measurement in insertion/slot order.
func (r *Reservoir) At(i int) Measurement {
	return r.data[i]
}

// live returns the values inside the time window, or all values when the
// reservoir is untimed.
func (r *Reservoir) live() []float64 {
	values := make([]float64, 0, len(r.data))
	var cutoff time.Time
	if r.window > 0 {
		cutoff = r.now().Add(-r.window)
	}
	for _, m := range r.data {
		if r.window > 0 && !m.At.After(cutoff) {
			continue
		}
		values = append(values, m.Value)
	}
	return values
}

// Percentile computes the p-th percentile (p in [0,100]) of the live samples
// by linear interpolation between closest ranks. The second return value is
// false when no live samples exist.
func (r *Reservoir) Percentile(p float64) (float64, bool) {
	values := r.live()
	if len(values) == 0 {
		return 0, false
	}
	sort.Float64s(values)
	if len(values) == 1 {
		return values[0], true
	}
	rank := p / 100 * float64(len(values)-1)
	lo := int(rank)
	if lo >= len(values)-1 {
		return values[len(values)-1], true
	}
	frac := rank - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo]), true
}

// Statistics returns the count and mean of the live samples.
func (r *Reservoir) Statistics() Stats {
	values := r.live()
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Stats{Count: len(values), Average: sum / float64(len(values))}
}
