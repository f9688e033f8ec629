package stats

import (
	"math"
	"testing"
	"time"
)

// fakeClock advances manually so window expiry is deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) tick(d time.Duration) { c.t = c.t.Add(d) }

func TestReservoirAccumulates(t *testing.T) {
	t.Parallel()
	r := NewReservoir(3, 0)

	r.Push(1)
	r.Push(2)

	if r.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", r.Size())
	}
	if r.At(0).Value != 1 {
		t.Errorf("At(0) = %v, want 1", r.At(0).Value)
	}
	if r.At(1).Value != 2 {
		t.Errorf("At(1) = %v, want 2", r.At(1).Value)
	}
}

func TestReservoirCapsAtCapacity(t *testing.T) {
	t.Parallel()
	r := NewReservoir(3, 0)

	for _, v := range []float64{5, 4, 3, 2, 1} {
		r.Push(v)
	}

	if r.Size() != 3 {
		t.Errorf("Size() = %d, want 3", r.Size())
	}
}

func TestReservoirOverwritesChosenSlot(t *testing.T) {
	t.Parallel()
	r := NewReservoir(2, 0)
	r.intn = func(n int) int { return 0 } // always replace slot 0

	r.Push(10)
	r.Push(20)
	r.Push(30)

	if r.At(0).Value != 30 {
		t.Errorf("At(0) = %v, want 30 (overwritten)", r.At(0).Value)
	}
	if r.At(1).Value != 20 {
		t.Errorf("At(1) = %v, want 20", r.At(1).Value)
	}
}

func TestReservoirDropsOutOfRangeDraw(t *testing.T) {
	t.Parallel()
	r := NewReservoir(2, 0)
	r.intn = func(n int) int { return n - 1 } // draw beyond capacity, drop sample

	r.Push(10)
	r.Push(20)
	r.Push(30)

	if r.At(0).Value != 10 || r.At(1).Value != 20 {
		t.Errorf("reservoir = [%v %v], want [10 20]", r.At(0).Value, r.At(1).Value)
	}
}

// With a full reservoir and a deterministic draw sequence, samples are kept
// with probability capacity/seen, which is what algorithm R guarantees.
func TestReservoirUniformSample(t *testing.T) {
	t.Parallel()
	const capacity = 10
	const stream = 1000
	counts := make([]int, stream)

	for trial := 0; trial < 400; trial++ {
		r := NewReservoir(capacity, 0)
		for i := 0; i < stream; i++ {
			r.Push(float64(i))
		}
		for i := 0; i < r.Size(); i++ {
			counts[int(r.At(i).Value)]++
		}
	}

	// Each element should be retained ~400*10/1000 = 4 times. Compare the
	// first and second half of the stream; heavy bias toward either half
	// would break uniformity.
	var firstHalf, secondHalf int
	for i, c := range counts {
		if i < stream/2 {
			firstHalf += c
		} else {
			secondHalf += c
		}
	}
	ratio := float64(firstHalf) / float64(secondHalf)
	if ratio < 0.8 || ratio > 1.25 {
		t.Errorf("retention ratio first/second half = %v, want ~1", ratio)
	}
}

func TestPercentiles(t *testing.T) {
	t.Parallel()
	r := NewReservoir(5, 0)
	for _, v := range []float64{5, 1, 3, 2, 4} {
		r.Push(v)
	}

	cases := []struct {
		p    float64
		want float64
	}{
		{75, 4},
		{50, 3},
		{0.05, 1.002},
		{75.1, 4.004},
		{75.13, 4.0052},
		{0, 1},
		{100, 5},
	}
	for _, tc := range cases {
		got, ok := r.Percentile(tc.p)
		if !ok {
			t.Fatalf("Percentile(%v) returned ok=false", tc.p)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestPercentileSingleSample(t *testing.T) {
	t.Parallel()
	r := NewReservoir(5, 0)
	r.Push(42)

	got, ok := r.Percentile(75)
	if !ok || got != 42 {
		t.Errorf("Percentile(75) = %v, %v, want 42, true", got, ok)
	}
}

func TestPercentileEmpty(t *testing.T) {
	t.Parallel()
	r := NewReservoir(5, 0)

	if _, ok := r.Percentile(50); ok {
		t.Error("Percentile on empty reservoir should return ok=false")
	}
}

func TestTimeWindowedPercentile(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewReservoir(15, 60_000*time.Millisecond)
	r.now = clock.now

	for _, v := range []float64{5, 15, 20, 35, 40, 50} {
		r.Push(v)
		clock.tick(10_001 * time.Millisecond)
	}

	// The first sample is now 60.006s old and has fallen out of the window.
	got, ok := r.Percentile(50)
	if !ok {
		t.Fatal("Percentile returned ok=false")
	}
	if got != 35 {
		t.Errorf("Percentile(50) = %v, want 35", got)
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()
	r := NewReservoir(10, 0)
	for _, v := range []float64{100, 0, 100, 100} {
		r.Push(v)
	}

	s := r.Statistics()
	if s.Count != 4 {
		t.Errorf("Count = %d, want 4", s.Count)
	}
	if s.Average != 75 {
		t.Errorf("Average = %v, want 75", s.Average)
	}
}

func TestStatisticsWindowed(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewReservoir(10, time.Minute)
	r.now = clock.now

	r.Push(0)
	clock.tick(2 * time.Minute)
	r.Push(100)
	clock.tick(time.Second)

	s := r.Statistics()
	if s.Count != 1 {
		t.Fatalf("Count = %d, want 1 (old sample expired)", s.Count)
	}
	if s.Average != 100 {
		t.Errorf("Average = %v, want 100", s.Average)
	}
}
