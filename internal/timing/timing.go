// Package timing measures how far played notes land from their scheduled
// times.
//
// A deviation is scheduled minus actual, in milliseconds: positive values
// are early hits, negative values are late.
package timing

import (
	"math"
	"sync"
)

const (
	PerfectMs    = 15.0
	GoodMs       = 30.0
	AcceptableMs = 50.0

	HistogramBuckets = 11 // 10 ms buckets over -50..+50
	histogramSpanMs  = 50.0
	bucketWidthMs    = 10.0

	DefaultCapacity = 512
)

type Grade int

const (
	Perfect Grade = iota
	Good
	Acceptable
	Off
)

func (g Grade) String() string {
	switch g {
	case Perfect:
		return "perfect"
	case Good:
		return "good"
	case Acceptable:
		return "acceptable"
	}
	return "off"
}

// GradeOf grades a deviation by its magnitude.
func GradeOf(ms float64) Grade {
	a := math.Abs(ms)
	switch {
	case a <= PerfectMs:
		return Perfect
	case a <= GoodMs:
		return Good
	case a <= AcceptableMs:
		return Acceptable
	}
	return Off
}

// Deviation converts a scheduled and an actual time in seconds to a
// deviation sample in milliseconds.
func Deviation(scheduled, actual float64) float64 {
	return (scheduled - actual) * 1000
}

// Nearest returns the scheduled time closest to actual, provided it is
// within window seconds.
func Nearest(scheduled []float64, actual, window float64) (float64, bool) {
	best, found := 0.0, false
	for _, at := range scheduled {
		if math.Abs(at-actual) > window {
			continue
		}
		if !found || math.Abs(at-actual) < math.Abs(best-actual) {
			best, found = at, true
		}
	}
	return best, found
}

// Stats summarises a set of deviations. Percentages and the average are
// rounded to whole numbers.
type Stats struct {
	Count     int
	EarlyPct  int
	OnTimePct int
	LatePct   int
	AverageMs int
	Histogram [HistogramBuckets]int
}

// BucketCenter returns the deviation, in ms, a histogram bucket stands for.
func BucketCenter(i int) float64 {
	return float64(i)*bucketWidthMs - histogramSpanMs
}

func Analyze(deviations []float64) Stats {
	var st Stats
	if len(deviations) == 0 {
		return st
	}
	var early, onTime, late int
	var total float64
	for _, d := range deviations {
		total += d
		switch {
		case d > PerfectMs:
			early++
		case d < -PerfectMs:
			late++
		default:
			onTime++
		}
		c := math.Max(-histogramSpanMs, math.Min(histogramSpanMs, d))
		i := int(math.Floor((c + histogramSpanMs) / bucketWidthMs))
		if i >= HistogramBuckets {
			i = HistogramBuckets - 1
		}
		st.Histogram[i]++
	}
	n := float64(len(deviations))
	st.Count = len(deviations)
	st.EarlyPct = roundHalfUp(float64(early) / n * 100)
	st.OnTimePct = roundHalfUp(float64(onTime) / n * 100)
	st.LatePct = roundHalfUp(float64(late) / n * 100)
	st.AverageMs = roundHalfUp(total / n)
	return st
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Recorder keeps the most recent deviations. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	samples  []float64
	capacity int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{capacity: capacity}
}

// Record stores the deviation between scheduled and actual (seconds) and
// returns it in milliseconds.
func (r *Recorder) Record(scheduled, actual float64) float64 {
	d := Deviation(scheduled, actual)
	r.Add(d)
	return d
}

func (r *Recorder) Add(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == r.capacity {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, ms)
}

func (r *Recorder) Samples() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.samples...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.samples = r.samples[:0]
	r.mu.Unlock()
}

func (r *Recorder) Stats() Stats {
	return Analyze(r.Samples())
}
