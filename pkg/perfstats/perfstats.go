package perfstats

import (
	"sync"
	"time"
)

// Accumulate samples of how long something took.
// Safe for use from multiple goroutines.
type TimeAccumulator struct {
	lock    sync.Mutex
	samples int64
	total   time.Duration
	max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.lock.Lock()
	a.samples = 0
	a.total = 0
	a.max = 0
	a.lock.Unlock()
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.lock.Lock()
	a.samples++
	a.total += v
	a.max = max(a.max, v)
	a.lock.Unlock()
}

// Record the time elapsed since start
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

// TimeSummary is a point-in-time copy of a TimeAccumulator
type TimeSummary struct {
	Samples int64         `json:"samples"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
}

func (a *TimeAccumulator) Summary() TimeSummary {
	a.lock.Lock()
	defer a.lock.Unlock()
	s := TimeSummary{
		Samples: a.samples,
		Max:     a.max,
	}
	if a.samples != 0 {
		s.Average = time.Duration(a.total.Nanoseconds() / a.samples)
	}
	return s
}
