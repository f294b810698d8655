package health

import (
	"sort"
	"time"
)

// sample is one observed call outcome.
type sample struct {
	ok      bool
	latency time.Duration
}

// ring is a fixed-size sliding window of call outcomes. O(1) updates,
// bounded memory regardless of traffic volume.
type ring struct {
	samples []sample
	next    int
	count   int
}

func newRing(size int) *ring {
	return &ring{samples: make([]sample, size)}
}

func (r *ring) add(ok bool, latency time.Duration) {
	r.samples[r.next] = sample{ok: ok, latency: latency}
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

// full reports whether a complete window has been observed.
func (r *ring) full() bool {
	return r.count == len(r.samples)
}

// errorRate returns the failure fraction over the current window.
func (r *ring) errorRate() float64 {
	if r.count == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < r.count; i++ {
		if !r.samples[i].ok {
			failures++
		}
	}
	return float64(failures) / float64(r.count)
}

// p95 returns the 95th percentile latency over the current window.
func (r *ring) p95() time.Duration {
	if r.count == 0 {
		return 0
	}
	lats := make([]time.Duration, r.count)
	for i := 0; i < r.count; i++ {
		lats[i] = r.samples[i].latency
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	idx := (r.count * 95) / 100
	if idx >= r.count {
		idx = r.count - 1
	}
	return lats[idx]
}

// reset clears the window.
func (r *ring) reset() {
	r.next = 0
	r.count = 0
}
