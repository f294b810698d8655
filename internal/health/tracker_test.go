package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for breaker cooldown tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(cfg Config) (*Tracker, *fakeClock) {
	t := NewTracker(cfg)
	clk := newFakeClock()
	t.SetClock(clk.Now)
	return t, clk
}

func TestBreakerOpensOnErrorRate(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 20, ErrorThreshold: 0.5})

	// 60% failures: the breaker must open within one full window.
	for i := 0; i < 20; i++ {
		tr.Report("alpha", i%5 >= 3, 10*time.Millisecond)
	}
	assert.Equal(t, StateOpen, tr.State("alpha"))
	assert.False(t, tr.Allow("alpha"), "open breaker rejects before cooldown")
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 20, ErrorThreshold: 0.5})

	// Exactly 50% failures does not exceed the threshold.
	for i := 0; i < 40; i++ {
		tr.Report("alpha", i%2 == 0, 10*time.Millisecond)
	}
	assert.Equal(t, StateClosed, tr.State("alpha"))
	assert.True(t, tr.Allow("alpha"))
}

func TestBreakerIgnoresPartialWindow(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 20, ErrorThreshold: 0.5})

	// All failures, but fewer samples than a full window.
	for i := 0; i < 19; i++ {
		tr.Report("alpha", false, time.Millisecond)
	}
	assert.Equal(t, StateClosed, tr.State("alpha"))
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	tr, clk := newTestTracker(Config{
		Window: 4, ErrorThreshold: 0.5,
		Cooldown: 30 * time.Second, HalfOpenSuccesses: 3,
	})

	for i := 0; i < 4; i++ {
		tr.Report("alpha", false, time.Millisecond)
	}
	require.Equal(t, StateOpen, tr.State("alpha"))

	assert.False(t, tr.Allow("alpha"))
	clk.Advance(29 * time.Second)
	assert.False(t, tr.Allow("alpha"), "cooldown has not elapsed")

	clk.Advance(time.Second)
	assert.True(t, tr.Allow("alpha"), "first probe after cooldown is admitted")
	assert.Equal(t, StateHalfOpen, tr.State("alpha"))
	assert.False(t, tr.Allow("alpha"), "only one trial may be in flight")

	// Trial succeeded; the next trial may start.
	tr.Report("alpha", true, time.Millisecond)
	assert.True(t, tr.Allow("alpha"))
}

func TestHalfOpenRecoveryClosesAfterSuccesses(t *testing.T) {
	tr, clk := newTestTracker(Config{
		Window: 4, ErrorThreshold: 0.5,
		Cooldown: 30 * time.Second, HalfOpenSuccesses: 3,
	})

	for i := 0; i < 4; i++ {
		tr.Report("alpha", false, time.Millisecond)
	}
	clk.Advance(30 * time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, tr.Allow("alpha"))
		tr.Report("alpha", true, time.Millisecond)
	}
	assert.Equal(t, StateClosed, tr.State("alpha"))

	// The stale failure window was cleared; one new failure cannot retrip.
	tr.Report("alpha", false, time.Millisecond)
	assert.Equal(t, StateClosed, tr.State("alpha"))
}

func TestTrialFailureReopensWithLongerCooldown(t *testing.T) {
	tr, clk := newTestTracker(Config{
		Window: 4, ErrorThreshold: 0.5,
		Cooldown: 30 * time.Second, MaxCooldown: 10 * time.Minute,
		HalfOpenSuccesses: 3,
	})

	for i := 0; i < 4; i++ {
		tr.Report("alpha", false, time.Millisecond)
	}
	clk.Advance(30 * time.Second)
	require.True(t, tr.Allow("alpha"))
	tr.Report("alpha", false, time.Millisecond)
	require.Equal(t, StateOpen, tr.State("alpha"))

	// Cooldown doubled to 60s: the old 30s wait no longer suffices.
	clk.Advance(30 * time.Second)
	assert.False(t, tr.Allow("alpha"))
	clk.Advance(30 * time.Second)
	assert.True(t, tr.Allow("alpha"))
}

func TestCooldownCapsAtMax(t *testing.T) {
	tr, clk := newTestTracker(Config{
		Window: 2, ErrorThreshold: 0.5,
		Cooldown: 4 * time.Minute, MaxCooldown: 10 * time.Minute,
		HalfOpenSuccesses: 1,
	})

	tr.Report("alpha", false, time.Millisecond)
	tr.Report("alpha", false, time.Millisecond)

	// Fail the trial twice: 4m doubles to 8m, then caps at 10m.
	for _, wait := range []time.Duration{4 * time.Minute, 8 * time.Minute} {
		clk.Advance(wait)
		require.True(t, tr.Allow("alpha"))
		tr.Report("alpha", false, time.Millisecond)
	}
	clk.Advance(10*time.Minute - time.Second)
	assert.False(t, tr.Allow("alpha"))
	clk.Advance(time.Second)
	assert.True(t, tr.Allow("alpha"))
}

func TestCooldownResetsAfterClose(t *testing.T) {
	tr, clk := newTestTracker(Config{
		Window: 2, ErrorThreshold: 0.5,
		Cooldown: 30 * time.Second, HalfOpenSuccesses: 1,
	})

	trip := func() {
		tr.Report("alpha", false, time.Millisecond)
		tr.Report("alpha", false, time.Millisecond)
		require.Equal(t, StateOpen, tr.State("alpha"))
	}

	trip()
	clk.Advance(30 * time.Second)
	require.True(t, tr.Allow("alpha"))
	tr.Report("alpha", false, time.Millisecond) // doubles to 60s
	clk.Advance(time.Minute)
	require.True(t, tr.Allow("alpha"))
	tr.Report("alpha", true, time.Millisecond)
	require.Equal(t, StateClosed, tr.State("alpha"))

	// After a clean close the backoff starts over at the base cooldown.
	trip()
	clk.Advance(30 * time.Second)
	assert.True(t, tr.Allow("alpha"))
}

func TestLatencySLABreachOpensAfterConsecutiveWindows(t *testing.T) {
	tr, _ := newTestTracker(Config{
		Window: 10, ErrorThreshold: 0.5,
		LatencySLA: 100 * time.Millisecond, SLABreachWindows: 3,
	})

	slowWindow := func() {
		for i := 0; i < 10; i++ {
			tr.Report("alpha", true, 500*time.Millisecond)
		}
	}

	slowWindow()
	slowWindow()
	assert.Equal(t, StateClosed, tr.State("alpha"), "two breaching windows are not enough")
	slowWindow()
	assert.Equal(t, StateOpen, tr.State("alpha"))
}

func TestLatencySLABreachStreakResets(t *testing.T) {
	tr, _ := newTestTracker(Config{
		Window: 10, ErrorThreshold: 0.5,
		LatencySLA: 100 * time.Millisecond, SLABreachWindows: 3,
	})

	window := func(lat time.Duration) {
		for i := 0; i < 10; i++ {
			tr.Report("alpha", true, lat)
		}
	}

	window(500 * time.Millisecond)
	window(500 * time.Millisecond)
	window(10 * time.Millisecond) // healthy window breaks the streak
	window(500 * time.Millisecond)
	window(500 * time.Millisecond)
	assert.Equal(t, StateClosed, tr.State("alpha"))
}

func TestProvidersAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 4, ErrorThreshold: 0.5})

	for i := 0; i < 4; i++ {
		tr.Report("alpha", false, time.Millisecond)
		tr.Report("beta", true, time.Millisecond)
	}
	assert.Equal(t, StateOpen, tr.State("alpha"))
	assert.Equal(t, StateClosed, tr.State("beta"))
	assert.True(t, tr.Allow("beta"))
}

func TestSnapshotReportsStats(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 4, ErrorThreshold: 0.9})

	tr.Report("alpha", true, 10*time.Millisecond)
	tr.Report("alpha", false, 20*time.Millisecond)

	snap := tr.Snapshot([]string{"alpha", "never-seen"})
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].ID)
	assert.Equal(t, "closed", snap[0].State)
	assert.InDelta(t, 0.5, snap[0].ErrorRate, 1e-9)
	assert.Equal(t, 20*time.Millisecond, snap[0].P95Latency)

	assert.Equal(t, "closed", snap[1].State)
	assert.Zero(t, snap[1].ErrorRate)
}

func TestOnStateChangeObserved(t *testing.T) {
	var transitions []string
	var mu sync.Mutex
	tr, clk := newTestTracker(Config{
		Window: 2, ErrorThreshold: 0.5,
		Cooldown: time.Second, HalfOpenSuccesses: 1,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			transitions = append(transitions, provider+":"+from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	tr.Report("alpha", false, time.Millisecond)
	tr.Report("alpha", false, time.Millisecond)
	clk.Advance(time.Second)
	require.True(t, tr.Allow("alpha"))
	tr.Report("alpha", true, time.Millisecond)

	assert.Equal(t, []string{
		"alpha:closed>open",
		"alpha:open>half-open",
		"alpha:half-open>closed",
	}, transitions)
}

func TestReportConcurrentProviders(t *testing.T) {
	tr, _ := newTestTracker(Config{Window: 50, ErrorThreshold: 0.5})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tr.Report(id, true, time.Millisecond)
				tr.Allow(id)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, StateClosed, tr.State(id))
	}
}
