// Package health tracks per-provider call outcomes and gates traffic
// through a circuit breaker per provider. State is sharded: reporting
// for one provider never contends with another, and the tracker is a
// plain injected value, never a package-level global.
package health

import (
	"sync"
	"time"

	"github.com/normanking/synapse/internal/metrics"
)

// State is the circuit breaker state for one provider.
type State int

const (
	// StateClosed serves traffic normally.
	StateClosed State = iota
	// StateOpen rejects immediately until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits one trial request at a time.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes breaker behavior. The same config applies to every
// provider; per-provider tuning has not been needed yet.
type Config struct {
	// Window is the sliding window size in calls.
	Window int

	// ErrorThreshold opens the breaker when the error rate over a full
	// window exceeds it.
	ErrorThreshold float64

	// LatencySLA is the p95 budget per window. Zero disables latency
	// tripping.
	LatencySLA time.Duration

	// SLABreachWindows is how many consecutive windows must breach the
	// SLA before opening.
	SLABreachWindows int

	// Cooldown is the initial open duration; it doubles on each repeated
	// trip up to MaxCooldown and resets when the breaker closes.
	Cooldown    time.Duration
	MaxCooldown time.Duration

	// HalfOpenSuccesses is the consecutive trial successes required to
	// close.
	HalfOpenSuccesses int

	// OnStateChange, when set, observes every transition.
	OnStateChange func(provider string, from, to State)
}

// DefaultConfig returns the stock breaker tuning.
func DefaultConfig() Config {
	return Config{
		Window:            20,
		ErrorThreshold:    0.5,
		SLABreachWindows:  3,
		Cooldown:          30 * time.Second,
		MaxCooldown:       10 * time.Minute,
		HalfOpenSuccesses: 3,
	}
}

// shard holds one provider's breaker and rolling statistics behind its
// own lock.
type shard struct {
	mu sync.Mutex

	ring  *ring
	state State

	openedAt time.Time
	cooldown time.Duration

	trialInFlight  bool
	trialSuccesses int

	windowSamples int // samples since the last window boundary
	slaBreaches   int // consecutive windows over the latency SLA
}

// ProviderHealth is a point-in-time view for operational monitoring.
type ProviderHealth struct {
	ID         string        `json:"id"`
	State      string        `json:"state"`
	ErrorRate  float64       `json:"error_rate"`
	P95Latency time.Duration `json:"p95_latency"`
}

// Tracker maintains one shard per provider.
type Tracker struct {
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	shards map[string]*shard
}

// NewTracker builds a tracker with cfg, filling zero values from
// DefaultConfig.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.SLABreachWindows <= 0 {
		cfg.SLABreachWindows = def.SLABreachWindows
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = def.MaxCooldown
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return &Tracker{
		cfg:    cfg,
		now:    time.Now,
		shards: make(map[string]*shard),
	}
}

// SetClock overrides the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// shardFor returns the provider's shard, creating it Closed on first use.
func (t *Tracker) shardFor(provider string) *shard {
	t.mu.RLock()
	s, ok := t.shards[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.shards[provider]; ok {
		return s
	}
	s = &shard{ring: newRing(t.cfg.Window), cooldown: t.cfg.Cooldown}
	t.shards[provider] = s
	return s
}

// Report records one call outcome for provider. Results of abandoned
// calls are still reported here; the statistics stay honest even when
// the caller has moved on.
func (t *Tracker) Report(provider string, success bool, latency time.Duration) {
	s := t.shardFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.add(success, latency)
	s.windowSamples++

	switch s.state {
	case StateHalfOpen:
		s.trialInFlight = false
		if success {
			s.trialSuccesses++
			if s.trialSuccesses >= t.cfg.HalfOpenSuccesses {
				t.transition(provider, s, StateClosed)
			}
			return
		}
		// A single trial failure reopens with a strictly longer cooldown.
		s.cooldown = minDuration(s.cooldown*2, t.cfg.MaxCooldown)
		t.transition(provider, s, StateOpen)

	case StateClosed:
		if s.ring.full() && s.ring.errorRate() > t.cfg.ErrorThreshold {
			t.transition(provider, s, StateOpen)
			return
		}
		if t.cfg.LatencySLA > 0 && s.windowSamples >= t.cfg.Window {
			s.windowSamples = 0
			if s.ring.p95() > t.cfg.LatencySLA {
				s.slaBreaches++
				if s.slaBreaches >= t.cfg.SLABreachWindows {
					t.transition(provider, s, StateOpen)
				}
			} else {
				s.slaBreaches = 0
			}
		}
	}
}

// Allow reports whether a request may be routed to provider. In the Open
// state it flips to HalfOpen once the cooldown elapses and admits exactly
// one trial at a time.
func (t *Tracker) Allow(provider string) bool {
	s := t.shardFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if t.now().Sub(s.openedAt) >= s.cooldown {
			t.transition(provider, s, StateHalfOpen)
			s.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if s.trialInFlight {
			return false
		}
		s.trialInFlight = true
		return true
	default:
		return false
	}
}

// State returns the provider's current breaker state.
func (t *Tracker) State(provider string) State {
	s := t.shardFor(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns health for the given providers, for the /health
// surface. Providers never reported on show as Closed with zero stats.
func (t *Tracker) Snapshot(providers []string) []ProviderHealth {
	out := make([]ProviderHealth, 0, len(providers))
	for _, id := range providers {
		s := t.shardFor(id)
		s.mu.Lock()
		out = append(out, ProviderHealth{
			ID:         id,
			State:      s.state.String(),
			ErrorRate:  s.ring.errorRate(),
			P95Latency: s.ring.p95(),
		})
		s.mu.Unlock()
	}
	return out
}

// transition moves a shard to next. Must be called with the shard lock
// held.
func (t *Tracker) transition(provider string, s *shard, next State) {
	if s.state == next {
		return
	}
	from := s.state
	s.state = next

	switch next {
	case StateOpen:
		s.openedAt = t.now()
		s.trialSuccesses = 0
		s.trialInFlight = false
	case StateClosed:
		// Full recovery: clear stale window so old failures cannot
		// immediately retrip, and reset the backoff.
		s.ring.reset()
		s.windowSamples = 0
		s.slaBreaches = 0
		s.trialSuccesses = 0
		s.trialInFlight = false
		s.cooldown = t.cfg.Cooldown
	case StateHalfOpen:
		s.trialSuccesses = 0
	}

	metrics.BreakerTransitions.WithLabelValues(provider, next.String()).Inc()
	if t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(provider, from, next)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
