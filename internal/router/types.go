// Package router selects a provider for each request and fails over
// when providers misbehave. Candidates are scored on declared cost and
// observed latency, gated by the circuit breaker, and tried in order
// until one answers or the list runs out.
package router

import (
	"errors"
	"time"

	"github.com/normanking/synapse/internal/provider"
)

// ErrAllProvidersUnavailable is returned when every matching provider is
// either circuit-open or failed its attempt. Callers map it to a 503.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// ErrNoMatchingProviders is returned when no registered provider
// declares the required capability tags. Unlike exhaustion this is a
// configuration problem, not a transient one.
var ErrNoMatchingProviders = errors.New("no providers match the required capabilities")

// LatencyClass expresses how long the caller is willing to wait for a
// single attempt.
type LatencyClass string

const (
	// LatencyRealtime serves interactive traffic.
	LatencyRealtime LatencyClass = "realtime"
	// LatencyStandard is the default for request/response traffic.
	LatencyStandard LatencyClass = "standard"
	// LatencyBatch serves background work that tolerates slow providers.
	LatencyBatch LatencyClass = "batch"
)

// AllLatencyClasses returns every valid latency class for validation.
func AllLatencyClasses() []LatencyClass {
	return []LatencyClass{LatencyRealtime, LatencyStandard, LatencyBatch}
}

// IsValid checks whether the class is known.
func (c LatencyClass) IsValid() bool {
	for _, valid := range AllLatencyClasses() {
		if c == valid {
			return true
		}
	}
	return false
}

// AttemptTimeout is the per-attempt deadline for the class. The timeout
// bounds one provider call, not the whole failover loop.
func (c LatencyClass) AttemptTimeout() time.Duration {
	switch c {
	case LatencyRealtime:
		return 2 * time.Second
	case LatencyBatch:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

// CostClass expresses how much weight provider cost carries in
// candidate ordering.
type CostClass string

const (
	// CostEconomy prefers the cheapest viable provider.
	CostEconomy CostClass = "economy"
	// CostStandard balances cost against observed latency.
	CostStandard CostClass = "standard"
	// CostPremium mostly ignores cost in favor of the healthiest provider.
	CostPremium CostClass = "premium"
)

// AllCostClasses returns every valid cost class for validation.
func AllCostClasses() []CostClass {
	return []CostClass{CostEconomy, CostStandard, CostPremium}
}

// IsValid checks whether the class is known.
func (c CostClass) IsValid() bool {
	for _, valid := range AllCostClasses() {
		if c == valid {
			return true
		}
	}
	return false
}

// Requirements narrows and orders the candidate set for one request.
// Zero values mean standard latency, standard cost, no required tags.
type Requirements struct {
	// Latency selects the per-attempt timeout and how heavily observed
	// latency weighs in scoring.
	Latency LatencyClass `json:"latency_class,omitempty"`

	// Cost selects how heavily declared provider cost weighs in scoring.
	Cost CostClass `json:"cost_class,omitempty"`

	// Tags are capabilities every candidate must declare.
	Tags []provider.Tag `json:"capability_tags,omitempty"`
}

// Normalize fills zero values with the standard classes.
func (r Requirements) Normalize() Requirements {
	if r.Latency == "" {
		r.Latency = LatencyStandard
	}
	if r.Cost == "" {
		r.Cost = CostStandard
	}
	return r
}

// Validate rejects unknown classes. Empty values are allowed; Normalize
// resolves them.
func (r Requirements) Validate() error {
	if r.Latency != "" && !r.Latency.IsValid() {
		return errors.New("unknown latency class " + string(r.Latency))
	}
	if r.Cost != "" && !r.Cost.IsValid() {
		return errors.New("unknown cost class " + string(r.Cost))
	}
	return nil
}

// Request is one routed completion request.
type Request struct {
	// Prompt is the user's message.
	Prompt string

	// Context is assembled conversation memory, passed through to the
	// provider verbatim.
	Context string

	// Require narrows and orders candidates.
	Require Requirements
}

// Attempt records one provider try, successful or not, for callers that
// want to see the failover path.
type Attempt struct {
	Provider string        `json:"provider"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is a routed completion plus the path taken to get it.
type Result struct {
	// Completion is the winning provider's response.
	Completion *provider.Completion `json:"completion"`

	// Provider is the ID of the provider that answered.
	Provider string `json:"provider"`

	// Attempts lists every try in order, the winner last.
	Attempts []Attempt `json:"attempts"`
}
