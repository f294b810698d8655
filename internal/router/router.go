package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/metrics"
	"github.com/normanking/synapse/internal/provider"
)

// errorRatePenalty converts an observed error rate into score units so
// a flaky provider loses ties against a clean one of equal cost.
const errorRatePenalty = 2.0

// HealthGate is the breaker surface the router needs. *health.Tracker
// implements it.
type HealthGate interface {
	Allow(provider string) bool
	Report(provider string, success bool, latency time.Duration)
	Snapshot(providers []string) []health.ProviderHealth
}

// Router tries scored candidates in order until one answers.
type Router struct {
	registry *provider.Registry
	gate     HealthGate
	log      zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

// New creates a router over the given registry and health gate.
func New(registry *provider.Registry, gate HealthGate, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		gate:     gate,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// costWeight returns how heavily declared cost counts for the class.
func costWeight(c CostClass) float64 {
	switch c {
	case CostEconomy:
		return 3.0
	case CostPremium:
		return 0.2
	default:
		return 1.0
	}
}

// latencyWeight returns how heavily observed p95 counts for the class.
func latencyWeight(c LatencyClass) float64 {
	switch c {
	case LatencyRealtime:
		return 5.0
	case LatencyBatch:
		return 0.2
	default:
		return 1.0
	}
}

// score ranks a candidate; lower is better. Declared cost, observed p95
// latency, and observed error rate each contribute, weighted by the
// request's classes.
func score(rec *provider.Record, h health.ProviderHealth, req Requirements) float64 {
	return costWeight(req.Cost)*rec.BaseCost +
		latencyWeight(req.Latency)*h.P95Latency.Seconds() +
		errorRatePenalty*h.ErrorRate
}

// rank returns the matching candidates in score order. Ties keep the
// registry's cost-then-ID order, so a fresh deployment with no history
// degrades to cheapest-first.
func (r *Router) rank(req Requirements) []*provider.Record {
	cands := r.registry.Matching(req.Tags)
	if len(cands) == 0 {
		return nil
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	byID := make(map[string]health.ProviderHealth, len(ids))
	for _, h := range r.gate.Snapshot(ids) {
		byID[h.ID] = h
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return score(cands[i], byID[cands[i].ID], req) < score(cands[j], byID[cands[j].ID], req)
	})
	return cands
}

// Execute routes one request. Candidates whose breaker rejects are
// skipped without a network call; each attempted candidate gets its own
// deadline from the latency class, and its outcome is reported to the
// health gate even when the caller has already given up.
func (r *Router) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := req.Require.Validate(); err != nil {
		return nil, err
	}
	require := req.Require.Normalize()

	cands := r.rank(require)
	if len(cands) == 0 {
		return nil, fmt.Errorf("tags %v: %w", require.Tags, ErrNoMatchingProviders)
	}

	timeout := require.Latency.AttemptTimeout()
	attempts := make([]Attempt, 0, 1)

	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.gate.Allow(cand.ID) {
			r.log.Debug().Str("provider", cand.ID).Msg("skipping circuit-open provider")
			metrics.ProviderAttempts.WithLabelValues(cand.ID, "skipped").Inc()
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		completion, err := cand.Client.Complete(attemptCtx, req.Prompt, req.Context)
		cancel()
		elapsed := time.Since(start)

		r.gate.Report(cand.ID, err == nil, elapsed)
		metrics.ProviderLatency.WithLabelValues(cand.ID).Observe(elapsed.Seconds())

		if err == nil {
			metrics.ProviderAttempts.WithLabelValues(cand.ID, "ok").Inc()
			attempts = append(attempts, Attempt{Provider: cand.ID, Duration: elapsed})
			return &Result{
				Completion: completion,
				Provider:   cand.ID,
				Attempts:   attempts,
			}, nil
		}

		metrics.ProviderAttempts.WithLabelValues(cand.ID, "error").Inc()
		attempts = append(attempts, Attempt{
			Provider: cand.ID,
			Error:    err.Error(),
			Duration: elapsed,
		})
		r.log.Warn().
			Err(err).
			Str("provider", cand.ID).
			Dur("elapsed", elapsed).
			Msg("provider attempt failed, trying next candidate")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%d attempts: %w", len(attempts), ErrAllProvidersUnavailable)
}
