package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/provider"
)

type reported struct {
	provider string
	success  bool
}

// stubGate is a scriptable health gate: blocked providers are skipped
// and stats injected per provider drive candidate scoring.
type stubGate struct {
	blocked map[string]bool
	stats   map[string]health.ProviderHealth
	reports []reported
}

func newStubGate() *stubGate {
	return &stubGate{
		blocked: make(map[string]bool),
		stats:   make(map[string]health.ProviderHealth),
	}
}

func (g *stubGate) Allow(id string) bool {
	return !g.blocked[id]
}

func (g *stubGate) Report(id string, success bool, _ time.Duration) {
	g.reports = append(g.reports, reported{provider: id, success: success})
}

func (g *stubGate) Snapshot(ids []string) []health.ProviderHealth {
	out := make([]health.ProviderHealth, 0, len(ids))
	for _, id := range ids {
		h, ok := g.stats[id]
		if !ok {
			h = health.ProviderHealth{ID: id, State: "closed"}
		}
		out = append(out, h)
	}
	return out
}

func newRegistry(t *testing.T, records ...*provider.Record) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry(records)
	require.NoError(t, err)
	return reg
}

func mockRecord(id string, cost float64, tags ...provider.Tag) (*provider.Record, *provider.MockClient) {
	set := make(map[provider.Tag]bool, len(tags))
	for _, tg := range tags {
		set[tg] = true
	}
	m := provider.NewMockClient(id)
	return &provider.Record{ID: id, Tags: set, BaseCost: cost, Client: m}, m
}

func TestExecuteFailsOverToNextCandidate(t *testing.T) {
	alphaRec, alpha := mockRecord("alpha", 1.0)
	betaRec, beta := mockRecord("beta", 2.0)
	alpha.Handler = func(int, string) (string, error) {
		return "", errors.New("upstream 500")
	}

	gate := newStubGate()
	r := New(newRegistry(t, alphaRec, betaRec), gate)

	res, err := r.Execute(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Provider)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "alpha", res.Attempts[0].Provider)
	assert.Contains(t, res.Attempts[0].Error, "upstream 500")
	assert.Equal(t, "beta", res.Attempts[1].Provider)
	assert.Empty(t, res.Attempts[1].Error)

	assert.Equal(t, 1, alpha.Calls())
	assert.Equal(t, 1, beta.Calls())
	assert.Equal(t, []reported{
		{provider: "alpha", success: false},
		{provider: "beta", success: true},
	}, gate.reports)
}

func TestExecuteSkipsOpenBreakersWithoutCalling(t *testing.T) {
	alphaRec, alpha := mockRecord("alpha", 1.0)
	betaRec, beta := mockRecord("beta", 2.0)

	gate := newStubGate()
	gate.blocked["alpha"] = true
	gate.blocked["beta"] = true
	r := New(newRegistry(t, alphaRec, betaRec), gate)

	_, err := r.Execute(context.Background(), Request{Prompt: "hi"})
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Zero(t, alpha.Calls(), "open breakers must not cost a network call")
	assert.Zero(t, beta.Calls())
	assert.Empty(t, gate.reports)
}

func TestExecuteAllAttemptsFail(t *testing.T) {
	fail := func(int, string) (string, error) { return "", errors.New("down") }
	alphaRec, alpha := mockRecord("alpha", 1.0)
	betaRec, beta := mockRecord("beta", 2.0)
	alpha.Handler = fail
	beta.Handler = fail

	r := New(newRegistry(t, alphaRec, betaRec), newStubGate())

	_, err := r.Execute(context.Background(), Request{Prompt: "hi"})
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Equal(t, 1, alpha.Calls())
	assert.Equal(t, 1, beta.Calls())
}

func TestExecuteNoMatchingTags(t *testing.T) {
	alphaRec, _ := mockRecord("alpha", 1.0, provider.TagFast)
	r := New(newRegistry(t, alphaRec), newStubGate())

	_, err := r.Execute(context.Background(), Request{
		Prompt:  "hi",
		Require: Requirements{Tags: []provider.Tag{provider.TagReasoning}},
	})
	assert.ErrorIs(t, err, ErrNoMatchingProviders)
}

func TestExecuteRejectsUnknownClasses(t *testing.T) {
	alphaRec, _ := mockRecord("alpha", 1.0)
	r := New(newRegistry(t, alphaRec), newStubGate())

	_, err := r.Execute(context.Background(), Request{
		Prompt:  "hi",
		Require: Requirements{Latency: "instant"},
	})
	assert.Error(t, err)
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	alphaRec, alpha := mockRecord("alpha", 1.0)
	r := New(newRegistry(t, alphaRec), newStubGate())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Execute(ctx, Request{Prompt: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, alpha.Calls())
}

func TestRankPrefersCheapWithoutHistory(t *testing.T) {
	priceyRec, _ := mockRecord("pricey", 5.0)
	cheapRec, _ := mockRecord("cheap", 0.5)

	r := New(newRegistry(t, priceyRec, cheapRec), newStubGate())

	cands := r.rank(Requirements{}.Normalize())
	require.Len(t, cands, 2)
	assert.Equal(t, "cheap", cands[0].ID)
}

func TestRankRealtimePrefersFastProvider(t *testing.T) {
	cheapRec, _ := mockRecord("cheap-slow", 0.5)
	fastRec, _ := mockRecord("fast-pricey", 1.0)

	gate := newStubGate()
	gate.stats["cheap-slow"] = health.ProviderHealth{ID: "cheap-slow", P95Latency: 4 * time.Second}
	gate.stats["fast-pricey"] = health.ProviderHealth{ID: "fast-pricey", P95Latency: 200 * time.Millisecond}

	r := New(newRegistry(t, cheapRec, fastRec), gate)

	// Realtime weighs latency heavily: the fast provider wins despite
	// costing twice as much.
	cands := r.rank(Requirements{Latency: LatencyRealtime, Cost: CostStandard})
	assert.Equal(t, "fast-pricey", cands[0].ID)

	// Batch traffic flips the ordering back to cheapest.
	cands = r.rank(Requirements{Latency: LatencyBatch, Cost: CostEconomy})
	assert.Equal(t, "cheap-slow", cands[0].ID)
}

func TestRankPenalizesErrorRate(t *testing.T) {
	flakyRec, _ := mockRecord("flaky", 1.0)
	steadyRec, _ := mockRecord("steady", 1.0)

	gate := newStubGate()
	gate.stats["flaky"] = health.ProviderHealth{ID: "flaky", ErrorRate: 0.4}
	gate.stats["steady"] = health.ProviderHealth{ID: "steady", ErrorRate: 0.0}

	r := New(newRegistry(t, flakyRec, steadyRec), gate)

	cands := r.rank(Requirements{}.Normalize())
	assert.Equal(t, "steady", cands[0].ID)
}

func TestExecuteWithRealTracker(t *testing.T) {
	alphaRec, alpha := mockRecord("alpha", 1.0)
	alpha.Handler = func(int, string) (string, error) {
		return "", errors.New("hard down")
	}
	betaRec, _ := mockRecord("beta", 2.0)

	tracker := health.NewTracker(health.Config{Window: 4, ErrorThreshold: 0.5})
	r := New(newRegistry(t, alphaRec, betaRec), tracker)

	// Alpha is cheapest so it goes first and fails. Its recorded error
	// rate then re-ranks it below beta, so later requests stop paying
	// for it even before the breaker opens.
	for i := 0; i < 6; i++ {
		res, err := r.Execute(context.Background(), Request{Prompt: "go"})
		require.NoError(t, err)
		assert.Equal(t, "beta", res.Provider)
	}
	assert.Equal(t, 1, alpha.Calls())
	assert.Equal(t, health.StateClosed, tracker.State("alpha"))
}

func TestAttemptTimeouts(t *testing.T) {
	assert.Equal(t, 2*time.Second, LatencyRealtime.AttemptTimeout())
	assert.Equal(t, 10*time.Second, LatencyStandard.AttemptTimeout())
	assert.Equal(t, 10*time.Second, LatencyClass("").AttemptTimeout())
	assert.Equal(t, 30*time.Second, LatencyBatch.AttemptTimeout())
}
