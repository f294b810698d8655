package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/synapse/internal/config"
	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/memory"
	"github.com/normanking/synapse/internal/orchestrator"
	"github.com/normanking/synapse/internal/provider"
	"github.com/normanking/synapse/internal/router"
	"github.com/normanking/synapse/internal/storage"
)

type fixture struct {
	srv     *httptest.Server
	tracker *health.Tracker
	mocks   map[string]*provider.MockClient
}

func newFixture(t *testing.T, providers ...config.ProviderConfig) *fixture {
	t.Helper()
	if len(providers) == 0 {
		providers = []config.ProviderConfig{{ID: "alpha", Kind: "mock", BaseCost: 1.0}}
	}

	reg, err := provider.Build(providers)
	require.NoError(t, err)
	mocks := make(map[string]*provider.MockClient)
	for _, rec := range reg.All() {
		if m, ok := rec.Client.(*provider.MockClient); ok {
			mocks[rec.ID] = m
		}
	}

	session, err := storage.NewLocal(256)
	require.NoError(t, err)
	durable, err := storage.NewLocal(256)
	require.NoError(t, err)
	mem := memory.NewManager(memory.DefaultConfig(), session, durable)

	tracker := health.NewTracker(health.DefaultConfig())
	rt := router.New(reg, tracker)
	facade := orchestrator.New(mem, rt)

	s := New(config.ServerConfig{Addr: ":0", RequestTimeout: 30 * time.Second}, facade, tracker, reg, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, tracker: tracker, mocks: mocks}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestOrchestrateSuccess(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/orchestrate", map[string]any{
		"session_id": "s1",
		"message":    "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", body["provider_used"])
	assert.NotEmpty(t, body["response"])
}

func TestOrchestrateWireContract(t *testing.T) {
	f := newFixture(t, config.ProviderConfig{
		ID: "alpha", Kind: "mock", Tags: []string{"fast", "cheap"}, BaseCost: 0.5,
	})

	resp, body := f.post(t, "/orchestrate", map[string]any{
		"session_id": "s1",
		"message":    "hello there",
		"requirements": map[string]any{
			"latency_class":   "realtime",
			"cost_class":      "economy",
			"capability_tags": []string{"fast"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", body["provider_used"])
	assert.NotEmpty(t, body["response"])
	assert.Contains(t, body, "tokens")
}

func TestOrchestrateRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/orchestrate", "application/json",
		bytes.NewReader([]byte(`{"session_id": `)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrchestrateRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/orchestrate", map[string]any{
		"session_id": "s1",
		"message":    "hello",
		"promt_typo": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(body))
}

func TestOrchestrateValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/orchestrate", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(body))

	resp, body = f.post(t, "/orchestrate", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(body))
}

func TestOrchestrateAllProvidersUnavailable(t *testing.T) {
	f := newFixture(t)
	f.mocks["alpha"].Handler = func(int, string) (string, error) {
		return "", errors.New("down")
	}

	resp, body := f.post(t, "/orchestrate", map[string]any{
		"session_id": "s1",
		"message":    "hello",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "all_providers_unavailable", errorCode(body))
}

func TestOrchestrateNoMatchingProviders(t *testing.T) {
	f := newFixture(t, config.ProviderConfig{
		ID: "alpha", Kind: "mock", Tags: []string{"fast"}, BaseCost: 1.0,
	})

	resp, body := f.post(t, "/orchestrate", map[string]any{
		"session_id":   "s1",
		"message":      "hello",
		"requirements": map[string]any{"capability_tags": []string{"reasoning"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_matching_providers", errorCode(body))
}

func TestLearnEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/memory/learn", map[string]any{
		"action":  "retry strategy",
		"outcome": "exponential backoff recovered the session",
		"success": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = f.post(t, "/memory/learn", map[string]any{"outcome": "no action"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(body))
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "alpha", body.Providers[0].ID)
	assert.Equal(t, "closed", body.Providers[0].State)
}

func TestHealthReportsDegraded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.tracker.Report("alpha", false, time.Millisecond)
	}

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "open", body.Providers[0].State)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
