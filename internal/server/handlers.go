package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/orchestrator"
	"github.com/normanking/synapse/internal/router"
)

// maxRequestBody bounds inbound JSON so a single client cannot exhaust
// memory with an oversized payload.
const maxRequestBody = 1 * 1024 * 1024

// Stable wire error codes.
const (
	codeInvalidRequest     = "invalid_request"
	codeNoMatchingProvider = "no_matching_providers"
	codeAllUnavailable     = "all_providers_unavailable"
	codeTimeout            = "timeout"
	codeInternal           = "internal_error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return false
	}
	return true
}

// handleOrchestrate serves POST /orchestrate.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	res, err := s.facade.Handle(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrAllProvidersUnavailable):
			writeError(w, http.StatusServiceUnavailable, codeAllUnavailable, err.Error())
		case errors.Is(err, router.ErrNoMatchingProviders):
			writeError(w, http.StatusBadRequest, codeNoMatchingProvider, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, codeTimeout, "request deadline exceeded")
		case errors.Is(err, context.Canceled):
			// The client is gone; the status is best-effort.
			writeError(w, http.StatusServiceUnavailable, codeTimeout, "request canceled")
		case errors.Is(err, orchestrator.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		default:
			s.log.Error().Err(err).Msg("orchestrate failed")
			writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type learnRequest struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Success bool   `json:"success"`
}

// handleLearn serves POST /memory/learn.
func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "action is required")
		return
	}

	if err := s.facade.Learn(r.Context(), req.Action, req.Outcome, req.Success); err != nil {
		s.log.Error().Err(err).Msg("learn failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Providers []health.ProviderHealth `json:"providers"`
}

// handleHealth serves GET /health. The service reports degraded when
// any provider's breaker is not closed; it stays 200 either way since
// the process itself is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0)
	for _, rec := range s.registry.All() {
		ids = append(ids, rec.ID)
	}
	snap := s.tracker.Snapshot(ids)

	status := "ok"
	for _, p := range snap {
		if p.State != "closed" {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Providers: snap})
}
