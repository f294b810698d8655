// Package orchestrator is the single entry point tying memory assembly,
// provider routing, and interaction recording into one call. Transport
// layers stay thin: they parse a request, call Handle, and encode the
// result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/synapse/internal/memory"
	"github.com/normanking/synapse/internal/metrics"
	"github.com/normanking/synapse/internal/router"
)

// Facade coordinates one conversational exchange end to end.
type Facade struct {
	memory *memory.Manager
	router *router.Router
	log    zerolog.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the facade's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Facade) {
		f.log = log
	}
}

// New creates a facade over the memory manager and router.
func New(mem *memory.Manager, rt *router.Router, opts ...Option) *Facade {
	f := &Facade{
		memory: mem,
		router: rt,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Request is one inbound conversational exchange.
type Request struct {
	// SessionID scopes Working and Session memory. Required.
	SessionID string `json:"session_id"`

	// ProjectPath scopes Project memory. Optional.
	ProjectPath string `json:"project_path,omitempty"`

	// Message is the user's message. Required.
	Message string `json:"message"`

	// Require narrows provider selection.
	Require router.Requirements `json:"requirements,omitempty"`

	// TokenBudget caps assembled context size. Zero uses the configured
	// default.
	TokenBudget int `json:"token_budget,omitempty"`
}

// ErrInvalidRequest marks caller mistakes so transports can map them to
// a 4xx without string matching.
var ErrInvalidRequest = errors.New("invalid request")

// Validate rejects structurally invalid requests before any work runs.
func (r *Request) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if err := r.Require.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	return nil
}

// Response is the completed exchange.
type Response struct {
	// Text is the winning provider's reply.
	Text string `json:"response"`

	// ProviderUsed identifies who answered.
	ProviderUsed string `json:"provider_used"`

	// Tokens is the provider-reported total token consumption, when
	// known.
	Tokens int `json:"tokens,omitempty"`

	// Cost is the provider-reported cost, when known.
	Cost float64 `json:"cost,omitempty"`

	// Attempts is the failover path taken, the winner last.
	Attempts []router.Attempt `json:"attempts,omitempty"`

	// ContextTokens is the size of the assembled memory context.
	ContextTokens int `json:"context_tokens,omitempty"`
}

// Handle runs one exchange: assemble memory context, route to a
// provider, and record both turns. The prompt being answered is
// deliberately absent from its own context. A terminal routing failure
// still records the user's turn, tagged failed, so the conversation
// history reflects what the user actually said; a caller that cancelled
// never saw a reply, so nothing is recorded for it.
func (f *Facade) Handle(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bundle, err := f.memory.GetContext(ctx, memory.ContextQuery{
		SessionID:   req.SessionID,
		ProjectPath: req.ProjectPath,
		Query:       req.Message,
		TokenBudget: req.TokenBudget,
	})
	if err != nil {
		metrics.RequestCount.WithLabelValues("context_error").Inc()
		return nil, fmt.Errorf("assembling context: %w", err)
	}

	res, routeErr := f.router.Execute(ctx, router.Request{
		Prompt:  req.Message,
		Context: bundle.Prompt(),
		Require: req.Require,
	})

	userMeta := map[string]string{}
	if req.ProjectPath != "" {
		userMeta["project"] = req.ProjectPath
	}
	if routeErr != nil {
		userMeta["failed"] = "true"
	}
	if _, recErr := f.memory.Record(ctx, req.SessionID, &memory.Interaction{
		Role:      memory.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
		Metadata:  userMeta,
	}); recErr != nil {
		f.log.Warn().Err(recErr).Str("session", req.SessionID).Msg("user turn not recorded")
	}

	if routeErr != nil {
		switch {
		case errors.Is(routeErr, router.ErrAllProvidersUnavailable):
			metrics.RequestCount.WithLabelValues("unavailable").Inc()
		case errors.Is(routeErr, context.Canceled), errors.Is(routeErr, context.DeadlineExceeded):
			metrics.RequestCount.WithLabelValues("canceled").Inc()
		default:
			metrics.RequestCount.WithLabelValues("error").Inc()
		}
		return nil, routeErr
	}

	if _, recErr := f.memory.Record(ctx, req.SessionID, &memory.Interaction{
		Role:      memory.RoleAssistant,
		Content:   res.Completion.Text,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"provider": res.Provider},
	}); recErr != nil {
		f.log.Warn().Err(recErr).Str("session", req.SessionID).Msg("assistant turn not recorded")
	}

	metrics.RequestCount.WithLabelValues("ok").Inc()
	f.log.Info().
		Str("session", req.SessionID).
		Str("provider", res.Provider).
		Int("attempts", len(res.Attempts)).
		Int("context_tokens", bundle.Tokens).
		Msg("exchange completed")

	return &Response{
		Text:          res.Completion.Text,
		ProviderUsed:  res.Provider,
		Tokens:        res.Completion.Usage.TotalTokens,
		Cost:          res.Completion.Usage.Cost,
		Attempts:      res.Attempts,
		ContextTokens: bundle.Tokens,
	}, nil
}

// Learn records a cross-session operational lesson in Global memory.
func (f *Facade) Learn(ctx context.Context, action, outcome string, success bool) error {
	return f.memory.Learn(ctx, action, outcome, success)
}
