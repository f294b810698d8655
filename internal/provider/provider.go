// Package provider defines the uniform client contract for LLM backends
// and the typed registry built from static configuration. The router is
// transport-agnostic: anything implementing Client can serve traffic.
package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is read,
// preventing memory exhaustion from malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Tag is a declared provider capability.
type Tag string

const (
	TagFast      Tag = "fast"
	TagCheap     Tag = "cheap"
	TagReasoning Tag = "reasoning"
	TagLongCtx   Tag = "long-context"
)

// KnownTags lists every accepted capability tag.
func KnownTags() []Tag {
	return []Tag{TagFast, TagCheap, TagReasoning, TagLongCtx}
}

// ParseTag validates a configured tag string.
func ParseTag(s string) (Tag, error) {
	for _, t := range KnownTags() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown capability tag %q", s)
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Completion is one provider response.
type Completion struct {
	Text     string        `json:"text"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// Client is the uniform contract a provider gateway implements.
// Timeouts arrive through ctx; implementations must honor cancellation.
type Client interface {
	// Complete sends prompt with assembled conversation context and
	// returns the generated text.
	Complete(ctx context.Context, prompt, contextText string) (*Completion, error)

	// Name returns the provider identifier.
	Name() string
}

// Record is one registered provider: its client plus the static traits
// the router scores on. Records are created once at startup and never
// deleted at runtime; Disabled reflects operator action only.
type Record struct {
	ID       string
	Tags     map[Tag]bool
	BaseCost float64
	Client   Client
	Disabled bool
}

// HasTags reports whether the record declares every tag in want.
func (r *Record) HasTags(want []Tag) bool {
	for _, t := range want {
		if !r.Tags[t] {
			return false
		}
	}
	return true
}

// Registry is the immutable provider set built at startup.
type Registry struct {
	records []*Record
	byID    map[string]*Record
}

// NewRegistry builds a registry from records. IDs must be unique.
func NewRegistry(records []*Record) (*Registry, error) {
	byID := make(map[string]*Record, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("provider record with empty id")
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", r.ID)
		}
		byID[r.ID] = r
	}
	return &Registry{records: records, byID: byID}, nil
}

// Get returns the record for id, or nil.
func (g *Registry) Get(id string) *Record {
	return g.byID[id]
}

// All returns every record in registration order.
func (g *Registry) All() []*Record {
	return append([]*Record(nil), g.records...)
}

// Matching returns enabled records declaring every tag in want, ordered
// by BaseCost ascending then ID for determinism.
func (g *Registry) Matching(want []Tag) []*Record {
	var out []*Record
	for _, r := range g.records {
		if r.Disabled || !r.HasTags(want) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseCost != out[j].BaseCost {
			return out[i].BaseCost < out[j].BaseCost
		}
		return out[i].ID < out[j].ID
	})
	return out
}
