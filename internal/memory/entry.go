// Package memory implements the tiered conversational memory for synapse:
// four tiers (Working, Session, Project, Global) with distinct capacity,
// TTL, and promotion rules, composed by a Manager that assembles a
// token-budgeted context bundle per request.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Interaction is one turn of conversation. Immutable once created.
type Interaction struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Tier is one of the four bounded memory scopes.
type Tier string

const (
	// TierWorking holds the most recent turns. In-process, FIFO, no TTL.
	TierWorking Tier = "working"

	// TierSession holds one session's history in the cache backend,
	// expiring after the session TTL.
	TierSession Tier = "session"

	// TierProject holds durable per-project knowledge, populated only by
	// explicit promotion, never by raw interaction spillover.
	TierProject Tier = "project"

	// TierGlobal holds cross-project learnings, written only through
	// Learn.
	TierGlobal Tier = "global"
)

// AllTiers lists tiers in context priority order, highest first.
func AllTiers() []Tier {
	return []Tier{TierWorking, TierSession, TierProject, TierGlobal}
}

// Entry is a stored unit inside a tier: an interaction or a derived
// artifact (summary, promoted pattern, learned outcome).
type Entry struct {
	ID          string       `json:"id"`
	Tier        Tier         `json:"tier"`
	Seq         int64        `json:"seq,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`

	// Summary holds derived content when Derived is true.
	Summary string `json:"summary,omitempty"`
	Derived bool   `json:"derived,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// AccessCount tracks how many context reads have seen the entry.
	// Maintained for the Working tier only; entries demoted to storage
	// carry the count captured at demotion time, and decoded copies are
	// never written back.
	AccessCount int `json:"access_count,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// newEntry wraps an interaction for a tier.
func newEntry(tier Tier, seq int64, in *Interaction) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		Tier:        tier,
		Seq:         seq,
		Interaction: in,
		CreatedAt:   time.Now(),
	}
}

// Text returns the content used for context assembly and token counting.
func (e *Entry) Text() string {
	if e.Derived {
		return e.Summary
	}
	if e.Interaction != nil {
		return fmt.Sprintf("%s: %s", e.Interaction.Role, e.Interaction.Content)
	}
	return ""
}

// Tokens estimates the entry's token footprint (~4 bytes per token).
func (e *Entry) Tokens() int {
	return EstimateTokens(e.Text())
}

// EstimateTokens approximates token count for budget accounting.
// Good enough for truncation decisions; exact counts are provider-specific.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// ContextBundle is the merged, token-budgeted payload assembled for one
// outbound request. Entries appear highest-priority tier first and
// chronologically within a tier.
type ContextBundle struct {
	Entries []*Entry `json:"entries"`
	Tokens  int      `json:"tokens"`
}

// Empty reports whether no tier contributed anything.
func (b *ContextBundle) Empty() bool {
	return len(b.Entries) == 0
}

// Prompt renders the bundle as plain text for prompt injection.
func (b *ContextBundle) Prompt() string {
	if b.Empty() {
		return ""
	}
	var sb strings.Builder
	for _, e := range b.Entries {
		sb.WriteString(e.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Persisted key layout:
//
//	session:{id}:{seq}              one session-tier entry
//	project:{path_hash}:{category}  promoted project knowledge
//	global:{topic}                  cross-project learning

// SessionKey returns the storage key for a session-tier entry.
func SessionKey(sessionID string, seq int64) string {
	return fmt.Sprintf("session:%s:%012d", sessionID, seq)
}

// SessionPrefix returns the scan prefix covering one session.
func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("session:%s:", sessionID)
}

// ProjectKey returns the storage key for a project-tier entry. The
// project path is hashed so filesystem paths never leak into key space.
func ProjectKey(projectPath, category string) string {
	return fmt.Sprintf("project:%s:%s", HashProjectPath(projectPath), category)
}

// ProjectPrefix returns the scan prefix covering one project.
func ProjectPrefix(projectPath string) string {
	return fmt.Sprintf("project:%s:", HashProjectPath(projectPath))
}

// GlobalKey returns the storage key for a cross-project learning topic.
func GlobalKey(topic string) string {
	return fmt.Sprintf("global:%s", topic)
}

const globalPrefix = "global:"

// HashProjectPath derives a short stable identifier from a project path.
func HashProjectPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}
