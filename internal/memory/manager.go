package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/synapse/internal/metrics"
	"github.com/normanking/synapse/internal/storage"
)

// Config tunes the memory manager.
type Config struct {
	// WorkingCapacity bounds the Working tier per session.
	WorkingCapacity int

	// SessionTTL expires Session-tier entries.
	SessionTTL time.Duration

	// SummarizeThreshold triggers the background summarization pass once
	// a session holds more than this many entries. Zero disables it.
	SummarizeThreshold int

	// SummarizeKeep is how many of the newest Session entries survive a
	// summarization pass unsummarized.
	SummarizeKeep int

	// DefaultTokenBudget applies when a context query carries none.
	DefaultTokenBudget int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		WorkingCapacity:    8,
		SessionTTL:         24 * time.Hour,
		SummarizeThreshold: 50,
		SummarizeKeep:      10,
		DefaultTokenBudget: 4096,
	}
}

// ContextQuery selects what GetContext assembles.
type ContextQuery struct {
	SessionID   string
	ProjectPath string

	// Query is the inbound message, available to future retrieval
	// strategies. The current assembly is recency-based.
	Query string

	// Tiers restricts which tiers contribute. Nil means all.
	Tiers []Tier

	// TokenBudget caps the assembled bundle. Zero means the default.
	TokenBudget int
}

// Summarizer condenses a run of session entries into one summary text.
// Implementations must be safe to call off the request path.
type Summarizer interface {
	Summarize(ctx context.Context, entries []*Entry) (string, error)
}

// sessionState serializes writes for one session. Sessions never share a
// lock, so concurrent sessions do not contend.
type sessionState struct {
	mu           sync.Mutex
	working      []*Entry
	seq          int64
	sessionCount int // session-tier entries written, net of summarization
	summarizing  bool
}

// Manager composes the four tiers and drives promotion, summarization,
// and context assembly.
type Manager struct {
	cfg        Config
	session    storage.Adapter // Session tier; nil disables the tier
	durable    storage.Adapter // Project + Global tiers; nil disables both
	summarizer Summarizer
	policy     PromotionPolicy
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState

	// background tracks detached summarization passes for clean shutdown.
	background sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithSummarizer sets the session summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithPromotionPolicy sets the Session-to-Project promotion policy.
func WithPromotionPolicy(p PromotionPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager builds a Manager. session backs the Session tier (nil
// disables it); durable backs Project and Global (nil disables both).
func NewManager(cfg Config, session, durable storage.Adapter, opts ...Option) *Manager {
	if cfg.WorkingCapacity <= 0 {
		cfg.WorkingCapacity = DefaultConfig().WorkingCapacity
	}
	if cfg.DefaultTokenBudget <= 0 {
		cfg.DefaultTokenBudget = DefaultConfig().DefaultTokenBudget
	}
	m := &Manager{
		cfg:      cfg,
		session:  session,
		durable:  durable,
		log:      zerolog.Nop(),
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// state returns the per-session state, creating it on first use.
func (m *Manager) state(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.sessions[sessionID]
	if !ok {
		ss = &sessionState{}
		m.sessions[sessionID] = ss
	}
	return ss
}

// Record appends one interaction to the session's Working tier. When the
// tier overflows, the oldest entry is demoted to the Session tier (if
// configured) rather than dropped. Two identical interactions produce two
// distinct entries; turns are never merged.
func (m *Manager) Record(ctx context.Context, sessionID string, in *Interaction) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		// Caller already gave up; recording a turn it never saw would
		// corrupt the conversation history.
		return nil, err
	}

	ss := m.state(sessionID)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.seq++
	entry := newEntry(TierWorking, ss.seq, in)
	ss.working = append(ss.working, entry)
	metrics.MemoryOperations.WithLabelValues(string(TierWorking), "record").Inc()

	if len(ss.working) > m.cfg.WorkingCapacity {
		evicted := ss.working[0]
		ss.working = append([]*Entry(nil), ss.working[1:]...)
		m.demoteLocked(ctx, sessionID, ss, evicted)
	}
	return entry, nil
}

// demoteLocked moves an evicted Working entry into the Session tier.
// Session storage failures degrade with a warning; the request proceeds.
func (m *Manager) demoteLocked(ctx context.Context, sessionID string, ss *sessionState, entry *Entry) {
	if m.session == nil {
		return
	}

	demoted := *entry
	demoted.Tier = TierSession
	if m.cfg.SessionTTL > 0 {
		expires := time.Now().Add(m.cfg.SessionTTL)
		demoted.ExpiresAt = &expires
	}

	data, err := json.Marshal(&demoted)
	if err != nil {
		m.log.Error().Err(err).Str("session", sessionID).Msg("failed to encode session entry")
		return
	}
	if err := m.session.Set(ctx, SessionKey(sessionID, demoted.Seq), data, m.cfg.SessionTTL); err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("session tier write failed, entry lost from session history")
		return
	}
	ss.sessionCount++
	metrics.MemoryOperations.WithLabelValues(string(TierSession), "demote").Inc()

	if m.summarizer != nil && m.cfg.SummarizeThreshold > 0 &&
		ss.sessionCount > m.cfg.SummarizeThreshold && !ss.summarizing {
		ss.summarizing = true
		m.background.Add(1)
		go m.summarizeSession(sessionID)
	}
}

// GetContext assembles the context bundle for one request. Tiers are read
// in priority order (Working > Session > Project > Global) and the token
// budget is spent on higher-priority tiers first; truncation never splits
// an entry. Empty memory yields an empty bundle, not an error. Durable
// tier failures degrade with a warning; Working is always served.
func (m *Manager) GetContext(ctx context.Context, q ContextQuery) (*ContextBundle, error) {
	budget := q.TokenBudget
	if budget <= 0 {
		budget = m.cfg.DefaultTokenBudget
	}
	include := make(map[Tier]bool, 4)
	if len(q.Tiers) == 0 {
		for _, t := range AllTiers() {
			include[t] = true
		}
	} else {
		for _, t := range q.Tiers {
			include[t] = true
		}
	}

	bundle := &ContextBundle{}
	remaining := budget

	for _, tier := range AllTiers() {
		if !include[tier] || remaining <= 0 {
			continue
		}
		entries, err := m.readTier(ctx, tier, q)
		if err != nil {
			return nil, err
		}

		// Keep the newest entries that fit, then restore chronology.
		var kept []*Entry
		truncated := false
		for i := len(entries) - 1; i >= 0; i-- {
			cost := entries[i].Tokens()
			if cost > remaining {
				truncated = true
				break
			}
			remaining -= cost
			kept = append(kept, entries[i])
		}
		for i := len(kept) - 1; i >= 0; i-- {
			bundle.Entries = append(bundle.Entries, kept[i])
		}
		if truncated {
			// Budget exhausted at this tier; everything lower drops first.
			break
		}
	}

	bundle.Tokens = budget - remaining
	return bundle, nil
}

// readTier returns one tier's entries in chronological order.
func (m *Manager) readTier(ctx context.Context, tier Tier, q ContextQuery) ([]*Entry, error) {
	switch tier {
	case TierWorking:
		ss := m.state(q.SessionID)
		ss.mu.Lock()
		defer ss.mu.Unlock()
		// Count the access and hand out copies while still holding the
		// session lock; callers may retain the entries past this call,
		// and concurrent reads of one session must not share mutable
		// state.
		out := make([]*Entry, len(ss.working))
		for i, e := range ss.working {
			e.AccessCount++
			copied := *e
			out[i] = &copied
		}
		return out, nil

	case TierSession:
		if m.session == nil || q.SessionID == "" {
			return nil, nil
		}
		entries, err := m.scanEntries(ctx, m.session, SessionPrefix(q.SessionID))
		if err != nil {
			m.log.Warn().Err(err).Str("session", q.SessionID).Msg("session tier read failed, degrading")
			return nil, nil
		}
		return entries, nil

	case TierProject:
		if m.durable == nil || q.ProjectPath == "" {
			return nil, nil
		}
		entries, err := m.scanEntries(ctx, m.durable, ProjectPrefix(q.ProjectPath))
		if err != nil {
			m.log.Warn().Err(err).Str("project", q.ProjectPath).Msg("project tier read failed, degrading")
			return nil, nil
		}
		return entries, nil

	case TierGlobal:
		if m.durable == nil {
			return nil, nil
		}
		entries, err := m.scanEntries(ctx, m.durable, globalPrefix)
		if err != nil {
			m.log.Warn().Err(err).Msg("global tier read failed, degrading")
			return nil, nil
		}
		return entries, nil
	}
	return nil, nil
}

// scanEntries collects and decodes entries under prefix, oldest first.
func (m *Manager) scanEntries(ctx context.Context, store storage.Adapter, prefix string) ([]*Entry, error) {
	var entries []*Entry
	err := store.Scan(ctx, prefix, func(key string, value []byte) bool {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("skipping undecodable memory entry")
			return true
		}
		entries = append(entries, &e)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Learn writes a structured outcome record into Global memory. This is
// the only write path into the Global tier; nothing promotes there
// automatically.
func (m *Manager) Learn(ctx context.Context, action, outcome string, success bool) error {
	if m.durable == nil {
		return fmt.Errorf("global memory is not configured")
	}
	entry := &Entry{
		ID:        uuid.NewString(),
		Tier:      TierGlobal,
		Derived:   true,
		Summary:   fmt.Sprintf("action: %s | outcome: %s | success: %t", action, outcome, success),
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			"action":  action,
			"success": fmt.Sprintf("%t", success),
		},
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode learn record: %w", err)
	}
	if err := m.durable.Set(ctx, GlobalKey(slugify(action)), data, 0); err != nil {
		return fmt.Errorf("write learn record: %w", err)
	}
	metrics.MemoryOperations.WithLabelValues(string(TierGlobal), "learn").Inc()
	return nil
}

// PromoteToProject runs the configured promotion policy over the
// session's stored history and writes accepted candidates into the
// Project tier. Returns how many candidates were promoted.
func (m *Manager) PromoteToProject(ctx context.Context, sessionID, projectPath string) (int, error) {
	if m.policy == nil {
		return 0, nil
	}
	if m.durable == nil {
		return 0, fmt.Errorf("project memory is not configured")
	}
	if m.session == nil {
		return 0, nil
	}

	entries, err := m.scanEntries(ctx, m.session, SessionPrefix(sessionID))
	if err != nil {
		return 0, fmt.Errorf("read session history: %w", err)
	}

	promoted := 0
	for _, c := range m.policy.Evaluate(entries) {
		entry := &Entry{
			ID:        uuid.NewString(),
			Tier:      TierProject,
			Derived:   true,
			Summary:   c.Content,
			CreatedAt: time.Now(),
			Metadata:  map[string]string{"category": c.Category, "source_session": sessionID},
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return promoted, fmt.Errorf("encode promotion: %w", err)
		}
		if err := m.durable.Set(ctx, ProjectKey(projectPath, c.Category), data, 0); err != nil {
			return promoted, fmt.Errorf("write promotion: %w", err)
		}
		promoted++
		metrics.MemoryOperations.WithLabelValues(string(TierProject), "promote").Inc()
	}
	return promoted, nil
}

// summarizeSession condenses older session entries into a single derived
// summary entry, replacing the originals. Runs detached from any request.
func (m *Manager) summarizeSession(sessionID string) {
	defer m.background.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ss := m.state(sessionID)
	defer func() {
		ss.mu.Lock()
		ss.summarizing = false
		ss.mu.Unlock()
	}()

	entries, err := m.scanEntries(ctx, m.session, SessionPrefix(sessionID))
	if err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("summarization read failed")
		return
	}
	keep := m.cfg.SummarizeKeep
	if len(entries) <= keep {
		return
	}
	old := entries[:len(entries)-keep]

	text, err := m.summarizer.Summarize(ctx, old)
	if err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("summarization failed, keeping originals")
		return
	}

	summary := &Entry{
		ID:        uuid.NewString(),
		Tier:      TierSession,
		Seq:       old[0].Seq, // sorts before the kept entries
		Derived:   true,
		Summary:   text,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{"replaces": fmt.Sprintf("%d", len(old))},
	}
	if m.cfg.SessionTTL > 0 {
		expires := time.Now().Add(m.cfg.SessionTTL)
		summary.ExpiresAt = &expires
	}
	data, err := json.Marshal(summary)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encode summary entry")
		return
	}
	if err := m.session.Set(ctx, SessionKey(sessionID, summary.Seq), data, m.cfg.SessionTTL); err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("summary write failed, keeping originals")
		return
	}
	// Delete the originals the summary replaces. The summary reused the
	// first entry's key, so skip it.
	for _, e := range old[1:] {
		if err := m.session.Delete(ctx, SessionKey(sessionID, e.Seq)); err != nil {
			m.log.Warn().Err(err).Int64("seq", e.Seq).Msg("failed to delete summarized entry")
		}
	}

	ss.mu.Lock()
	ss.sessionCount = ss.sessionCount - len(old) + 1
	ss.mu.Unlock()

	metrics.MemoryOperations.WithLabelValues(string(TierSession), "summarize").Inc()
	m.log.Debug().Str("session", sessionID).Int("replaced", len(old)).Msg("session summarized")
}

// Wait blocks until background summarization passes finish. Shutdown and
// tests only.
func (m *Manager) Wait() {
	m.background.Wait()
}

// slugify lowercases and hyphenates a topic for key use.
func slugify(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_' || r == '/':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "general"
	}
	return string(out)
}
