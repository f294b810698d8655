package memory

import (
	"regexp"
	"strings"
)

// Candidate is one unit of project knowledge a policy wants promoted.
type Candidate struct {
	// Category becomes the key suffix, e.g. "decisions" or "patterns".
	Category string

	// Content is the promoted text.
	Content string

	// Score is the policy's confidence, for logging and future ranking.
	Score float64
}

// PromotionPolicy decides what in a session's history qualifies as
// project knowledge. What separates a durable pattern from conversational
// noise is a product decision, so the rule is pluggable rather than
// hard-coded; the Manager promotes nothing unless a policy is configured.
type PromotionPolicy interface {
	Evaluate(entries []*Entry) []Candidate
}

// DecisionPolicy is a conservative default: it promotes only turns that
// explicitly announce a decision or an adopted convention, one candidate
// per category keeping the most recent match.
type DecisionPolicy struct {
	patterns map[string]*regexp.Regexp
}

// NewDecisionPolicy compiles the default promotion patterns.
func NewDecisionPolicy() *DecisionPolicy {
	return &DecisionPolicy{
		patterns: map[string]*regexp.Regexp{
			"decisions":   regexp.MustCompile(`(?i)\b(?:we (?:decided|agreed|chose)|decision:)\s+(.+)`),
			"conventions": regexp.MustCompile(`(?i)\b(?:always|never|convention:|the rule is)\s+(.+)`),
		},
	}
}

// Evaluate scans session entries newest-first and returns at most one
// candidate per category.
func (p *DecisionPolicy) Evaluate(entries []*Entry) []Candidate {
	taken := make(map[string]bool, len(p.patterns))
	var out []Candidate

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Derived || e.Interaction == nil {
			continue
		}
		for category, re := range p.patterns {
			if taken[category] {
				continue
			}
			match := re.FindStringSubmatch(e.Interaction.Content)
			if match == nil {
				continue
			}
			content := strings.TrimSpace(match[1])
			if content == "" || len(content) > 500 {
				continue
			}
			taken[category] = true
			out = append(out, Candidate{Category: category, Content: content, Score: 0.8})
		}
	}
	return out
}
