package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ExtractiveSummarizer condenses session entries without an LLM call: it
// keeps turns matching salience patterns (facts, decisions, preferences)
// and folds the rest into a turn count. Pattern matching keeps the pass
// cheap enough to run on every trigger; an LLM-driven summarizer can
// implement the same interface if quality ever matters more than cost.
type ExtractiveSummarizer struct {
	salient []*regexp.Regexp

	// MaxLines bounds summary growth across repeated passes.
	MaxLines int
}

// NewExtractiveSummarizer compiles the salience patterns.
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	patterns := []string{
		`(?i)\bmy name is\b`,
		`(?i)\bI (?:prefer|like|want|need|use)\b`,
		`(?i)\bwe (?:decided|agreed|chose)\b`,
		`(?i)\b(?:working on|project)\b`,
		`(?i)\b(?:error|failed|bug|broken)\b`,
		`(?i)\b(?:deadline|due|by (?:monday|tuesday|wednesday|thursday|friday))\b`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &ExtractiveSummarizer{salient: compiled, MaxLines: 20}
}

// Summarize renders the salient turns of entries as a compact digest.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, entries []*Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	var lines []string
	skipped := 0
	for _, e := range entries {
		if e.Derived {
			// Earlier summaries stay verbatim so facts survive
			// repeated passes.
			for _, line := range strings.Split(e.Summary, "\n") {
				if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "(") {
					lines = append(lines, line)
				}
			}
			continue
		}
		if e.Interaction == nil {
			continue
		}
		if s.isSalient(e.Interaction.Content) {
			content := e.Interaction.Content
			if len(content) > 200 {
				content = content[:200] + "…"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", e.Interaction.Role, content))
		} else {
			skipped++
		}
	}

	if len(lines) > s.MaxLines {
		skipped += len(lines) - s.MaxLines
		lines = lines[len(lines)-s.MaxLines:]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Conversation summary (%s, %d turns):\n",
		entries[0].CreatedAt.Format(time.DateOnly), len(entries)))
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if skipped > 0 {
		sb.WriteString(fmt.Sprintf("(%d routine turns omitted)\n", skipped))
	}
	return sb.String(), nil
}

func (s *ExtractiveSummarizer) isSalient(content string) bool {
	for _, re := range s.salient {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
