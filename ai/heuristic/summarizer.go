package heuristic

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

const maxTopicLength = 120

var (
	namePattern    = regexp.MustCompile(`(?i)\bmy name is ([\p{L}'-]+(?: [\p{L}'-]+)?)`)
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	companyPattern = regexp.MustCompile(`(?i)\bi (?:work|am) (?:at|for|with) ([\p{L}0-9&.'-]+(?: [\p{L}0-9&.'-]+){0,3})`)
)

// Summarizer implements ai.Summarizer by extracting profile facts and the
// topic of the latest user turn.
type Summarizer struct{}

// NewSummarizer returns an extractive ai.Summarizer.
func NewSummarizer() ai.Summarizer {
	return &Summarizer{}
}

var _ ai.Summarizer = (*Summarizer)(nil)

// Summarize returns a single profile line, or "" when the turn adds nothing
// that is not already in existing.
func (s *Summarizer) Summarize(_ context.Context, existing []string, turn []core.Message) (string, error) {
	var query string
	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].Role == core.RoleUser {
			query = strings.TrimSpace(turn[i].Content)
			break
		}
	}
	if query == "" {
		return "", nil
	}

	var parts []string
	if m := namePattern.FindStringSubmatch(query); m != nil {
		parts = append(parts, "Name: "+strings.TrimSpace(m[1]))
	}
	if m := emailPattern.FindString(query); m != "" {
		parts = append(parts, "Email: "+m)
	}
	if m := companyPattern.FindStringSubmatch(query); m != nil {
		company, _, _ := strings.Cut(m[1], ". ")
		parts = append(parts, "Company: "+strings.TrimRight(company, "."))
	}
	if !ai.ConversationalIntents[ClassifyIntent(query)] {
		parts = append(parts, "Interested in: "+truncate(query, maxTopicLength))
	}

	summary := strings.Join(parts, "; ")
	if summary == "" || slices.Contains(existing, summary) {
		return "", nil
	}
	return summary, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
