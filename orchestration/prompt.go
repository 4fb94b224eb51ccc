package orchestration

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragchat/core"
)

var languageNames = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
}

const systemPromptTemplate = `You are a helpful assistant answering website visitors on behalf of a business.
Answer using ONLY the numbered context passages below. If they do not contain the answer, say so briefly.
Do not mention the passages or their numbers. Keep the answer concise.
Reply in %s.`

// buildMessages assembles the generation prompt: a system message with the
// reranked context and visitor profile, the last historyTurns messages, and
// the visitor's query.
func buildMessages(state *State, historyTurns int) []core.Message {
	var b strings.Builder
	fmt.Fprintf(&b, systemPromptTemplate, languageName(state.Language))

	if profile := profileLines(state); len(profile) > 0 {
		b.WriteString("\n\nWhat we know about the visitor:\n")
		for _, line := range profile {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	b.WriteString("\n\nContext:\n")
	for i, chunk := range state.RerankedChunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(chunk.Content))
		if chunk.SourceURL != "" {
			fmt.Fprintf(&b, "(source: %s)\n", chunk.SourceURL)
		}
	}

	messages := []core.Message{{Role: core.RoleSystem, Content: b.String()}}

	history := state.Task.ConversationHistory
	if historyTurns >= 0 && len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, msg := range history {
		if msg.Role == core.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}

	return append(messages, core.Message{Role: core.RoleUser, Content: state.Task.Query})
}

func profileLines(state *State) []string {
	var lines []string
	if p := state.Task.VisitorProfile; p != nil {
		if p.Name != "" {
			lines = append(lines, "Name: "+p.Name)
		}
		if p.Company != "" {
			lines = append(lines, "Company: "+p.Company)
		}
	}
	return append(lines, state.Memories...)
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "the language of the visitor's message"
}
