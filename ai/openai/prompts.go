package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

const reflectionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "language": {"type": "string", "pattern": "^[a-z]{2}$"},
    "language_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "intent": {"type": "string"},
    "needs_retrieval": {"type": "boolean"},
    "rewritten_query": {"type": "string"}
  },
  "required": ["language", "language_confidence", "intent", "needs_retrieval", "rewritten_query"],
  "additionalProperties": false
}`

const reflectionPromptTemplate = `You route visitor messages for a customer-facing assistant. Classify the latest
visitor message and return JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- language is the ISO 639-1 code of the latest visitor message, not of the history.
- intent must be exactly one of: %s.
- needs_retrieval is false for greetings, thanks, farewells and small talk; true when answering requires
  knowledge about the business, its products or its documents.
- rewritten_query is the latest message rewritten as a standalone question using the conversation history.
  Use "" when the message is already standalone.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
{"language":"en","language_confidence":0.97,"intent":"question","needs_retrieval":true,"rewritten_query":""}
`

const summaryPrompt = `You maintain a short profile of a website visitor for a sales team.
Given the existing profile lines and the latest conversation turn, write ONE new line (at most 30 words)
with facts about the visitor that are not already in the profile: name, company, role, needs, interests,
buying signals. Write NONE if the turn adds nothing new. Do not invent facts.`

func buildReflectionPrompt() string {
	return fmt.Sprintf(reflectionPromptTemplate, reflectionResponseSchema, strings.Join(ai.Intents, ", "))
}

// buildReflectionInput renders the recent history and the query as one user message.
func buildReflectionInput(task *core.ChatTask, maxTurns int) string {
	var b strings.Builder
	history := task.ConversationHistory
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest visitor message:\n")
	b.WriteString(task.Query)
	return b.String()
}

func buildSummaryInput(existing []string, turn []core.Message) string {
	var b strings.Builder
	b.WriteString("Existing profile:\n")
	if len(existing) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, line := range existing {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\nLatest turn:\n")
	for _, msg := range turn {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
