// Package heuristic implements the reflection and memory services without
// any model calls. It is the default reflector and the fallback when an
// LLM reflector returns output that cannot be parsed.
package heuristic

import (
	"context"
	"regexp"
	"strings"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

var (
	greetingPattern  = leadingPhrase(`hi|hello|hey|hiya|howdy|good (morning|afternoon|evening)|hallo|guten (morgen|tag|abend)|servus|moin|bonjour|bonsoir|salut|hola|buen(os|as) (d[ií]as|tardes|noches)|ciao|buongiorno|ol[áa]|oi|bom dia|hoi|goedemorgen|привет|здравствуйте|你好|こんにちは|안녕하세요`)
	thanksPattern    = leadingPhrase(`(many )?(thanks|thank you|thx|ty|cheers|danke|vielen dank|merci|gracias|grazie|obrigad[oa]|bedankt|dank je|спасибо|谢谢|ありがとう)`)
	farewellPattern  = leadingPhrase(`bye|goodbye|good bye|see you|see ya|later|tsch[üu]ss|auf wiedersehen|au revoir|adi[óo]s|hasta luego|arrivederci|tchau|tot ziens|doei|пока|до свидания`)
	smallTalkPattern = leadingPhrase(`how are you|how's it going|what's up|wie geht'?s|wie geht es (dir|ihnen)|[çc]a va|comment [çc]a va|qu[ée] tal|c[óo]mo est[áa]s|come stai|tudo bem|hoe gaat het|как дела`)

	purchasePattern = regexp.MustCompile(`\b(price|prices|pricing|cost|costs|buy|purchase|order|subscription|plan|plans|quote|discount|preis|preise|kosten|kaufen|bestellen|prix|acheter|tarif|precio|precios|comprar|prezzo|comprare|preço|preços)\b`)
	supportPattern  = regexp.MustCompile(`\b(error|bug|broken|crash|crashes|not working|doesn't work|does not work|issue|problem|fails|failed|refund|fehler|funktioniert nicht|problème|erreur|ne marche pas|problema|no funciona|non funziona|não funciona)\b`)

	fillerPattern = regexp.MustCompile(`^(there|again|all|everyone|team|you|guys|folks|so much|a lot|very much|for (the|your) help|for helping|bot|assistant|[,.!?\s])*$`)
)

// Referring words that only make sense with earlier turns.
var anaphora = map[string]bool{
	"it": true, "its": true, "this": true, "that": true, "they": true, "them": true,
	"those": true, "these": true, "he": true, "she": true,
	"das": true, "dies": true, "ihn": true,
	"ça": true, "cela": true, "eso": true, "esto": true, "ello": true,
	"isso": true, "isto": true, "dat": true, "dit": true,
}

// leadingPhrase matches one of alts at the start of the text, ending at a
// non-letter. RE2's \b only knows ASCII, which breaks on Cyrillic and CJK.
func leadingPhrase(alts string) *regexp.Regexp {
	return regexp.MustCompile(`^(?:` + alts + `)(?:[^\p{L}]|$)`)
}

// Reflector implements ai.Reflector with language detection by script and
// stopwords and regex intent patterns.
type Reflector struct{}

// NewReflector returns a heuristic ai.Reflector.
func NewReflector() ai.Reflector {
	return &Reflector{}
}

var _ ai.Reflector = (*Reflector)(nil)

// Reflect classifies the task query.
func (r *Reflector) Reflect(_ context.Context, task *core.ChatTask) (*ai.Reflection, error) {
	lang, confidence := DetectLanguage(task.Query)
	intent := ClassifyIntent(task.Query)
	return &ai.Reflection{
		Language:           lang,
		LanguageConfidence: confidence,
		Intent:             intent,
		NeedsRetrieval:     !ai.ConversationalIntents[intent],
		RewrittenQuery:     RewriteQuery(task.Query, task.ConversationHistory),
	}, nil
}

// ClassifyIntent assigns one of ai.Intents to a query.
// Conversational intents only match when the whole message is the
// conversational phrase, so "hi, what does the pro plan cost?" is a
// purchase question and not a greeting.
func ClassifyIntent(query string) string {
	text := strings.ToLower(strings.TrimSpace(query))
	conversational := []struct {
		pattern *regexp.Regexp
		intent  string
	}{
		{thanksPattern, ai.IntentThanks},
		{farewellPattern, ai.IntentFarewell},
		{smallTalkPattern, ai.IntentSmallTalk},
		{greetingPattern, ai.IntentGreeting},
	}
	for _, c := range conversational {
		loc := c.pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := strings.TrimSpace(text[loc[1]:])
		if fillerPattern.MatchString(rest) {
			return c.intent
		}
		// "good morning, how are you?" stays conversational.
		if ai.ConversationalIntents[ClassifyIntent(rest)] {
			return c.intent
		}
		// Small talk followed by a question mark is still small talk.
		if c.intent == ai.IntentSmallTalk && !strings.Contains(rest, " ") {
			return c.intent
		}
	}

	switch {
	case supportPattern.MatchString(text):
		return ai.IntentSupport
	case purchasePattern.MatchString(text):
		return ai.IntentPurchase
	}
	return ai.IntentQuestion
}

// RewriteQuery makes a follow-up question standalone by prefixing the
// previous user turn. It returns "" when the query needs no rewrite.
func RewriteQuery(query string, history []core.Message) string {
	words := tokenize(query)
	if len(words) == 0 || len(words) > 12 {
		return ""
	}
	referring := false
	for _, w := range words {
		if anaphora[w] {
			referring = true
			break
		}
	}
	if !referring {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != core.RoleUser {
			continue
		}
		prev := strings.TrimSpace(msg.Content)
		if prev == "" || prev == strings.TrimSpace(query) {
			return ""
		}
		return prev + " " + strings.TrimSpace(query)
	}
	return ""
}
