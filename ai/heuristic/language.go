package heuristic

import (
	"strings"
	"unicode"
)

// scriptLanguages maps a non-Latin script to the language it implies.
var scriptLanguages = []struct {
	table *unicode.RangeTable
	lang  string
}{
	{unicode.Hangul, "ko"},
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Han, "zh"},
	{unicode.Cyrillic, "ru"},
	{unicode.Arabic, "ar"},
	{unicode.Hebrew, "he"},
	{unicode.Greek, "el"},
	{unicode.Thai, "th"},
	{unicode.Devanagari, "hi"},
}

// stopwords for Latin-script languages. A word listed for several
// languages counts for each of them; ties go to the earlier language.
var stopwords = map[string][]string{
	"en": {"the", "is", "are", "what", "how", "you", "your", "and", "of", "to", "can", "does", "do", "i", "my", "with", "hello", "thanks", "please", "which", "when", "why"},
	"de": {"der", "die", "das", "ist", "sind", "und", "ich", "wie", "was", "nicht", "mit", "ein", "eine", "sie", "hallo", "danke", "bitte", "warum", "kann", "ihr", "wir"},
	"fr": {"le", "la", "les", "est", "et", "je", "vous", "que", "qui", "des", "une", "pour", "bonjour", "merci", "comment", "pourquoi", "avec", "sont", "quoi", "nous"},
	"es": {"el", "los", "las", "es", "y", "yo", "que", "qué", "cómo", "una", "para", "hola", "gracias", "por", "con", "son", "usted", "puedo", "cuál", "dónde"},
	"it": {"il", "lo", "gli", "è", "sono", "che", "cosa", "come", "una", "per", "ciao", "grazie", "perché", "con", "non", "posso", "della", "buongiorno"},
	"pt": {"o", "os", "as", "é", "são", "eu", "você", "que", "como", "uma", "para", "olá", "obrigado", "obrigada", "não", "com", "posso", "qual", "onde"},
	"nl": {"de", "het", "is", "zijn", "en", "ik", "wat", "hoe", "niet", "met", "een", "jij", "hallo", "dank", "bedankt", "waarom", "kan", "wij"},
}

// DefaultLanguage is reported when there is no evidence at all.
const DefaultLanguage = "en"

// DetectLanguage returns an ISO 639-1 code and a confidence in [0, 1].
func DetectLanguage(text string) (string, float64) {
	letters := 0
	scripts := make(map[string]int)
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for _, s := range scriptLanguages {
			if unicode.Is(s.table, r) {
				scripts[s.lang]++
				break
			}
		}
	}
	if letters == 0 {
		return DefaultLanguage, 0
	}

	// Japanese text mixes kana with Han characters.
	if scripts["ja"] > 0 {
		scripts["ja"] += scripts["zh"]
		delete(scripts, "zh")
	}
	bestScript, bestCount := "", 0
	for lang, n := range scripts {
		if n > bestCount {
			bestScript, bestCount = lang, n
		}
	}
	if bestCount*2 > letters {
		return bestScript, float64(bestCount) / float64(letters)
	}

	words := tokenize(text)
	if len(words) == 0 {
		return DefaultLanguage, 0
	}
	hits := make(map[string]int)
	for _, w := range words {
		for lang, list := range stopwords {
			for _, sw := range list {
				if w == sw {
					hits[lang]++
					break
				}
			}
		}
	}

	best, bestHits, total := DefaultLanguage, 0, 0
	for _, lang := range []string{"en", "de", "fr", "es", "it", "pt", "nl"} {
		total += hits[lang]
		if hits[lang] > bestHits {
			best, bestHits = lang, hits[lang]
		}
	}
	if bestHits == 0 {
		return DefaultLanguage, 0.3
	}

	confidence := float64(bestHits) / float64(total)
	// Short inputs give little evidence.
	if len(words) < 3 {
		confidence *= 0.8
	}
	return best, confidence
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
