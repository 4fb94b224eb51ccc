package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		lang string
	}{
		{"What is RAG?", "en"},
		{"How do I reset my password?", "en"},
		{"Hallo, wie geht es dir?", "de"},
		{"Was kostet das und warum?", "de"},
		{"Bonjour, comment faire pour annuler?", "fr"},
		{"¿Qué es RAG y cómo funciona?", "es"},
		{"Привет, как дела?", "ru"},
		{"你好，请问价格是多少？", "zh"},
		{"こんにちは、価格はいくらですか", "ja"},
		{"안녕하세요", "ko"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			lang, confidence := DetectLanguage(tt.text)
			assert.Equal(t, tt.lang, lang)
			assert.Greater(t, confidence, 0.0)
			assert.LessOrEqual(t, confidence, 1.0)
		})
	}
}

func TestDetectLanguage_NoEvidence(t *testing.T) {
	lang, confidence := DetectLanguage("1234 !!")
	assert.Equal(t, DefaultLanguage, lang)
	assert.Equal(t, 0.0, confidence)

	lang, confidence = DetectLanguage("RAG LLM API")
	assert.Equal(t, DefaultLanguage, lang)
	assert.InDelta(t, 0.3, confidence, 1e-9)
}
