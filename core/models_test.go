package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "short content", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, IDFromContent(tt.content), IDFromContent(tt.content))
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	assert.NotEqual(t, IDFromContent("content1"), IDFromContent("content2"))
}

func TestChunk_Identity(t *testing.T) {
	t.Run("same source position is the same chunk", func(t *testing.T) {
		a := Chunk{Content: "alpha", SourceURL: "https://docs/x", ChunkIndex: 3, Score: 0.2}
		b := Chunk{Content: "alpha (reformatted)", SourceURL: "https://docs/x", ChunkIndex: 3, Score: 0.9}
		assert.Equal(t, a.Identity(), b.Identity())
	})

	t.Run("different index differs", func(t *testing.T) {
		a := Chunk{Content: "alpha", SourceURL: "https://docs/x", ChunkIndex: 3}
		b := Chunk{Content: "alpha", SourceURL: "https://docs/x", ChunkIndex: 4}
		assert.NotEqual(t, a.Identity(), b.Identity())
	})

	t.Run("no source falls back to content", func(t *testing.T) {
		a := Chunk{Content: "alpha"}
		b := Chunk{Content: "alpha", ChunkIndex: 7}
		assert.Equal(t, a.Identity(), b.Identity())
	})
}

func TestChunk_WithRerankScore(t *testing.T) {
	original := Chunk{Content: "alpha", Score: 0.25, Vector: []float32{1, 0}}

	scored := original.WithRerankScore(0.9)

	require.NotNil(t, scored.RerankScore)
	require.NotNil(t, scored.OriginalScore)
	assert.InDelta(t, 0.9, *scored.RerankScore, 1e-6)
	assert.InDelta(t, 0.25, *scored.OriginalScore, 1e-6)
	assert.InDelta(t, 0.9, scored.Score, 1e-6)
	assert.Nil(t, scored.Vector)

	// the source chunk is untouched
	assert.InDelta(t, 0.25, original.Score, 1e-6)
	assert.Nil(t, original.RerankScore)

	// re-scoring again keeps the first retrieval score
	again := scored.WithRerankScore(0.4)
	assert.InDelta(t, 0.25, *again.OriginalScore, 1e-6)
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
