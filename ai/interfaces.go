package ai

import (
	"context"

	"github.com/poiesic/ragchat/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatModel produces a completion for a list of conversation messages.
// A ChatModel is bound to one provider credential; key selection happens
// before the model is constructed.
type ChatModel interface {
	// Complete returns the assistant reply and its token usage.
	// Rate-limit rejections must be reported wrapping core.ErrRateLimited.
	Complete(ctx context.Context, messages []core.Message, opts CompletionOptions) (*Completion, error)
}

// ChatModelFactory builds a ChatModel for a tenant's provider and a single
// decrypted API key.
type ChatModelFactory interface {
	NewChatModel(provider, model, apiKey, baseURL string) (ChatModel, error)
}

// CrossEncoder scores (query, text) pairs jointly.
// Implementations must be thread-safe for concurrent use.
type CrossEncoder interface {
	// Score returns one relevance score per text, in input order.
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Reflector inspects an incoming task before any retrieval happens.
// It detects the language, classifies intent and decides whether the
// question needs document context.
type Reflector interface {
	Reflect(ctx context.Context, task *core.ChatTask) (*Reflection, error)
}

// Summarizer condenses visitor memory plus the latest turn into a short
// natural-language profile entry.
type Summarizer interface {
	Summarize(ctx context.Context, existing []string, turn []core.Message) (string, error)
}

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Completion is the result of a ChatModel call.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Reflection is the outcome of the reflection stage.
type Reflection struct {
	// Language is an ISO 639-1 code such as "en" or "de".
	Language string

	// LanguageConfidence is in [0, 1].
	LanguageConfidence float64

	// Intent is one of Intents.
	Intent string

	// NeedsRetrieval routes the task to the RAG path when true.
	NeedsRetrieval bool

	// RewrittenQuery is a standalone version of the query resolved against
	// the conversation history. Empty when no rewrite was needed.
	RewrittenQuery string
}

// AIProvider aggregates platform AI services for convenient initialization and
// lifecycle management. Tenant chat models are not part of it; they are built
// per call from the tenant's own credentials.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Reflector returns the reflection service.
	Reflector() Reflector

	// CrossEncoder returns the rerank scoring service.
	CrossEncoder() CrossEncoder

	// Summarizer returns the visitor memory summarizer.
	Summarizer() Summarizer

	// Close releases resources held by the provider and its services.
	Close() error
}
