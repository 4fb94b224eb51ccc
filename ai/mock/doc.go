// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.ChatModel,
// ai.ChatModelFactory, ai.CrossEncoder, ai.Reflector, ai.Summarizer and
// ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
// All mocks are safe for concurrent use.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	embeddings, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	model := mock.NewMockChatModel()
//	model.CompleteFunc = func(ctx context.Context, msgs []core.Message, opts ai.CompletionOptions) (*ai.Completion, error) {
//	    return nil, core.ErrRateLimited
//	}
//
//	// Check call counts
//	count := model.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockChatModel: Echoes a fixed answer with token counts derived from input length
//   - MockCrossEncoder: Scores texts by word overlap with the query
//   - MockReflector: Routes every query to retrieval as an English question
//   - MockSummarizer: Returns "Asked: <last user message>"
package mock
