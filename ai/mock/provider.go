// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mock

import "github.com/poiesic/ragchat/ai"

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder, reflector, cross-encoder and summarizer instances.
type MockProvider struct {
	embedder     *MockEmbedder
	reflector    *MockReflector
	crossEncoder *MockCrossEncoder
	summarizer   *MockSummarizer
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns *MockProvider so tests can reach the concrete services through
// the GetMock accessors.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:     NewMockEmbedder(),
		reflector:    NewMockReflector(),
		crossEncoder: NewMockCrossEncoder(),
		summarizer:   NewMockSummarizer(),
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Reflector returns the mock reflector.
func (p *MockProvider) Reflector() ai.Reflector {
	return p.reflector
}

// CrossEncoder returns the mock cross-encoder.
func (p *MockProvider) CrossEncoder() ai.CrossEncoder {
	return p.crossEncoder
}

// Summarizer returns the mock summarizer.
func (p *MockProvider) Summarizer() ai.Summarizer {
	return p.summarizer
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockReflector returns the underlying mock reflector for test assertions.
func (p *MockProvider) GetMockReflector() *MockReflector {
	return p.reflector
}

// GetMockCrossEncoder returns the underlying mock cross-encoder for test assertions.
func (p *MockProvider) GetMockCrossEncoder() *MockCrossEncoder {
	return p.crossEncoder
}

// GetMockSummarizer returns the underlying mock summarizer for test assertions.
func (p *MockProvider) GetMockSummarizer() *MockSummarizer {
	return p.summarizer
}

var (
	_ ai.AIProvider       = (*MockProvider)(nil)
	_ ai.ChatModel        = (*MockChatModel)(nil)
	_ ai.ChatModelFactory = (*MockChatModelFactory)(nil)
)
