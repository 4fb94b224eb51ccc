package mock

import (
	"context"
	"strings"
	"sync"
)

// MockCrossEncoder is a test double for ai.CrossEncoder.
type MockCrossEncoder struct {
	// ScoreFunc is called by Score if set.
	ScoreFunc func(ctx context.Context, query string, texts []string) ([]float32, error)

	mu        sync.Mutex
	callCount int
}

// NewMockCrossEncoder creates a cross-encoder mock scoring by word overlap.
func NewMockCrossEncoder() *MockCrossEncoder {
	return &MockCrossEncoder{}
}

// Score returns ScoreFunc's result or the share of query words found in each text.
func (m *MockCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.ScoreFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query, texts)
	}

	queryWords := strings.Fields(strings.ToLower(query))
	scores := make([]float32, len(texts))
	if len(queryWords) == 0 {
		return scores, nil
	}
	for i, text := range texts {
		lower := strings.ToLower(text)
		hits := 0
		for _, w := range queryWords {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		scores[i] = float32(hits) / float32(len(queryWords))
	}
	return scores, nil
}

// CallCount returns the number of Score calls.
func (m *MockCrossEncoder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockCrossEncoder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.ScoreFunc = nil
}
