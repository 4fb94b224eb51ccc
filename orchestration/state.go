package orchestration

import (
	"time"

	"github.com/poiesic/ragchat/core"
)

// Node names of the answer graph.
const (
	NodeReflection = "reflection"
	NodeChitchat   = "chitchat"
	NodeRetrieve   = "retrieve"
	NodeGenerate   = "generate"
	NodeMemory     = "memory"
	NodeFinal      = "final"
)

// State is the per-task record threaded through the graph.
// Exactly one node mutates it at a time.
type State struct {
	Task     *core.ChatTask
	Provider *core.ProviderConfig

	Language           string
	LanguageConfidence float64
	Intent             string
	NeedsRetrieval     bool
	RewrittenQuery     string

	// Memories are the visitor's long-term profile entries, oldest first.
	Memories []string

	RetrievedChunks []core.Chunk
	RerankedChunks  []core.Chunk
	LowConfidence   bool

	Response     string
	Model        string
	TokensInput  int
	TokensOutput int
	Cost         float64

	MemorySummary string
	MemoryWritten bool

	LatencyBreakdown map[string]float64
	Path             []string
	Err              error

	StartedAt  time.Time
	FinishedAt time.Time
}

func newState(task *core.ChatTask, now time.Time) *State {
	return &State{
		Task:             task,
		RetrievedChunks:  []core.Chunk{},
		RerankedChunks:   []core.Chunk{},
		LatencyBreakdown: make(map[string]float64),
		StartedAt:        now,
	}
}

// searchQuery is the query used for retrieval and rerank.
func (s *State) searchQuery() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	return s.Task.Query
}

// Result assembles the completion payload for status.
func (s *State) Result(status core.TaskStatus) *core.TaskResult {
	sources := make([]core.Source, 0, len(s.RerankedChunks))
	for _, c := range s.RerankedChunks {
		sources = append(sources, core.Source{
			URL:        c.SourceURL,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
		})
	}
	result := &core.TaskResult{
		TaskID:           s.Task.TaskID,
		BotID:            s.Task.BotID,
		SessionID:        s.Task.SessionID,
		Status:           status,
		Query:            s.Task.Query,
		Response:         s.Response,
		Sources:          sources,
		Language:         s.Language,
		Intent:           s.Intent,
		Model:            s.Model,
		RetrievalCount:   len(s.RetrievedChunks),
		RerankCount:      len(s.RerankedChunks),
		TokensInput:      s.TokensInput,
		TokensOutput:     s.TokensOutput,
		Cost:             s.Cost,
		MemoryWritten:    s.MemoryWritten,
		LatencyBreakdown: s.LatencyBreakdown,
		CompletedAt:      s.FinishedAt,
	}
	if s.Err != nil {
		result.Error = s.Err.Error()
		result.ErrorKind = core.Classify(s.Err)
	}
	return result
}
