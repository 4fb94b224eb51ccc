package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a visitor message.
	RoleUser Role = "user"
	// RoleAssistant is a bot reply.
	RoleAssistant Role = "assistant"
	// RoleSystem is an instruction message.
	RoleSystem Role = "system"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// VisitorProfile carries what the tenant knows about the visitor.
// Memory holds the long-term natural-language profile entries.
type VisitorProfile struct {
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Company    string            `json:"company,omitempty"`
	Memory     []string          `json:"memory,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ChatTask is a visitor question admitted for asynchronous answering.
// It is immutable once dequeued.
type ChatTask struct {
	TaskID              string          `json:"task_id"`
	BotID               string          `json:"bot_id"`
	SessionID           string          `json:"session_id"`
	Query               string          `json:"query"`
	ConversationHistory []Message       `json:"conversation_history"`
	VisitorProfile      *VisitorProfile `json:"visitor_profile,omitempty"`
}

// Chunk is a unit of indexed document text with a relevance score.
// Chunks are never mutated; re-scoring produces copies.
type Chunk struct {
	Content       string    `json:"content"`
	Score         float32   `json:"score"`
	SourceURL     string    `json:"source_url,omitempty"`
	ChunkIndex    int       `json:"chunk_index"`
	RerankScore   *float32  `json:"rerank_score,omitempty"`
	OriginalScore *float32  `json:"original_score,omitempty"`
	Vector        []float32 `json:"vector,omitempty"`
}

// Identity returns the dedupe identity of the chunk.
// Chunks from the same source position are the same chunk regardless of score.
func (c *Chunk) Identity() ID {
	if c.SourceURL != "" {
		return IDFromContent(c.SourceURL + "#" + strconv.Itoa(c.ChunkIndex))
	}
	return IDFromContent(c.Content)
}

// WithRerankScore returns a copy of the chunk scored by the reranker.
// The retrieval score is preserved as OriginalScore.
func (c Chunk) WithRerankScore(score float32) Chunk {
	original := c.Score
	if c.OriginalScore != nil {
		original = *c.OriginalScore
	}
	c.OriginalScore = &original
	c.RerankScore = &score
	c.Score = score
	c.Vector = nil
	return c
}

// ProviderConfig is a tenant's LLM provider configuration.
// APIKeys may be encrypted at rest; they are decrypted right before use.
type ProviderConfig struct {
	BotID    string            `json:"bot_id"`
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	APIKeys  []string          `json:"api_keys"`
	BaseURL  string            `json:"base_url,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

// KeyState is the cooldown record of one tenant credential.
type KeyState struct {
	CooldownUntil time.Time `json:"cooldown_until"`
	LastRateLimit time.Time `json:"last_rate_limit"`
}

// TaskStatus is the lifecycle status reported in progress events.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further events follow this status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ProgressEvent is the payload published on a task's progress topic and
// persisted as its resumable snapshot.
type ProgressEvent struct {
	TaskID    string     `json:"task_id"`
	Progress  int        `json:"progress"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Source is a document reference returned with an answer.
type Source struct {
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// TaskResult is delivered to the system of record when a task terminates.
type TaskResult struct {
	TaskID           string             `json:"task_id"`
	BotID            string             `json:"bot_id"`
	SessionID        string             `json:"session_id"`
	Status           TaskStatus         `json:"status"`
	Query            string             `json:"query"`
	Response         string             `json:"response"`
	Sources          []Source           `json:"sources"`
	Language         string             `json:"detected_language,omitempty"`
	Intent           string             `json:"intent,omitempty"`
	Model            string             `json:"model,omitempty"`
	RetrievalCount   int                `json:"retrieval_count"`
	RerankCount      int                `json:"rerank_count"`
	TokensInput      int                `json:"tokens_input"`
	TokensOutput     int                `json:"tokens_output"`
	Cost             float64            `json:"cost"`
	MemoryWritten    bool               `json:"memory_written"`
	LatencyBreakdown map[string]float64 `json:"latency_breakdown"`
	Error            string             `json:"error,omitempty"`
	ErrorKind        ErrorKind          `json:"error_kind,omitempty"`
	CompletedAt      time.Time          `json:"completed_at"`
}

// MemoryEntry is a short natural-language profile line stored per (bot, session).
type MemoryEntry struct {
	BotID     string    `json:"bot_id"`
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
