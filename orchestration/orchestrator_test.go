package orchestration

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/mock"
	"github.com/poiesic/ragchat/cancel"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/keyrotation"
	"github.com/poiesic/ragchat/providers"
	"github.com/poiesic/ragchat/rerank"
	"github.com/poiesic/ragchat/search"
	"github.com/poiesic/ragchat/storage/badger"
)

const (
	ragChunk    = "RAG combines a retriever with a generator so answers cite indexed documents."
	otherChunk  = "Our office is closed on public holidays."
	testBot     = "bot-1"
	testSession = "session-1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.ProgressEvent
	forced []bool
}

func (p *recordingPublisher) Publish(_ context.Context, taskID string, progress int, status core.TaskStatus, message string, force bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, core.ProgressEvent{TaskID: taskID, Progress: progress, Status: status, Message: message})
	p.forced = append(p.forced, force)
	return true, nil
}

func (p *recordingPublisher) progress() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.events))
	for i, e := range p.events {
		out[i] = e.Progress
	}
	return out
}

func (p *recordingPublisher) last() core.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*core.TaskResult
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, result *core.TaskResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
	return n.err
}

type recordingHooks struct {
	mu       sync.Mutex
	started  []string
	finished []string
}

func (h *recordingHooks) NodeStarted(_ context.Context, node string, _ *State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, node)
}

func (h *recordingHooks) NodeFinished(_ context.Context, node string, _ *State, _ time.Duration, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, node)
}

type harness struct {
	repos      *badger.Repositories
	reflector  *mock.MockReflector
	embedder   *mock.MockEmbedder
	encoder    *mock.MockCrossEncoder
	model      *mock.MockChatModel
	factory    *mock.MockChatModelFactory
	summarizer *mock.MockSummarizer
	keys       *keyrotation.Service
	publisher  *recordingPublisher
	notifier   *recordingNotifier
	deps       Dependencies
}

// newHarness wires real retrieval, rerank, provider and key rotation
// components around mock AI services. The collection holds two chunks
// scoring 0.2 and 0.1 against every query.
func newHarness(t *testing.T) *harness {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	ctx := context.Background()
	require.NoError(t, repos.Chunks.AddChunks(ctx, testBot,
		&core.Chunk{Content: ragChunk, SourceURL: "https://docs.example.com/rag", ChunkIndex: 0,
			Vector: []float32{0.2, float32(math.Sqrt(1 - 0.04))}},
		&core.Chunk{Content: otherChunk, SourceURL: "https://docs.example.com/hours", ChunkIndex: 0,
			Vector: []float32{0.1, float32(math.Sqrt(1 - 0.01))}},
	))
	require.NoError(t, repos.Providers.PutProviderConfig(ctx, &core.ProviderConfig{
		BotID:    testBot,
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKeys:  []string{"sk-a", "sk-b"},
	}))

	h := &harness{
		repos:      repos,
		reflector:  mock.NewMockReflector(),
		embedder:   mock.NewMockEmbedder(),
		encoder:    mock.NewMockCrossEncoder(),
		model:      mock.NewMockChatModel(),
		summarizer: mock.NewMockSummarizer(),
		keys:       keyrotation.New(keyrotation.NewMemoryStore()),
		publisher:  &recordingPublisher{},
		notifier:   &recordingNotifier{},
	}
	h.factory = mock.NewMockChatModelFactory(h.model)
	h.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	searcher, err := search.NewSearcher(repos.Chunks, h.embedder)
	require.NoError(t, err)
	reranker, err := rerank.New(h.encoder, rerank.WithTimeout(200*time.Millisecond))
	require.NoError(t, err)

	h.deps = Dependencies{
		Reflector:  h.reflector,
		Retriever:  searcher,
		Reranker:   reranker,
		Providers:  providers.NewSource(repos.Providers, time.Minute, nil),
		Completer:  providers.NewGateway(h.keys, h.factory),
		Memories:   repos.Memories,
		Summarizer: h.summarizer,
		Progress:   h.publisher,
		Notifier:   h.notifier,
	}
	return h
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(h.deps, append([]Option{WithTopN(1)}, opts...)...)
	require.NoError(t, err)
	return o
}

func newTask(query string) *core.ChatTask {
	return &core.ChatTask{
		TaskID:    "task-1",
		BotID:     testBot,
		SessionID: testSession,
		Query:     query,
		VisitorProfile: &core.VisitorProfile{
			Name: "Ada",
		},
	}
}

func greetingReflection(context.Context, *core.ChatTask) (*ai.Reflection, error) {
	return &ai.Reflection{Language: "en", LanguageConfidence: 0.9, Intent: ai.IntentGreeting}, nil
}

func TestNew_RequiresCollaborators(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*Dependencies)
		want   error
	}{
		{"reflector", func(d *Dependencies) { d.Reflector = nil }, ErrReflectorRequired},
		{"retriever", func(d *Dependencies) { d.Retriever = nil }, ErrRetrieverRequired},
		{"reranker", func(d *Dependencies) { d.Reranker = nil }, ErrRerankerRequired},
		{"providers", func(d *Dependencies) { d.Providers = nil }, ErrProviderSourceRequired},
		{"completer", func(d *Dependencies) { d.Completer = nil }, ErrCompleterRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := h.deps
			tt.mutate(&deps)
			_, err := New(deps)
			assert.Equal(t, tt.want, err)
		})
	}

	o := h.orchestrator(t)
	assert.Contains(t, o.Describe(), "entry: reflection")
}

func TestRun_RetrievalPath(t *testing.T) {
	h := newHarness(t)
	h.encoder.ScoreFunc = func(_ context.Context, _ string, texts []string) ([]float32, error) {
		assert.Len(t, texts, 2)
		return []float32{0.9, 0.05}, nil
	}
	hooks := &recordingHooks{}
	var observed *core.TaskResult
	o := h.orchestrator(t, WithNodeHooks(hooks), WithResultObserver(func(r *core.TaskResult) { observed = r }))

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.RetrievalCount)
	assert.Equal(t, 1, result.RerankCount)
	assert.NotEmpty(t, result.Response)
	assert.Equal(t, mock.DefaultAnswer, result.Response)
	assert.Greater(t, result.TokensInput, 0)
	assert.Greater(t, result.TokensOutput, 0)
	assert.Greater(t, result.Cost, 0.0)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://docs.example.com/rag", result.Sources[0].URL)
	assert.InDelta(t, 0.9, result.Sources[0].Score, 1e-6)

	require.Equal(t, 1, h.model.CallCount())
	prompt := h.model.Calls()[0]
	assert.Equal(t, core.RoleSystem, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, ragChunk)
	assert.NotContains(t, prompt[0].Content, otherChunk)
	assert.Contains(t, prompt[0].Content, "Name: Ada")
	assert.Equal(t, core.Message{Role: core.RoleUser, Content: "What is RAG?"}, prompt[len(prompt)-1])

	assert.True(t, result.MemoryWritten)
	memories, err := h.repos.Memories.GetMemories(context.Background(), testBot, testSession, 0)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "Asked: What is RAG?", memories[0].Summary)

	for _, node := range []string{NodeReflection, NodeRetrieve, NodeGenerate, NodeMemory, NodeFinal, "total"} {
		assert.Contains(t, result.LatencyBreakdown, node)
	}
	assert.NotContains(t, result.LatencyBreakdown, NodeChitchat)
	assert.Equal(t, []string{NodeReflection, NodeRetrieve, NodeGenerate, NodeMemory, NodeFinal}, hooks.started)
	assert.Equal(t, hooks.started, hooks.finished)

	assert.Equal(t, []int{5, 10, 30, 60, 85, 95, 100}, h.publisher.progress())
	assert.Equal(t, core.StatusCompleted, h.publisher.last().Status)

	require.Len(t, h.notifier.results, 1)
	assert.Same(t, result, h.notifier.results[0])
	assert.Same(t, result, observed)
}

func TestRun_ChitchatPath(t *testing.T) {
	h := newHarness(t)
	h.reflector.ReflectFunc = greetingReflection
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("Hello!"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.Equal(t, "Hello, Ada! How can I help you today?", result.Response)
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.RetrievalCount)
	assert.Zero(t, result.RerankCount)
	assert.Zero(t, result.TokensInput)

	assert.Zero(t, h.embedder.CallCount(), "no retrieval")
	assert.Zero(t, h.encoder.CallCount(), "no rerank")
	assert.Zero(t, h.model.CallCount(), "no generation")
	assert.Empty(t, h.factory.Keys(), "no provider call")

	assert.Contains(t, result.LatencyBreakdown, NodeChitchat)
	assert.Contains(t, result.LatencyBreakdown, NodeMemory)
	assert.NotContains(t, result.LatencyBreakdown, NodeRetrieve)
	assert.Equal(t, []int{5, 10, 60, 85, 95, 100}, h.publisher.progress())
}

func TestRun_ChitchatLocalized(t *testing.T) {
	h := newHarness(t)
	h.reflector.ReflectFunc = func(context.Context, *core.ChatTask) (*ai.Reflection, error) {
		return &ai.Reflection{Language: "de", Intent: ai.IntentThanks}, nil
	}
	o := h.orchestrator(t)

	task := newTask("Danke schön")
	task.VisitorProfile = nil
	result, err := o.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Gern geschehen! Kann ich sonst noch helfen?", result.Response)
	assert.Equal(t, "de", result.Language)
}

func TestRun_RewrittenQueryDrivesRerank(t *testing.T) {
	h := newHarness(t)
	h.reflector.ReflectFunc = func(context.Context, *core.ChatTask) (*ai.Reflection, error) {
		return &ai.Reflection{Language: "en", Intent: ai.IntentQuestion, NeedsRetrieval: true, RewrittenQuery: "What is retrieval-augmented generation?"}, nil
	}
	var rerankQuery string
	h.encoder.ScoreFunc = func(_ context.Context, query string, texts []string) ([]float32, error) {
		rerankQuery = query
		return make([]float32, len(texts)), nil
	}
	o := h.orchestrator(t)

	task := newTask("And what is it?")
	task.ConversationHistory = []core.Message{
		{Role: core.RoleUser, Content: "Tell me about RAG"},
		{Role: core.RoleAssistant, Content: "Sure."},
	}
	_, err := o.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "What is retrieval-augmented generation?", rerankQuery)

	// history sits between the system prompt and the query
	prompt := h.model.Calls()[0]
	require.Len(t, prompt, 4)
	assert.Equal(t, "Tell me about RAG", prompt[1].Content)
	assert.Equal(t, "And what is it?", prompt[3].Content)
}

func TestRun_LowConfidenceSkipsGeneration(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, WithConfidenceThreshold(0.5))

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.Equal(t, noContextReply("en"), result.Response)
	assert.Equal(t, 2, result.RetrievalCount)
	assert.Zero(t, result.RerankCount)
	assert.Zero(t, h.encoder.CallCount())
	assert.Zero(t, h.model.CallCount())
}

func TestRun_EmptyCollectionSkipsGeneration(t *testing.T) {
	h := newHarness(t)
	_, err := h.repos.Chunks.DeleteCollection(context.Background(), testBot)
	require.NoError(t, err)
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.NoError(t, err)
	assert.Equal(t, noContextReply("en"), result.Response)
	assert.Zero(t, result.RetrievalCount)
	assert.Zero(t, h.model.CallCount())
}

func TestRun_RerankTimeoutStillAnswers(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.encoder.ScoreFunc = func(_ context.Context, _ string, texts []string) ([]float32, error) {
		<-release
		return make([]float32, len(texts)), nil
	}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://docs.example.com/rag", result.Sources[0].URL, "falls back to retrieval order")
	assert.InDelta(t, 0.2, result.Sources[0].Score, 1e-3)
}

func TestRun_MissingProviderConfigFails(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	task := newTask("What is RAG?")
	task.BotID = "bot-unknown"
	result, err := o.Run(context.Background(), task)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	var taskErr *core.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, NodeReflection, taskErr.Stage)
	assert.Equal(t, core.KindConfiguration, taskErr.Kind())

	assert.Equal(t, core.StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Zero(t, h.reflector.CallCount())

	last := h.publisher.last()
	assert.Equal(t, core.StatusFailed, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.True(t, strings.HasPrefix(last.Message, "Failed: "))
	require.Len(t, h.notifier.results, 1)
	assert.Equal(t, core.StatusFailed, h.notifier.results[0].Status)
}

func TestRun_AllKeysRateLimited(t *testing.T) {
	h := newHarness(t)
	h.model.CompleteFunc = func(context.Context, []core.Message, ai.CompletionOptions) (*ai.Completion, error) {
		return nil, core.ErrRateLimited
	}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAllKeysExhausted)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Equal(t, 2, h.model.CallCount(), "each key tried once")
	assert.False(t, result.MemoryWritten)

	for i := range 2 {
		state, found, err := h.keys.State(context.Background(), testBot, i)
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, state.CooldownUntil.After(time.Now()))
	}
}

func TestRun_EmptyResponseFails(t *testing.T) {
	h := newHarness(t)
	h.model.CompleteFunc = func(context.Context, []core.Message, ai.CompletionOptions) (*ai.Completion, error) {
		return &ai.Completion{Text: "  ", InputTokens: 10}, nil
	}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), newTask("What is RAG?"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRun_ReflectionErrorFails(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("reflection model unavailable")
	h.reflector.ReflectFunc = func(context.Context, *core.ChatTask) (*ai.Reflection, error) {
		return nil, boom
	}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Zero(t, h.embedder.CallCount())
}

func TestRun_MemoryFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.summarizer.SummarizeFunc = func(context.Context, []string, []core.Message) (string, error) {
		return "", errors.New("summarizer down")
	}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.False(t, result.MemoryWritten)
}

func TestRun_StoredMemoriesReachPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repos.Memories.AppendMemory(ctx, &core.MemoryEntry{
		BotID: testBot, SessionID: testSession, Summary: "Works at Initech, evaluating the enterprise plan.",
	}))
	var existing []string
	h.summarizer.SummarizeFunc = func(_ context.Context, lines []string, _ []core.Message) (string, error) {
		existing = lines
		return "", nil
	}
	o := h.orchestrator(t)

	task := newTask("What is RAG?")
	task.VisitorProfile.Memory = []string{"Prefers email contact."}
	result, err := o.Run(ctx, task)
	require.NoError(t, err)

	assert.Equal(t, []string{"Prefers email contact.", "Works at Initech, evaluating the enterprise plan."}, existing)
	assert.Contains(t, h.model.Calls()[0][0].Content, "Works at Initech")
	assert.False(t, result.MemoryWritten, "empty summary writes nothing")
}

func TestRun_NotifierFailureDoesNotFailTask(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("webhook rejected")
	h.reflector.ReflectFunc = greetingReflection
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), newTask("Hi"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)
}

func TestRun_InvalidTask(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	task := newTask("")
	result, err := o.Run(context.Background(), task)
	assert.ErrorIs(t, err, core.ErrInvalidTask)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Zero(t, h.reflector.CallCount())

	_, err = o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidTask)
}

func TestRun_CancelledBetweenNodes(t *testing.T) {
	h := newHarness(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	signal := cancel.NewSignal(client, "test:")

	h.reflector.ReflectFunc = func(ctx context.Context, task *core.ChatTask) (*ai.Reflection, error) {
		require.NoError(t, signal.Cancel(context.Background(), task.SessionID))
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return &ai.Reflection{Language: "en", Intent: ai.IntentQuestion, NeedsRetrieval: true}, nil
	}
	o := h.orchestrator(t, WithCancelWatcher(signal, 5*time.Millisecond))

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Equal(t, core.StatusCancelled, result.Status)
	assert.Zero(t, h.embedder.CallCount(), "retrieve never entered")
	assert.Zero(t, h.model.CallCount())

	last := h.publisher.last()
	assert.Equal(t, core.StatusCancelled, last.Status)
	assert.Equal(t, 100, last.Progress)
	require.Len(t, h.notifier.results, 1)
}

func TestRun_TaskTimeout(t *testing.T) {
	h := newHarness(t)
	h.reflector.ReflectFunc = func(ctx context.Context, _ *core.ChatTask) (*ai.Reflection, error) {
		<-ctx.Done()
		return &ai.Reflection{Language: "en", NeedsRetrieval: true}, nil
	}
	o := h.orchestrator(t, WithTaskTimeout(20*time.Millisecond))

	result, err := o.Run(context.Background(), newTask("What is RAG?"))
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, core.StatusFailed, result.Status)
}

func TestCompletionOptions(t *testing.T) {
	opts := completionOptions(&core.ProviderConfig{})
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 1024, opts.MaxTokens)

	opts = completionOptions(&core.ProviderConfig{Config: map[string]string{"temperature": "0.7", "max_tokens": "256"}})
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 256, opts.MaxTokens)

	opts = completionOptions(&core.ProviderConfig{Config: map[string]string{"temperature": "hot", "max_tokens": "-1"}})
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 1024, opts.MaxTokens)
}

func TestTemplates(t *testing.T) {
	assert.Equal(t, "Hello! How can I help you today?", chitchatReply(ai.IntentGreeting, "en", ""))
	assert.Equal(t, "¡Hola, Ana! ¿En qué puedo ayudarte hoy?", chitchatReply(ai.IntentGreeting, "es", "Ana"))
	assert.Equal(t, "Goodbye! Feel free to come back any time.", chitchatReply(ai.IntentFarewell, "xx", ""))
	assert.Equal(t, "How can I help you?", chitchatReply(ai.IntentQuestion, "en", " "))
	assert.Equal(t, noContextReplies["en"], noContextReply("ja"))
	assert.Equal(t, noContextReplies["fr"], noContextReply("fr"))
}
