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

// Package orchestration answers one chat task by running it through the
// answer graph:
//
//	reflection -> chitchat | retrieve
//	chitchat   -> memory
//	retrieve   -> generate -> memory
//	memory     -> final
//
// Reflection, retrieval and generation failures are fatal to the task.
// Memory failures are logged and leave MemoryWritten false. Every run ends
// with a forced terminal progress event and a completion notification.
package orchestration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/graph"
	"github.com/poiesic/ragchat/providers"
	"github.com/poiesic/ragchat/search"
	"github.com/poiesic/ragchat/storage"
)

const (
	// DefaultTopN is the number of reranked chunks placed in the prompt.
	DefaultTopN = 3

	// DefaultHistoryTurns is the number of prior messages sent to the provider.
	DefaultHistoryTurns = 6

	// DefaultMemoryLimit is the number of stored profile entries loaded per task.
	DefaultMemoryLimit = 10

	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
)

// checkpoint is the progress published when a node starts.
type checkpoint struct {
	progress int
	message  string
}

var checkpoints = map[string]checkpoint{
	NodeReflection: {10, "Analyzing question"},
	NodeChitchat:   {60, "Composing reply"},
	NodeRetrieve:   {30, "Searching knowledge base"},
	NodeGenerate:   {60, "Generating answer"},
	NodeMemory:     {85, "Updating visitor profile"},
	NodeFinal:      {95, "Finalizing"},
}

// Retriever finds candidate chunks in a tenant collection.
// search.Searcher satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query, refinedQuery string) ([]core.Chunk, error)
}

// Reranker orders chunks by relevance and never fails.
// rerank.Reranker satisfies it.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []core.Chunk, topN int) []core.Chunk
}

// ProviderSource returns a tenant's provider configuration.
// providers.Source satisfies it.
type ProviderSource interface {
	Get(ctx context.Context, botID string) (*core.ProviderConfig, error)
}

// Completer calls the tenant's provider with key rotation.
// providers.Gateway satisfies it.
type Completer interface {
	Complete(ctx context.Context, cfg *core.ProviderConfig, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, *providers.Usage, error)
}

// ProgressPublisher emits throttled progress events.
// progress.Publisher satisfies it.
type ProgressPublisher interface {
	Publish(ctx context.Context, taskID string, progress int, status core.TaskStatus, message string, force bool) (bool, error)
}

// Notifier delivers terminal results to the system of record.
// A nil error means the result was accepted.
type Notifier interface {
	Notify(ctx context.Context, result *core.TaskResult) error
}

// CancelWatcher derives a context that ends when the session asks to stop.
// cancel.Signal satisfies it.
type CancelWatcher interface {
	Watch(ctx context.Context, sessionID string, interval time.Duration) (context.Context, context.CancelFunc)
}

// Dependencies are the collaborators of an Orchestrator.
// Memories, Summarizer, Progress and Notifier are optional.
type Dependencies struct {
	Reflector  ai.Reflector
	Retriever  Retriever
	Reranker   Reranker
	Providers  ProviderSource
	Completer  Completer
	Memories   storage.MemoryRepository
	Summarizer ai.Summarizer
	Progress   ProgressPublisher
	Notifier   Notifier
}

// Orchestrator runs chat tasks through the answer graph.
// It is safe for concurrent use; each Run owns its State.
type Orchestrator struct {
	deps  Dependencies
	graph *graph.Graph[*State]

	topN         int
	threshold    float32
	historyTurns int
	memoryLimit  int
	taskTimeout  time.Duration

	canceller    CancelWatcher
	pollInterval time.Duration

	hooks    []graph.Hooks[*State]
	observer func(*core.TaskResult)
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTopN sets how many reranked chunks reach the prompt.
func WithTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.topN = n
		}
	}
}

// WithConfidenceThreshold sets the minimum top retrieval score required to
// generate. Below it the task gets the no-context answer. Zero disables the gate.
func WithConfidenceThreshold(threshold float32) Option {
	return func(o *Orchestrator) {
		o.threshold = threshold
	}
}

// WithHistoryTurns limits the prior messages sent to the provider.
func WithHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyTurns = n
		}
	}
}

// WithMemoryLimit limits the stored profile entries loaded per task.
func WithMemoryLimit(n int) Option {
	return func(o *Orchestrator) {
		o.memoryLimit = n
	}
}

// WithTaskTimeout bounds a whole run. Zero means no limit.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.taskTimeout = d
	}
}

// WithCancelWatcher enables session cancellation polled every interval.
func WithCancelWatcher(w CancelWatcher, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.canceller = w
		o.pollInterval = interval
	}
}

// WithNodeHooks adds observers of node execution.
func WithNodeHooks(hooks ...graph.Hooks[*State]) Option {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithResultObserver registers fn to receive every terminal result.
func WithResultObserver(fn func(*core.TaskResult)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an Orchestrator and validates its graph.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Reflector == nil:
		return nil, ErrReflectorRequired
	case deps.Retriever == nil:
		return nil, ErrRetrieverRequired
	case deps.Reranker == nil:
		return nil, ErrRerankerRequired
	case deps.Providers == nil:
		return nil, ErrProviderSourceRequired
	case deps.Completer == nil:
		return nil, ErrCompleterRequired
	}

	o := &Orchestrator{
		deps:         deps,
		topN:         DefaultTopN,
		historyTurns: DefaultHistoryTurns,
		memoryLimit:  DefaultMemoryLimit,
		now:          time.Now,
		logger:       slog.Default().With("component", "orchestration"),
	}
	for _, opt := range opts {
		opt(o)
	}

	g := graph.New[*State]("chat").
		AddNode(NodeReflection, o.reflect).
		AddNode(NodeChitchat, o.chitchat).
		AddNode(NodeRetrieve, o.retrieve).
		AddNode(NodeGenerate, o.generate).
		AddNode(NodeMemory, o.memory).
		AddNode(NodeFinal, o.final).
		SetEntry(NodeReflection).
		AddConditionalEdge(NodeReflection, route, NodeChitchat, NodeRetrieve).
		AddEdge(NodeChitchat, NodeMemory).
		AddEdge(NodeRetrieve, NodeGenerate).
		AddEdge(NodeGenerate, NodeMemory).
		AddEdge(NodeMemory, NodeFinal).
		AddEdge(NodeFinal, graph.End)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("answer graph: %w", err)
	}
	o.graph = g
	return o, nil
}

// Describe renders the answer graph.
func (o *Orchestrator) Describe() string {
	return o.graph.Describe()
}

// Run answers task. It always returns a result describing the terminal
// status; the error is the task failure, if any.
func (o *Orchestrator) Run(ctx context.Context, task *core.ChatTask) (*core.TaskResult, error) {
	if task == nil {
		return nil, core.ErrInvalidTask
	}
	logger := o.logger.With("task_id", task.TaskID, "bot_id", task.BotID, "session_id", task.SessionID)
	state := newState(task, o.now())

	if err := core.ValidateChatTask(task); err != nil {
		state.Err = &core.TaskError{Stage: "admission", Err: err}
		return o.finish(ctx, state, core.StatusFailed, logger)
	}

	o.publish(ctx, task.TaskID, 5, core.StatusProcessing, "Processing started", true, logger)

	runCtx, cancelRun := ctx, context.CancelFunc(func() {})
	if o.taskTimeout > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, o.taskTimeout)
	}
	defer cancelRun()
	if o.canceller != nil {
		var stop context.CancelFunc
		runCtx, stop = o.canceller.Watch(runCtx, task.SessionID, o.pollInterval)
		defer stop()
	}

	path, err := o.graph.Run(runCtx, state, &nodeObserver{o: o, logger: logger})
	state.Path = path

	status := core.StatusCompleted
	if err != nil {
		stage := ""
		var nodeErr *graph.NodeError
		if errors.As(err, &nodeErr) {
			stage, err = nodeErr.Node, nodeErr.Err
		}
		state.Err = &core.TaskError{Stage: stage, Err: err}
		status = core.StatusFailed
		if core.Classify(err) == core.KindCancelled {
			status = core.StatusCancelled
		}
	}
	return o.finish(ctx, state, status, logger)
}

// finish publishes the terminal event and delivers the result. Both run
// detached from ctx so a cancelled task still reports its outcome.
func (o *Orchestrator) finish(ctx context.Context, state *State, status core.TaskStatus, logger *slog.Logger) (*core.TaskResult, error) {
	if state.FinishedAt.IsZero() {
		state.FinishedAt = o.now()
	}
	result := state.Result(status)
	detached := context.WithoutCancel(ctx)

	message := "Completed"
	switch status {
	case core.StatusCancelled:
		message = "Cancelled"
	case core.StatusFailed:
		message = "Failed: " + result.Error
	}
	o.publish(detached, state.Task.TaskID, 100, status, message, true, logger)

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Notify(detached, result); err != nil {
			logger.Error("completion notification failed", "status", status, "err", err)
		}
	}
	if o.observer != nil {
		o.observer(result)
	}

	if state.Err != nil {
		logger.Warn("task ended", "status", status, "path", state.Path, "kind", core.Classify(state.Err), "err", state.Err)
		return result, state.Err
	}
	logger.Info("task completed",
		"path", state.Path,
		"intent", state.Intent,
		"language", state.Language,
		"retrieved", result.RetrievalCount,
		"reranked", result.RerankCount,
		"tokens_input", result.TokensInput,
		"tokens_output", result.TokensOutput)
	return result, nil
}

func (o *Orchestrator) publish(ctx context.Context, taskID string, progress int, status core.TaskStatus, message string, force bool, logger *slog.Logger) {
	if o.deps.Progress == nil {
		return
	}
	if _, err := o.deps.Progress.Publish(ctx, taskID, progress, status, message, force); err != nil {
		logger.Warn("progress publish failed", "progress", progress, "status", status, "err", err)
	}
}

func route(s *State) string {
	if s.NeedsRetrieval {
		return NodeRetrieve
	}
	return NodeChitchat
}

func (o *Orchestrator) reflect(ctx context.Context, s *State) error {
	cfg, err := o.deps.Providers.Get(ctx, s.Task.BotID)
	if err != nil {
		return err
	}
	s.Provider = cfg
	s.Memories = o.loadMemories(ctx, s)

	r, err := o.deps.Reflector.Reflect(ctx, s.Task)
	if err != nil {
		return fmt.Errorf("reflect: %w", err)
	}
	s.Language = cmp.Or(r.Language, "en")
	s.LanguageConfidence = r.LanguageConfidence
	s.Intent = cmp.Or(r.Intent, ai.IntentQuestion)
	s.NeedsRetrieval = r.NeedsRetrieval
	if rewritten := strings.TrimSpace(r.RewrittenQuery); rewritten != s.Task.Query {
		s.RewrittenQuery = rewritten
	}
	return nil
}

// loadMemories returns the visitor's profile lines followed by stored
// entries, oldest first. Storage errors leave only the profile lines.
func (o *Orchestrator) loadMemories(ctx context.Context, s *State) []string {
	var lines []string
	if p := s.Task.VisitorProfile; p != nil {
		lines = append(lines, p.Memory...)
	}
	if o.deps.Memories == nil {
		return lines
	}
	entries, err := o.deps.Memories.GetMemories(ctx, s.Task.BotID, s.Task.SessionID, o.memoryLimit)
	if err != nil {
		o.logger.Warn("loading visitor memory failed", "task_id", s.Task.TaskID, "err", err)
		return lines
	}
	slices.Reverse(entries)
	for _, e := range entries {
		if !slices.Contains(lines, e.Summary) {
			lines = append(lines, e.Summary)
		}
	}
	return lines
}

func (o *Orchestrator) chitchat(_ context.Context, s *State) error {
	name := ""
	if s.Task.VisitorProfile != nil {
		name = s.Task.VisitorProfile.Name
	}
	s.Response = chitchatReply(s.Intent, s.Language, name)
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, s *State) error {
	chunks, err := o.deps.Retriever.Retrieve(ctx, s.Task.BotID, s.Task.Query, s.RewrittenQuery)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if chunks == nil {
		chunks = []core.Chunk{}
	}
	s.RetrievedChunks = chunks
	s.LowConfidence = !search.Confident(chunks, o.threshold)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, s *State) error {
	if len(s.RetrievedChunks) == 0 || s.LowConfidence {
		o.logger.Info("insufficient context, skipping generation",
			"task_id", s.Task.TaskID,
			"retrieved", len(s.RetrievedChunks),
			"top_score", search.TopScore(s.RetrievedChunks))
		s.Response = noContextReply(s.Language)
		return nil
	}

	s.RerankedChunks = o.deps.Reranker.Rerank(ctx, s.searchQuery(), s.RetrievedChunks, o.topN)

	messages := buildMessages(s, o.historyTurns)
	completion, usage, err := o.deps.Completer.Complete(ctx, s.Provider, messages, completionOptions(s.Provider))
	if err != nil {
		return err
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return ErrEmptyResponse
	}

	s.Response = text
	s.Model = cmp.Or(completion.Model, s.Provider.Model)
	s.TokensInput = completion.InputTokens
	s.TokensOutput = completion.OutputTokens
	if usage != nil {
		s.Cost = usage.Cost
	}
	return nil
}

func (o *Orchestrator) memory(ctx context.Context, s *State) error {
	if o.deps.Memories == nil || o.deps.Summarizer == nil {
		return nil
	}
	turn := []core.Message{
		{Role: core.RoleUser, Content: s.Task.Query},
		{Role: core.RoleAssistant, Content: s.Response},
	}
	summary, err := o.deps.Summarizer.Summarize(ctx, s.Memories, turn)
	if err != nil {
		o.logger.Warn("memory summarization failed", "task_id", s.Task.TaskID, "err", err)
		return nil
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}
	entry := &core.MemoryEntry{
		BotID:     s.Task.BotID,
		SessionID: s.Task.SessionID,
		Summary:   summary,
		TaskID:    s.Task.TaskID,
		CreatedAt: o.now(),
	}
	if err := o.deps.Memories.AppendMemory(ctx, entry); err != nil {
		o.logger.Warn("memory write failed", "task_id", s.Task.TaskID, "err", err)
		return nil
	}
	s.MemorySummary = summary
	s.MemoryWritten = true
	return nil
}

func (o *Orchestrator) final(_ context.Context, s *State) error {
	s.FinishedAt = o.now()
	s.LatencyBreakdown["total"] = s.FinishedAt.Sub(s.StartedAt).Seconds()
	return nil
}

// completionOptions reads temperature and max_tokens from the tenant config.
func completionOptions(cfg *core.ProviderConfig) ai.CompletionOptions {
	opts := ai.CompletionOptions{Temperature: defaultTemperature, MaxTokens: defaultMaxTokens}
	if cfg == nil {
		return opts
	}
	if v, err := strconv.ParseFloat(cfg.Config["temperature"], 64); err == nil && v >= 0 {
		opts.Temperature = v
	}
	if v, err := strconv.Atoi(cfg.Config["max_tokens"]); err == nil && v > 0 {
		opts.MaxTokens = v
	}
	return opts
}

// nodeObserver publishes node checkpoints, records latency and forwards to
// the configured hooks.
type nodeObserver struct {
	o      *Orchestrator
	logger *slog.Logger
}

func (n *nodeObserver) NodeStarted(ctx context.Context, node string, s *State) {
	if cp, ok := checkpoints[node]; ok {
		n.o.publish(ctx, s.Task.TaskID, cp.progress, core.StatusProcessing, cp.message, false, n.logger)
	}
	for _, h := range n.o.hooks {
		h.NodeStarted(ctx, node, s)
	}
}

func (n *nodeObserver) NodeFinished(ctx context.Context, node string, s *State, elapsed time.Duration, err error) {
	s.LatencyBreakdown[node] = elapsed.Seconds()
	n.logger.Debug("node finished", "node", node, "elapsed", elapsed, "err", err)
	for _, h := range n.o.hooks {
		h.NodeFinished(ctx, node, s, elapsed, err)
	}
}
