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

// Package ragchat wires the chat-answer pipeline from a config.Config.
package ragchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/openai"
	"github.com/poiesic/ragchat/api"
	"github.com/poiesic/ragchat/cancel"
	"github.com/poiesic/ragchat/config"
	"github.com/poiesic/ragchat/ingestion"
	"github.com/poiesic/ragchat/keyrotation"
	"github.com/poiesic/ragchat/metrics"
	"github.com/poiesic/ragchat/notify"
	"github.com/poiesic/ragchat/orchestration"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/providers"
	"github.com/poiesic/ragchat/queue"
	"github.com/poiesic/ragchat/reembed"
	"github.com/poiesic/ragchat/rerank"
	"github.com/poiesic/ragchat/search"
	"github.com/poiesic/ragchat/storage/badger"
	"github.com/poiesic/ragchat/worker"
)

// Runtime holds every long-lived component of the service.
type Runtime struct {
	Config       *config.Config
	Redis        redis.UniversalClient
	Repos        *badger.Repositories
	AI           ai.AIProvider
	Metrics      *metrics.Metrics
	Keys         *keyrotation.Service
	Searcher     *search.Searcher
	Reranker     *rerank.Reranker
	Providers    *providers.Source
	Gateway      *providers.Gateway
	Decrypter    *providers.Decrypter
	Progress     *progress.Publisher
	Cancel       *cancel.Signal
	Queue        *queue.Queue
	Notifier     *notify.Notifier
	Orchestrator *orchestration.Orchestrator

	ownsRedis bool
	ownsAI    bool
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	redis      redis.UniversalClient
	provider   ai.AIProvider
	factory    ai.ChatModelFactory
	httpClient *http.Client
	registry   *prometheus.Registry
	logger     *slog.Logger
}

// WithRedisClient uses client instead of dialing config.Redis.URL.
// The caller keeps ownership of client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithAIProvider uses p instead of building the OpenAI-compatible provider.
// The caller keeps ownership of p.
func WithAIProvider(p ai.AIProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithChatModelFactory replaces the tenant chat model factory.
func WithChatModelFactory(f ai.ChatModelFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithHTTPClient sets the client used for the cross-encoder and webhook.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open builds the runtime. cfg must already be validated.
func Open(cfg *config.Config, opts ...Option) (rt *Runtime, err error) {
	o := &options{
		factory:    openai.NewFactory(),
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	rt = &Runtime{
		Config:  cfg,
		Metrics: metrics.New(o.registry),
		logger:  o.logger.With("component", "runtime"),
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	prefix := cfg.Redis.Prefix
	if o.redis != nil {
		rt.Redis = o.redis
	} else {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return rt, fmt.Errorf("parse redis url: %w", err)
		}
		rt.Redis = redis.NewClient(redisOpts)
		rt.ownsRedis = true
	}

	if cfg.Storage.InMemory {
		rt.Repos, err = badger.NewMemoryRepositories()
	} else {
		var backend *badger.Backend
		backend, err = badger.OpenBackend(cfg.Storage.Path, false)
		if err == nil {
			rt.Repos, err = badger.NewRepositories(backend)
			if err != nil {
				backend.Close()
			}
		}
	}
	if err != nil {
		return rt, fmt.Errorf("open storage: %w", err)
	}

	if o.provider != nil {
		rt.AI = o.provider
	} else {
		rt.AI, err = openai.NewProvider(&cfg.AI, o.httpClient)
		if err != nil {
			return rt, fmt.Errorf("ai provider: %w", err)
		}
		rt.ownsAI = true
	}

	rt.Reranker, err = rerank.New(rt.AI.CrossEncoder(),
		rerank.WithTimeout(cfg.Rerank.Timeout),
		rerank.WithFallbackHook(rt.Metrics.RerankFallback))
	if err != nil {
		return rt, err
	}

	searchOpts := []search.Option{search.WithConfig(cfg.Retrieval.Config)}
	if cfg.Retrieval.TwoStage {
		searchOpts = append(searchOpts, search.WithNarrower(rt.Reranker))
	}
	rt.Searcher, err = search.NewSearcher(rt.Repos.Chunks, rt.AI.Embedder(), searchOpts...)
	if err != nil {
		return rt, err
	}

	masterKey, err := providers.ParseMasterKey(cfg.Providers.MasterKey)
	if err != nil {
		return rt, err
	}
	rt.Decrypter, err = providers.NewDecrypter(masterKey)
	if err != nil {
		return rt, err
	}
	rt.Keys = keyrotation.New(keyrotation.NewRedisStore(rt.Redis, prefix), keyrotation.WithCooldown(cfg.Keys.Cooldown))
	rt.Providers = providers.NewSource(rt.Repos.Providers, cfg.Providers.CacheTTL, nil)
	rt.Gateway = providers.NewGateway(rt.Keys, o.factory,
		providers.WithPrices(cfg.Prices()),
		providers.WithDecrypter(rt.Decrypter),
		providers.WithRateLimitHook(rt.Metrics.RateLimited))

	progressCfg := cfg.Progress
	if progressCfg.Prefix == "" {
		progressCfg.Prefix = prefix
	}
	rt.Progress = progress.NewPublisher(rt.Redis, progressCfg)
	rt.Cancel = cancel.NewSignal(rt.Redis, prefix, cancel.WithTTL(cfg.Workers.CancelTTL))

	queueCfg := cfg.Queue
	queueCfg.Name = prefix + queueCfg.Name
	rt.Queue = queue.New(rt.Redis, queueCfg, o.logger)

	deps := orchestration.Dependencies{
		Reflector:  rt.AI.Reflector(),
		Retriever:  rt.Searcher,
		Reranker:   rt.Reranker,
		Providers:  rt.Providers,
		Completer:  rt.Gateway,
		Memories:   rt.Repos.Memories,
		Summarizer: rt.AI.Summarizer(),
		Progress:   rt.Progress,
	}
	if cfg.Webhook.URL != "" {
		rt.Notifier, err = notify.New(cfg.Webhook,
			notify.WithHTTPClient(o.httpClient),
			notify.WithAttemptHook(rt.Metrics.WebhookAttempt))
		if err != nil {
			return rt, err
		}
		deps.Notifier = rt.Notifier
	}

	rt.Orchestrator, err = orchestration.New(deps,
		orchestration.WithTopN(cfg.Rerank.TopN),
		orchestration.WithConfidenceThreshold(cfg.Retrieval.ConfidenceThreshold),
		orchestration.WithHistoryTurns(cfg.Retrieval.HistoryTurns),
		orchestration.WithTaskTimeout(cfg.Workers.TaskTimeout),
		orchestration.WithCancelWatcher(rt.Cancel, cfg.Workers.CancelPollInterval),
		orchestration.WithNodeHooks(metrics.NodeHooks[*orchestration.State](rt.Metrics)),
		orchestration.WithResultObserver(rt.Metrics.ObserveResult))
	if err != nil {
		return rt, err
	}

	rt.logger.Info("runtime ready",
		"storage", cfg.Storage.Path,
		"in_memory", cfg.Storage.InMemory,
		"queue", queueCfg.Name,
		"two_stage", cfg.Retrieval.TwoStage,
		"webhook", rt.Notifier != nil)
	return rt, nil
}

// NewWorkerPool creates the task consumer pool.
func (rt *Runtime) NewWorkerPool(opts ...worker.Option) (*worker.Pool, error) {
	opts = append([]worker.Option{
		worker.WithConcurrency(rt.Config.Workers.MaxConcurrentChatTasks),
		worker.WithConsumerPrefix(rt.Config.Workers.ConsumerPrefix),
		worker.WithInFlightHook(rt.Metrics.TaskStarted),
	}, opts...)
	return worker.New(rt.Queue, rt.Orchestrator, opts...)
}

// NewServer creates the HTTP API.
func (rt *Runtime) NewServer(opts ...api.Option) (*api.Server, error) {
	opts = append([]api.Option{
		api.WithMetrics(rt.Metrics.Handler()),
		api.WithRejectionHook(rt.Metrics.QueueRejected),
		api.WithHealthCheck(func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}),
	}, opts...)
	return api.New(rt.Queue, rt.Progress, rt.Cancel, opts...)
}

// NewIngestionPipeline creates a pipeline storing into the chunk repository.
func (rt *Runtime) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(rt.Repos.Chunks, rt.AI.Embedder(), opts...)
}

// NewReembedder creates a reembedder over the chunk repository.
func (rt *Runtime) NewReembedder(config *reembed.Config, opts ...reembed.Option) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(rt.Repos.Chunks, rt.AI.Embedder(), config, opts...)
}

// Serve runs the worker pool and, when addr is not empty, the HTTP API
// until ctx ends or either fails.
func (rt *Runtime) Serve(ctx context.Context, addr string) error {
	pool, err := rt.NewWorkerPool()
	if err != nil {
		return err
	}
	var server *api.Server
	if addr != "" {
		if server, err = rt.NewServer(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if server != nil {
		g.Go(func() error {
			return server.ListenAndServe(gctx, addr)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything Open created. Later calls return the first result.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() { rt.closeErr = rt.close() })
	return rt.closeErr
}

func (rt *Runtime) close() error {
	var errs []error
	if rt.ownsAI && rt.AI != nil {
		if err := rt.AI.Close(); err != nil {
			rt.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if rt.Repos != nil {
		if err := rt.Repos.Close(); err != nil {
			rt.logger.Error("error closing storage", "err", err)
			errs = append(errs, err)
		}
	}
	if rt.ownsRedis && rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Error("error closing redis client", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
