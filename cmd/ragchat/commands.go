package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragchat"
	"github.com/poiesic/ragchat/cancel"
	"github.com/poiesic/ragchat/config"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/ingestion"
	"github.com/poiesic/ragchat/notify"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/providers"
	"github.com/poiesic/ragchat/queue"
	"github.com/poiesic/ragchat/reembed"
	"github.com/poiesic/ragchat/storage/badger"
)

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	addr := cfg.HTTP.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	if c.Bool("workers-only") {
		addr = ""
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := ragchat.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer rt.Close()

	return rt.Serve(ctx, addr)
}

func enqueueCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	client, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	task := &core.ChatTask{
		TaskID:    c.String("task-id"),
		BotID:     c.String("bot"),
		SessionID: c.String("session"),
		Query:     c.String("query"),
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}

	queueCfg := cfg.Queue
	queueCfg.Name = cfg.Redis.Prefix + queueCfg.Name
	q := queue.New(client, queueCfg, nil)
	if err := q.Publish(c.Context, task); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	if err := newPublisher(client, cfg).MarkPending(c.Context, task.TaskID); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: pending progress not stored: %v\n", err)
	}

	fmt.Fprintln(c.App.Writer, task.TaskID)
	return nil
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	client, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := c.Duration("timeout"); timeout > 0 {
		var cancelTimeout func()
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	events, err := newPublisher(client, cfg).Watch(ctx, c.String("task-id"))
	if errors.Is(err, progress.ErrNoSnapshot) {
		return fmt.Errorf("task %s not found or already finished", c.String("task-id"))
	}
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	var last core.ProgressEvent
	for ev := range events {
		last = ev
		fmt.Fprintf(c.App.Writer, "%3d%% %-10s %s\n", ev.Progress, ev.Status, ev.Message)
	}
	if !last.Status.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("task %s did not finish: %w", c.String("task-id"), err)
		}
		return fmt.Errorf("task %s did not finish", c.String("task-id"))
	}
	return nil
}

func cancelCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	client, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sig := cancel.NewSignal(client, cfg.Redis.Prefix, cancel.WithTTL(cfg.Workers.CancelTTL))
	if err := sig.Cancel(c.Context, c.String("session")); err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "cancelled session %s\n", c.String("session"))
	return nil
}

func ingestCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(c.String("file"))
	if err != nil {
		return err
	}
	defer closeIn()

	chunks, err := readChunks(in)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errors.New("no chunks to ingest")
	}

	rt, err := ragchat.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer rt.Close()

	pipeline, err := rt.NewIngestionPipeline(ingestion.WithBatchSize(c.Int("batch-size")))
	if err != nil {
		return err
	}
	defer pipeline.Release()

	result, err := pipeline.Ingest(c.Context, c.String("collection"), chunks)
	if result != nil {
		fmt.Fprintf(c.App.Writer, "stored %d of %d chunks in %d batches (%s)\n",
			result.Stored, len(chunks), result.Batches, result.Elapsed)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

// readChunks decodes a stream of JSON chunk objects, one per line.
func readChunks(r io.Reader) ([]*core.Chunk, error) {
	dec := json.NewDecoder(r)
	var chunks []*core.Chunk
	for line := 1; ; line++ {
		var chunk core.Chunk
		err := dec.Decode(&chunk)
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", line, err)
		}
		chunks = append(chunks, &chunk)
	}
}

func reembedCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	rt, err := ragchat.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer rt.Close()

	reembedder, err := rt.NewReembedder(reembedConfig, reembed.WithReporter(reembed.WriterReporter(c.App.ErrWriter)))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.Storage.Path)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	if collection := c.String("collection"); collection != "" {
		_, err = reembedder.Run(c.Context, collection)
	} else {
		_, err = reembedder.RunAll(c.Context)
	}
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func providerSetCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	keys := c.StringSlice("key")
	if c.Bool("encrypt") {
		masterKey, err := providers.ParseMasterKey(cfg.Providers.MasterKey)
		if err != nil {
			return err
		}
		if masterKey == nil {
			return errors.New("--encrypt requires providers.master_key")
		}
		d, err := providers.NewDecrypter(masterKey)
		if err != nil {
			return err
		}
		for i, key := range keys {
			if keys[i], err = d.Encrypt(key); err != nil {
				return fmt.Errorf("encrypt key %d: %w", i, err)
			}
		}
	}

	repos, err := openRepositories(cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	providerConfig := &core.ProviderConfig{
		BotID:    c.String("bot"),
		Provider: c.String("provider"),
		Model:    c.String("model"),
		APIKeys:  keys,
		BaseURL:  c.String("base-url"),
	}
	if err := repos.Providers.PutProviderConfig(c.Context, providerConfig); err != nil {
		return fmt.Errorf("store provider config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "stored %s/%s with %d key(s) for %s\n",
		providerConfig.Provider, providerConfig.Model, len(keys), providerConfig.BotID)
	return nil
}

func providerShowCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	repos, err := openRepositories(cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	providerConfig, err := repos.Providers.GetProviderConfig(c.Context, c.String("bot"))
	if err != nil {
		return err
	}
	masked := *providerConfig
	masked.APIKeys = make([]string, len(providerConfig.APIKeys))
	for i, key := range providerConfig.APIKeys {
		masked.APIKeys[i] = maskKey(key)
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(masked)
}

func maskKey(key string) string {
	if strings.HasPrefix(key, providers.EncryptedPrefix) {
		return providers.EncryptedPrefix + "..."
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func openRepositories(cfg *config.Config) (*badger.Repositories, error) {
	if cfg.Storage.InMemory {
		return badger.NewMemoryRepositories()
	}
	backend, err := badger.OpenBackend(cfg.Storage.Path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	repos, err := badger.NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create repositories: %w", err)
	}
	return repos, nil
}

func signCommand(c *cli.Context) error {
	secret := c.String("secret")
	if secret == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		secret = cfg.Webhook.Secret
	}
	if secret == "" {
		return errors.New("no secret: pass --secret or set webhook.secret")
	}

	in, closeIn, err := openInput(c.String("file"))
	if err != nil {
		return err
	}
	defer closeIn()
	body, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, notify.Sign([]byte(secret), body))
	return nil
}

func graphCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Storage.InMemory = true

	rt, err := ragchat.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer rt.Close()

	fmt.Fprint(c.App.Writer, rt.Orchestrator.Describe())
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// newPublisher builds a progress publisher with the same key prefix the
// runtime uses.
func newPublisher(client redis.UniversalClient, cfg *config.Config) *progress.Publisher {
	progressCfg := cfg.Progress
	if progressCfg.Prefix == "" {
		progressCfg.Prefix = cfg.Redis.Prefix
	}
	return progress.NewPublisher(client, progressCfg)
}
