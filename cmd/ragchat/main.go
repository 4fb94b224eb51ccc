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

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragchat/config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragchat",
		Usage: "Multi-tenant retrieval-augmented chat answering service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"RAGCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set logging format (text, json)",
				Value: "text",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the task workers and the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "HTTP listen address (overrides http.addr)",
					},
					&cli.BoolFlag{
						Name:  "workers-only",
						Usage: "Run the task workers without the HTTP API",
					},
				},
			},
			{
				Name:   "enqueue",
				Usage:  "Submit a chat task",
				Action: enqueueCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bot", Usage: "Tenant bot ID", Required: true},
					&cli.StringFlag{Name: "session", Usage: "Visitor session ID", Required: true},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Visitor question", Required: true},
					&cli.StringFlag{Name: "task-id", Usage: "Task ID (generated when empty)"},
				},
			},
			{
				Name:   "watch",
				Usage:  "Stream a task's progress until it finishes",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "task-id", Usage: "Task to watch", Required: true},
					&cli.DurationFlag{Name: "timeout", Usage: "Give up after this long", Value: 5 * time.Minute},
				},
			},
			{
				Name:   "cancel",
				Usage:  "Cancel the running tasks of a session",
				Action: cancelCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "Visitor session ID", Required: true},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Embed and store document chunks read as JSON lines",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection", Usage: "Tenant collection (bot ID)", Required: true},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON lines file of chunks, - for stdin", Value: "-"},
					&cli.IntFlag{Name: "batch-size", Usage: "Chunks per embedding batch", Value: 32},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Regenerate the embeddings of stored chunks",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection", Usage: "Collection to reembed (all when empty)"},
					&cli.IntFlag{Name: "batch-size", Usage: "Number of chunks to process in each batch", Value: 100},
					&cli.IntFlag{Name: "report-interval", Usage: "Report progress every N chunks", Value: 100},
					&cli.IntFlag{Name: "max-retries", Usage: "Maximum retry attempts for failed operations", Value: 3},
					&cli.DurationFlag{Name: "retry-delay", Usage: "Base delay for exponential backoff", Value: 1 * time.Second},
				},
			},
			{
				Name:  "provider",
				Usage: "Manage tenant LLM provider configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "set",
						Usage:  "Store the provider configuration of a bot",
						Action: providerSetCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "bot", Usage: "Tenant bot ID", Required: true},
							&cli.StringFlag{Name: "provider", Usage: "Provider name", Value: "openai"},
							&cli.StringFlag{Name: "model", Usage: "Model name", Required: true},
							&cli.StringSliceFlag{Name: "key", Usage: "API key (repeat for rotation)", Required: true},
							&cli.StringFlag{Name: "base-url", Usage: "OpenAI-compatible endpoint"},
							&cli.BoolFlag{Name: "encrypt", Usage: "Encrypt keys with providers.master_key"},
						},
					},
					{
						Name:   "show",
						Usage:  "Print the provider configuration of a bot with keys masked",
						Action: providerShowCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "bot", Usage: "Tenant bot ID", Required: true},
						},
					},
				},
			},
			{
				Name:   "sign",
				Usage:  "Print the webhook signature of a payload",
				Action: signCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Payload file, - for stdin", Value: "-"},
					&cli.StringFlag{Name: "secret", Usage: "Shared secret (defaults to webhook.secret)"},
				},
			},
			{
				Name:   "graph",
				Usage:  "Print the answer graph",
				Action: graphCommand,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format := strings.ToLower(c.String("log-format")); format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", format)
	}
	slog.SetDefault(slog.New(handler))

	return nil
}
