// Package config loads the service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then command-line flags applied by the caller.
// The result is checked with validator struct tags before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/cancel"
	"github.com/poiesic/ragchat/keyrotation"
	"github.com/poiesic/ragchat/notify"
	"github.com/poiesic/ragchat/orchestration"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/providers"
	"github.com/poiesic/ragchat/queue"
	"github.com/poiesic/ragchat/rerank"
	"github.com/poiesic/ragchat/search"
	"github.com/poiesic/ragchat/worker"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGCHAT_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     queue.Config    `yaml:"queue"`
	Workers   WorkersConfig   `yaml:"workers"`
	Progress  progress.Config `yaml:"progress"`
	Keys      KeysConfig      `yaml:"keys"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Rerank    RerankConfig    `yaml:"rerank"`
	AI        ai.Config       `yaml:"ai"`
	Providers ProvidersConfig `yaml:"providers"`
	Webhook   notify.Config   `yaml:"webhook"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// RedisConfig locates the shared cache and broker.
type RedisConfig struct {
	URL    string `yaml:"url" validate:"required"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig locates the badger database.
type StorageConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

// WorkersConfig bounds task processing.
type WorkersConfig struct {
	MaxConcurrentChatTasks int           `yaml:"max_concurrent_chat_tasks" validate:"gte=1"`
	ConsumerPrefix         string        `yaml:"consumer_prefix"`
	TaskTimeout            time.Duration `yaml:"task_timeout" validate:"gte=0"`
	CancelPollInterval     time.Duration `yaml:"cancel_poll_interval" validate:"gte=0"`
	CancelTTL              time.Duration `yaml:"cancel_ttl" validate:"gte=0"`
}

// KeysConfig tunes provider key rotation.
type KeysConfig struct {
	Cooldown time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// RetrievalConfig tunes retrieval and prompt assembly.
type RetrievalConfig struct {
	search.Config `yaml:",inline"`

	// ConfidenceThreshold gates generation on the top similarity. 0 disables it.
	ConfidenceThreshold float32 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	HistoryTurns        int     `yaml:"history_turns" validate:"gte=0"`
}

// RerankConfig tunes the final rerank.
type RerankConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	TopN    int           `yaml:"top_n" validate:"gte=1"`
}

// ProvidersConfig configures tenant provider access.
type ProvidersConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	// MasterKey decrypts stored API keys: 64 hex chars or base64 of 32 bytes.
	MasterKey string               `yaml:"master_key"`
	Prices    providers.PriceTable `yaml:"prices"`
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns a configuration that runs against a local Redis and Ollama.
func Default() *Config {
	return &Config{
		Redis:   RedisConfig{URL: "redis://localhost:6379/0"},
		Storage: StorageConfig{Path: "ragchat.db"},
		Queue:   queue.DefaultConfig(),
		Workers: WorkersConfig{
			MaxConcurrentChatTasks: worker.DefaultConcurrency,
			ConsumerPrefix:         worker.DefaultConsumerPrefix,
			CancelPollInterval:     cancel.DefaultPollInterval,
			CancelTTL:              cancel.DefaultTTL,
		},
		Progress: progress.Config{
			MinDelta:    progress.DefaultMinDelta,
			MinInterval: progress.DefaultMinInterval,
			SnapshotTTL: progress.DefaultSnapshotTTL,
		},
		Keys: KeysConfig{Cooldown: keyrotation.DefaultCooldown},
		Retrieval: RetrievalConfig{
			Config:       search.DefaultConfig(),
			HistoryTurns: orchestration.DefaultHistoryTurns,
		},
		Rerank: RerankConfig{
			Timeout: rerank.DefaultTimeout,
			TopN:    orchestration.DefaultTopN,
		},
		AI:        *ai.DefaultConfig(),
		Providers: ProvidersConfig{CacheTTL: providers.DefaultCacheTTL},
		Webhook:   notify.DefaultConfig(),
		HTTP:      HTTPConfig{Addr: ":8080"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// not empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays YAML from r. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

func str(set func(*Config, string)) func(*Config, string) error {
	return func(c *Config, v string) error {
		set(c, v)
		return nil
	}
}

func integer(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func duration(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, d)
		return nil
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

var envBindings = []envBinding{
	{"REDIS_URL", str(func(c *Config, v string) { c.Redis.URL = v })},
	{"REDIS_PREFIX", str(func(c *Config, v string) { c.Redis.Prefix = v })},
	{"STORAGE_PATH", str(func(c *Config, v string) { c.Storage.Path = v })},
	{"STORAGE_IN_MEMORY", boolean(func(c *Config, v bool) { c.Storage.InMemory = v })},
	{"QUEUE_NAME", str(func(c *Config, v string) { c.Queue.Name = v })},
	{"QUEUE_MAX_LENGTH", integer(func(c *Config, v int) { c.Queue.MaxLength = v })},
	{"MAX_CONCURRENT_CHAT_TASKS", integer(func(c *Config, v int) { c.Workers.MaxConcurrentChatTasks = v })},
	{"TASK_TIMEOUT", duration(func(c *Config, v time.Duration) { c.Workers.TaskTimeout = v })},
	{"KEY_COOLDOWN", duration(func(c *Config, v time.Duration) { c.Keys.Cooldown = v })},
	{"TWO_STAGE_RETRIEVAL", boolean(func(c *Config, v bool) { c.Retrieval.TwoStage = v })},
	{"RERANK_TIMEOUT", duration(func(c *Config, v time.Duration) { c.Rerank.Timeout = v })},
	{"EMBEDDING_HOST", str(func(c *Config, v string) { c.AI.EmbeddingHost = v })},
	{"EMBEDDING_MODEL", str(func(c *Config, v string) { c.AI.EmbeddingModel = v })},
	{"REFLECTION_MODE", str(func(c *Config, v string) { c.AI.ReflectionMode = v })},
	{"REFLECTION_HOST", str(func(c *Config, v string) { c.AI.ReflectionHost = v })},
	{"REFLECTION_MODEL", str(func(c *Config, v string) { c.AI.ReflectionModel = v })},
	{"RERANK_HOST", str(func(c *Config, v string) { c.AI.RerankHost = v })},
	{"RERANK_MODEL", str(func(c *Config, v string) { c.AI.RerankModel = v })},
	{"MASTER_KEY", str(func(c *Config, v string) { c.Providers.MasterKey = v })},
	{"WEBHOOK_URL", str(func(c *Config, v string) { c.Webhook.URL = v })},
	{"WEBHOOK_SECRET", str(func(c *Config, v string) { c.Webhook.Secret = v })},
	{"HTTP_ADDR", str(func(c *Config, v string) { c.HTTP.Addr = v })},
}

// ApplyEnv overlays RAGCHAT_* variables found by lookup.
// MAX_CONCURRENT_CHAT_TASKS is also honored without the prefix; the
// prefixed form wins when both are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		value, ok := lookup(EnvPrefix + b.name)
		if !ok && b.name == "MAX_CONCURRENT_CHAT_TASKS" {
			value, ok = lookup(b.name)
		}
		if !ok {
			continue
		}
		if err := b.apply(c, value); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, b.name, value, err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and the AI section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Retrieval.TwoStage && (c.Retrieval.TopK1 < 1 || c.Retrieval.TopN1 < 1 || c.Retrieval.TopK2 < 1 || c.Retrieval.TopN2 < 1) {
		return fmt.Errorf("%w: two-stage depths must be positive", ErrInvalidConfig)
	}
	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("%w: webhook.secret is required with webhook.url", ErrInvalidConfig)
	}
	if _, err := providers.ParseMasterKey(c.Providers.MasterKey); err != nil {
		return fmt.Errorf("%w: providers.master_key: %w", ErrInvalidConfig, err)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Prices returns the default price table overlaid with configured prices.
func (c *Config) Prices() providers.PriceTable {
	prices := providers.DefaultPrices()
	for model, price := range c.Providers.Prices {
		prices[model] = price
	}
	return prices
}
