package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/notify"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/queue"
)

// runApp runs the CLI with args and returns its standard output.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"ragchat"}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func redisConfig(t *testing.T) (string, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	path := writeConfig(t, fmt.Sprintf(`
redis:
  url: redis://%s/0
  prefix: "t:"
storage:
  in_memory: true
`, mr.Addr()))
	return path, client
}

func findCommand(app *cli.App, name string) *cli.Command {
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

func TestSetupLogger(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, err := runApp(t, "--log-level", "verbose", "graph")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := runApp(t, "--log-format", "xml", "graph")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("enqueue requires query", func(t *testing.T) {
		_, err := runApp(t, "enqueue", "--bot", "b", "--session", "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query")
	})

	t.Run("config flag reads RAGCHAT_CONFIG", func(t *testing.T) {
		var configFlag *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "config" {
				configFlag = f
			}
		}
		require.NotNil(t, configFlag)
		assert.Equal(t, []string{"RAGCHAT_CONFIG"}, configFlag.EnvVars)
	})

	t.Run("reembed defaults", func(t *testing.T) {
		cmd := findCommand(app, "reembed")
		require.NotNil(t, cmd)
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "batch-size" {
				assert.Equal(t, 100, f.Value)
			}
		}
	})

	t.Run("provider has set and show", func(t *testing.T) {
		cmd := findCommand(app, "provider")
		require.NotNil(t, cmd)
		var names []string
		for _, sub := range cmd.Subcommands {
			names = append(names, sub.Name)
		}
		assert.ElementsMatch(t, []string{"set", "show"}, names)
	})
}

func TestEnqueueCommand(t *testing.T) {
	path, client := redisConfig(t)

	out, err := runApp(t, "--config", path, "enqueue", "--bot", "bot-1", "--session", "s-1", "--query", "What is RAG?")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 36)

	out, err = runApp(t, "--config", path, "enqueue", "--bot", "bot-1", "--session", "s-1", "--query", "again", "--task-id", "task-2")
	require.NoError(t, err)
	assert.Equal(t, "task-2\n", out)

	cfg := queue.DefaultConfig()
	cfg.Name = "t:" + cfg.Name
	depth, err := queue.New(client, cfg, nil).Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	snapshot, err := progress.ReadSnapshot(context.Background(), client, "t:", "task-2")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, snapshot.Status)
}

func TestCancelCommand(t *testing.T) {
	path, client := redisConfig(t)

	out, err := runApp(t, "--config", path, "cancel", "--session", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "s-1")

	keys, err := client.Keys(context.Background(), "t:*s-1*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestWatchCommand_FinishedTask(t *testing.T) {
	path, client := redisConfig(t)
	publisher := progress.NewPublisher(client, progress.Config{Prefix: "t:"})
	_, err := publisher.Publish(context.Background(), "task-1", 100, core.StatusCompleted, "done", true)
	require.NoError(t, err)

	start := time.Now()
	out, err := runApp(t, "--config", path, "watch", "--task-id", "task-1", "--timeout", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task task-1 not found or already finished")
	assert.Empty(t, out)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWatchCommand_PendingTask(t *testing.T) {
	path, _ := redisConfig(t)

	_, err := runApp(t, "--config", path, "enqueue", "--bot", "bot-1", "--session", "s-1", "--query", "q", "--task-id", "task-7")
	require.NoError(t, err)

	out, err := runApp(t, "--config", path, "watch", "--task-id", "task-7", "--timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
	assert.Contains(t, out, "  0% pending")
}

func TestSignCommand(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "payload.json")
	body := []byte(`{"task_id":"task-1","status":"completed"}`)
	require.NoError(t, os.WriteFile(payload, body, 0o600))

	out, err := runApp(t, "sign", "--secret", "s3cret", "--file", payload)
	require.NoError(t, err)
	signature := strings.TrimSpace(out)
	assert.Equal(t, notify.Sign([]byte("s3cret"), body), signature)
	assert.True(t, notify.Verify([]byte("s3cret"), body, signature))
}

func TestProviderCommands(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(`
storage:
  path: %s
providers:
  master_key: %s
`, filepath.Join(t.TempDir(), "db"), strings.Repeat("ab", 32)))

	out, err := runApp(t, "--config", path, "provider", "set",
		"--bot", "bot-1", "--model", "gpt-4o-mini", "--key", "sk-first-secret", "--key", "sk-second-secret", "--encrypt")
	require.NoError(t, err)
	assert.Contains(t, out, "2 key(s)")

	out, err = runApp(t, "--config", path, "provider", "show", "--bot", "bot-1")
	require.NoError(t, err)
	var shown core.ProviderConfig
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "openai", shown.Provider)
	assert.Equal(t, []string{"enc:...", "enc:..."}, shown.APIKeys)
	assert.NotContains(t, out, "sk-first-secret")
}

func TestReadChunks(t *testing.T) {
	input := `{"content":"first","source_url":"https://a","chunk_index":0}
{"content":"second","source_url":"https://a","chunk_index":1}
`
	chunks, err := readChunks(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "second", chunks[1].Content)
	assert.Equal(t, 1, chunks[1].ChunkIndex)

	_, err = readChunks(strings.NewReader(`{"content":`))
	assert.Error(t, err)
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"sk-abcdefghijkl", "sk-a...ijkl"},
		{"short", "****"},
		{"enc:c2VjcmV0", "enc:..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskKey(tt.key))
	}
}
