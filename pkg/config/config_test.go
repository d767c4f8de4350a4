package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/parley/pkg/llm/llmtest"
	"github.com/entrhq/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "sessions.db")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 300, cfg.Tokens.Reserved)
	assert.Equal(t, 1500, cfg.Tokens.ChunkLimit)
	assert.Equal(t, 0.9, cfg.Duplicate.Threshold)
	assert.Equal(t, 0.45, cfg.Duplicate.Temperature)
	assert.Equal(t, 50, cfg.Compaction.SummarizeCount)
	assert.Equal(t, 0.8, cfg.Compaction.MaxCtxRatio)
	assert.Len(t, cfg.Stages.Definitions, 3)
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
llm:
  model: gpt-4o-mini
tokens:
  reserved: 500
  capacity_rules:
    - pattern: "*mini*"
      capacity: 128000
retry:
  max_attempts: 2
  base_delay: 250ms
  max_delay: 2s
store:
  driver: memory
server:
  addr: 127.0.0.1:9000
logging:
  level: debug
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 500, cfg.Tokens.Reserved)
	assert.Equal(t, 1500, cfg.Tokens.ChunkLimit, "unset fields keep their defaults")
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	tok, err := cfg.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, 128000, tok.Capacity("gpt-4o-mini"))
	assert.Equal(t, 500, tok.Reserved())

	inv := cfg.Invoker()
	assert.Equal(t, 2, inv.Policy().MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, inv.Policy().BaseDelay)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("store:\n  driver: memory\n  colour: blue\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectedErr string
	}{
		{name: "chunk limit", mutate: func(c *Config) { c.Tokens.ChunkLimit = 0 }, expectedErr: "tokens.chunk_limit"},
		{name: "capacity below reserved", mutate: func(c *Config) { c.Tokens.DefaultCapacity = 100 }, expectedErr: "default_capacity"},
		{name: "compaction", mutate: func(c *Config) { c.Compaction.SummarizeCount = 0 }, expectedErr: "compaction"},
		{name: "retry attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, expectedErr: "retry.max_attempts"},
		{name: "duplicate threshold", mutate: func(c *Config) { c.Duplicate.Threshold = 1.5 }, expectedErr: "duplicate.threshold"},
		{name: "stages", mutate: func(c *Config) { c.Stages.Initial = 9 }, expectedErr: "stages"},
		{name: "driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, expectedErr: "store.driver"},
		{name: "sqlite path", mutate: func(c *Config) { c.Store.Path = "" }, expectedErr: "store.path"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, expectedErr: "logging.level"},
		{name: "server addr", mutate: func(c *Config) { c.Server.Addr = " " }, expectedErr: "server.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.Path = "sessions.db"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, DriverMemory, cfg.Store.Driver)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("default file may be absent", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, DefaultDir, "sessions.db"), cfg.Store.Path)
	})

	t.Run("default file is read", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		dir := filepath.Join(home, DefaultDir)
		require.NoError(t, os.MkdirAll(dir, 0750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("duplicate:\n  threshold: 0.8\n"), 0600))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 0.8, cfg.Duplicate.Threshold)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tokens:\n  chunk_limit: -1\n"), 0600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestOpenStore(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverMemory
	store, err := cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, store)
	require.NoError(t, store.Close())

	cfg.Store.Driver = DriverSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "db", "sessions.db")
	store, err = cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &session.SQLiteStore{}, store)
	require.NoError(t, store.Close())
}

func TestNewOrchestrator(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverMemory
	cfg.Memory.Dir = filepath.Join(t.TempDir(), "notes")

	store, err := cfg.OpenStore()
	require.NoError(t, err)
	defer store.Close()

	orch, err := cfg.NewOrchestrator(store, new(llmtest.MockProvider), "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, cfg.Stages.Initial, orch.Machine().Initial())

	_, err = os.Stat(cfg.Memory.Dir)
	assert.NoError(t, err, "note store directory is created")

	cfg.Stages.Definitions = nil
	_, err = cfg.NewOrchestrator(store, new(llmtest.MockProvider), "")
	assert.Error(t, err)
}
