// Package config loads the YAML configuration that wires the conversation
// engine: provider credentials, token limits, compaction, retry and stage
// settings, storage and the HTTP server.
//
// Values are resolved in three layers. Default supplies the built-in
// settings, the config file overrides them, and command-line flags or
// environment variables override the provider settings (see BuildProvider).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/parley/pkg/agent"
	agentcontext "github.com/entrhq/parley/pkg/agent/context"
	"github.com/entrhq/parley/pkg/agent/dedup"
	"github.com/entrhq/parley/pkg/agent/longtermmemory"
	"github.com/entrhq/parley/pkg/agent/stage"
	"github.com/entrhq/parley/pkg/llm/retry"
	"github.com/entrhq/parley/pkg/llm/tokenizer"
	"github.com/entrhq/parley/pkg/session"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDir is the per-user directory under the home directory.
	DefaultDir = ".parley"

	// DefaultFileName is the config file looked up in DefaultDir.
	DefaultFileName = "config.yaml"

	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the YAML file.
type Config struct {
	LLM        LLMConfig           `yaml:"llm" json:"llm"`
	Tokens     TokensConfig        `yaml:"tokens" json:"tokens"`
	Compaction agentcontext.Config `yaml:"compaction" json:"compaction"`
	Retry      RetryConfig         `yaml:"retry" json:"retry"`
	Duplicate  DuplicateConfig     `yaml:"duplicate" json:"duplicate"`
	Stages     stage.Config        `yaml:"stages" json:"stages"`
	Store      StoreConfig         `yaml:"store" json:"store"`
	Memory     MemoryConfig        `yaml:"memory" json:"memory"`
	Safety     SafetyConfig        `yaml:"safety" json:"safety"`
	Server     ServerConfig        `yaml:"server" json:"server"`
	Logging    LoggingConfig       `yaml:"logging" json:"logging"`
}

// LLMConfig holds the provider connection settings.
type LLMConfig struct {
	// Model, when set, replaces the per-stage models.
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// TokensConfig controls token budgeting and input splitting.
type TokensConfig struct {
	CapacityRules   []tokenizer.CapacityRule `yaml:"capacity_rules" json:"capacity_rules"`
	Reserved        int                      `yaml:"reserved" json:"reserved"`
	ChunkLimit      int                      `yaml:"chunk_limit" json:"chunk_limit"`
	DefaultCapacity int                      `yaml:"default_capacity" json:"default_capacity"`
}

// RetryConfig controls provider retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DuplicateConfig controls the repeated-reply guard.
type DuplicateConfig struct {
	Threshold   float64 `yaml:"threshold" json:"threshold"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Driver           string `yaml:"driver" json:"driver"`
	Path             string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxContentLength int    `yaml:"max_content_length" json:"max_content_length"`
}

// MemoryConfig configures the long-term fact store. An empty Dir disables it.
type MemoryConfig struct {
	Dir         string `yaml:"dir,omitempty" json:"dir,omitempty"`
	RecallLimit int    `yaml:"recall_limit" json:"recall_limit"`
}

// SafetyConfig configures the crisis keyword filter.
type SafetyConfig struct {
	CrisisKeywords []string `yaml:"crisis_keywords" json:"crisis_keywords"`
	CrisisReply    string   `yaml:"crisis_reply,omitempty" json:"crisis_reply,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig configures the log level.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Tokens: TokensConfig{
			Reserved:        tokenizer.DefaultReserved,
			ChunkLimit:      tokenizer.DefaultChunkLimit,
			DefaultCapacity: tokenizer.DefaultCapacity,
			CapacityRules:   tokenizer.DefaultCapacityRules(),
		},
		Compaction: agentcontext.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
		},
		Duplicate: DuplicateConfig{
			Threshold:   dedup.DefaultThreshold,
			Temperature: dedup.DefaultTemperature,
		},
		Stages: stage.DefaultConfig(),
		Store: StoreConfig{
			Driver:           DriverSQLite,
			MaxContentLength: session.DefaultMaxContentLength,
		},
		Memory: MemoryConfig{
			RecallLimit: longtermmemory.DefaultRecallLimit,
		},
		Safety: SafetyConfig{
			CrisisKeywords: agent.DefaultCrisisKeywords(),
			CrisisReply:    agent.DefaultCrisisReply,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.parley/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir, DefaultFileName), nil
}

// Load reads the config file at path over the defaults and validates the
// result. An empty path selects DefaultPath, which may be absent; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults apply.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the filesystem.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// applyDefaults fills settings a file may leave empty.
func (c *Config) applyDefaults() {
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.Path = filepath.Join(home, DefaultDir, "sessions.db")
		}
	}
	if c.Stages.MarkerPattern == "" {
		c.Stages.MarkerPattern = stage.DefaultMarkerPattern
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Tokens.Reserved < 0 {
		return invalid("tokens.reserved must not be negative")
	}
	if c.Tokens.ChunkLimit < 1 {
		return invalid("tokens.chunk_limit must be at least 1")
	}
	if c.Tokens.DefaultCapacity <= c.Tokens.Reserved {
		return invalid("tokens.default_capacity (%d) must exceed tokens.reserved (%d)", c.Tokens.DefaultCapacity, c.Tokens.Reserved)
	}
	if err := c.Compaction.Validate(); err != nil {
		return invalid("compaction: %v", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return invalid("retry delays must not be negative")
	}
	if c.Duplicate.Threshold <= 0 || c.Duplicate.Threshold > 1 {
		return invalid("duplicate.threshold must be in (0, 1], got %v", c.Duplicate.Threshold)
	}
	if c.Duplicate.Temperature < 0 || c.Duplicate.Temperature > 2 {
		return invalid("duplicate.temperature must be in [0, 2], got %v", c.Duplicate.Temperature)
	}
	if err := c.Stages.Validate(); err != nil {
		return invalid("stages: %v", err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return invalid("store.path is required for the sqlite driver")
		}
	default:
		return invalid("store.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Store.Driver)
	}
	if c.Store.MaxContentLength < 0 {
		return invalid("store.max_content_length must not be negative")
	}
	if c.Memory.RecallLimit < 0 {
		return invalid("memory.recall_limit must not be negative")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return invalid("server.addr is required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
