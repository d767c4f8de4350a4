package config

import (
	"fmt"

	"github.com/entrhq/parley/pkg/agent"
	agentcontext "github.com/entrhq/parley/pkg/agent/context"
	"github.com/entrhq/parley/pkg/agent/dedup"
	"github.com/entrhq/parley/pkg/agent/longtermmemory"
	"github.com/entrhq/parley/pkg/agent/stage"
	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/llm/retry"
	"github.com/entrhq/parley/pkg/llm/tokenizer"
	"github.com/entrhq/parley/pkg/session"
)

// Tokenizer builds the token budgeter from the tokens section.
func (c *Config) Tokenizer() (*tokenizer.Tokenizer, error) {
	table, err := tokenizer.NewCapacityTable(c.Tokens.CapacityRules, c.Tokens.DefaultCapacity)
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}
	return tokenizer.New(
		tokenizer.WithCapacityTable(table),
		tokenizer.WithReserved(c.Tokens.Reserved),
	), nil
}

// Invoker builds the retrying invoker from the retry section.
func (c *Config) Invoker(opts ...retry.Option) *retry.Invoker {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.BaseDelay = c.Retry.BaseDelay
	policy.MaxDelay = c.Retry.MaxDelay
	return retry.New(append([]retry.Option{retry.WithPolicy(policy)}, opts...)...)
}

// Guard builds the duplicate reply guard.
func (c *Config) Guard() *dedup.Guard {
	return dedup.NewGuard(c.Duplicate.Threshold, c.Duplicate.Temperature)
}

// Machine compiles the stage table.
func (c *Config) Machine() (*stage.Machine, error) {
	return stage.NewMachine(c.Stages)
}

// CrisisFilter builds the safety filter.
func (c *Config) CrisisFilter() *agent.CrisisFilter {
	return agent.NewCrisisFilter(c.Safety.CrisisKeywords, c.Safety.CrisisReply)
}

// OpenStore opens the configured session store. The caller closes it.
func (c *Config) OpenStore() (session.Store, error) {
	switch c.Store.Driver {
	case DriverMemory:
		return session.NewMemoryStore(c.Store.MaxContentLength), nil
	case DriverSQLite:
		return session.OpenSQLite(c.Store.Path, c.Store.MaxContentLength)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
}

// NoteStore opens the long-term fact store, or returns nil when memory.dir
// is not configured.
func (c *Config) NoteStore() (*longtermmemory.FileStore, error) {
	if c.Memory.Dir == "" {
		return nil, nil
	}
	return longtermmemory.NewFileStore(c.Memory.Dir)
}

// NewOrchestrator assembles the turn pipeline over store and provider.
// model, when not empty, replaces the per-stage models.
func (c *Config) NewOrchestrator(store session.Store, provider llm.Provider, model string) (*agent.Orchestrator, error) {
	tok, err := c.Tokenizer()
	if err != nil {
		return nil, err
	}
	machine, err := c.Machine()
	if err != nil {
		return nil, err
	}
	invoker := c.Invoker()

	compaction, err := agentcontext.NewManager(store, provider, invoker, tok, c.Compaction)
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{
		agent.WithInvoker(invoker),
		agent.WithTokenizer(tok),
		agent.WithCompaction(compaction),
		agent.WithDuplicateGuard(c.Guard()),
		agent.WithCrisisFilter(c.CrisisFilter()),
		agent.WithChunkLimit(c.Tokens.ChunkLimit),
	}
	if model != "" {
		opts = append(opts, agent.WithModel(model))
	}

	notes, err := c.NoteStore()
	if err != nil {
		return nil, fmt.Errorf("open note store: %w", err)
	}
	if notes != nil {
		opts = append(opts, agent.WithFactSource(longtermmemory.NewRecaller(notes, c.Memory.RecallLimit)))
	}

	return agent.NewOrchestrator(store, provider, machine, opts...)
}
