// Package agent provides the Orchestrator, the turn pipeline of parley.
//
// A turn is one inbound user message. The Orchestrator splits it into
// token-bounded chunks and, for each chunk, appends it to the session,
// compacts history when needed, resolves the active stage, builds a bounded
// context window, calls the provider through the retrying invoker, guards
// against near-duplicate replies and follows stage transitions:
//
//	orch, err := agent.NewOrchestrator(store, provider, machine)
//	result, err := orch.SubmitTurn(ctx, agent.TurnRequest{SessionID: "42", Text: "Привет"})
//
// Turns on one session must be serialized by the caller, see session.Locker.
package agent

import (
	"context"
	"fmt"
	"strings"

	agentcontext "github.com/entrhq/parley/pkg/agent/context"
	"github.com/entrhq/parley/pkg/agent/dedup"
	"github.com/entrhq/parley/pkg/agent/stage"
	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/llm/retry"
	"github.com/entrhq/parley/pkg/llm/tokenizer"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/session"
	"github.com/entrhq/parley/pkg/types"
)

var agentDebugLog *logging.Logger

func init() {
	var err error
	agentDebugLog, err = logging.NewLogger("agent")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		agentDebugLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// FactSource recalls long-term facts about a user.
type FactSource interface {
	Recall(ctx context.Context, userID string) ([]string, error)
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	// SessionID identifies the conversation. Required.
	SessionID string

	// Text is the raw user input. Required.
	Text string

	// Memory is a recalled long-term note added to the system prompt.
	Memory string

	// UserName is the user's detected name, added to the system prompt.
	UserName string

	// UserID selects the facts recalled from the FactSource. Optional.
	UserID string
}

// TurnResult describes the outcome of a turn.
type TurnResult struct {
	// Reply is the reply to the last chunk.
	Reply string

	// Stage is the session's stage after the turn.
	Stage int

	// Chunks is the number of chunks the input was split into.
	Chunks int

	// Compacted reports whether any chunk triggered a successful compaction.
	Compacted bool

	// Regenerated reports whether any reply was regenerated as a near duplicate.
	Regenerated bool

	// Crisis reports whether the input was answered by the crisis filter.
	Crisis bool
}

// Orchestrator runs turns against a session store and a provider.
// It is safe for concurrent use across sessions.
type Orchestrator struct {
	store        session.Store
	provider     llm.Provider
	machine      *stage.Machine
	invoker      *retry.Invoker
	tokenizer    *tokenizer.Tokenizer
	compaction   *agentcontext.Manager
	guard        *dedup.Guard
	facts        FactSource
	crisis       *CrisisFilter
	eventChannel chan<- *types.AgentEvent
	model        string
	chunkLimit   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInvoker sets the retrying invoker used for provider calls.
func WithInvoker(invoker *retry.Invoker) Option {
	return func(o *Orchestrator) {
		o.invoker = invoker
	}
}

// WithTokenizer sets the token budgeter.
func WithTokenizer(tok *tokenizer.Tokenizer) Option {
	return func(o *Orchestrator) {
		o.tokenizer = tok
	}
}

// WithCompaction sets the compaction engine. Without it a default engine
// sharing the orchestrator's store, provider and invoker is created.
func WithCompaction(manager *agentcontext.Manager) Option {
	return func(o *Orchestrator) {
		o.compaction = manager
	}
}

// WithDuplicateGuard sets the near-duplicate reply guard.
func WithDuplicateGuard(guard *dedup.Guard) Option {
	return func(o *Orchestrator) {
		o.guard = guard
	}
}

// WithFactSource enables recall of long-term facts for requests with a UserID.
func WithFactSource(facts FactSource) Option {
	return func(o *Orchestrator) {
		o.facts = facts
	}
}

// WithCrisisFilter sets the filter that answers crisis messages without a provider call.
func WithCrisisFilter(filter *CrisisFilter) Option {
	return func(o *Orchestrator) {
		o.crisis = filter
	}
}

// WithModel forces one model for every stage, overriding stage definitions.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = model
	}
}

// WithChunkLimit sets the maximum tokens per input chunk.
func WithChunkLimit(limit int) Option {
	return func(o *Orchestrator) {
		o.chunkLimit = limit
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store session.Store, provider llm.Provider, machine *stage.Machine, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("LLM provider is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("stage machine is required")
	}

	o := &Orchestrator{
		store:      store,
		provider:   provider,
		machine:    machine,
		chunkLimit: tokenizer.DefaultChunkLimit,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.chunkLimit <= 0 {
		return nil, fmt.Errorf("chunk limit must be positive, got %d", o.chunkLimit)
	}
	if o.invoker == nil {
		o.invoker = retry.New()
	}
	if o.tokenizer == nil {
		o.tokenizer = tokenizer.New()
	}
	if o.guard == nil {
		o.guard = dedup.NewGuard(dedup.DefaultThreshold, dedup.DefaultTemperature)
	}
	if o.compaction == nil {
		manager, err := agentcontext.NewManager(store, provider, o.invoker, o.tokenizer, agentcontext.DefaultConfig())
		if err != nil {
			return nil, err
		}
		o.compaction = manager
	}

	return o, nil
}

// SetEventChannel sets the channel turn events are emitted on. The
// compaction engine shares it.
func (o *Orchestrator) SetEventChannel(eventChan chan<- *types.AgentEvent) {
	o.eventChannel = eventChan
	o.compaction.SetEventChannel(eventChan)
}

// Machine returns the stage machine.
func (o *Orchestrator) Machine() *stage.Machine {
	return o.machine
}

// ClearSession removes the session's history and counters.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if err := o.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	agentDebugLog.Infof("Cleared session %s", sessionID)
	return nil
}

// modelFor resolves the model used for a stage.
func (o *Orchestrator) modelFor(def *stage.Definition) string {
	if o.model != "" {
		return o.model
	}
	return def.Model
}

func (o *Orchestrator) emitEvent(ctx context.Context, event *types.AgentEvent) {
	if o.eventChannel == nil {
		return
	}
	select {
	case o.eventChannel <- event:
	case <-ctx.Done():
	}
}
