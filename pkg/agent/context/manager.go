package context

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/llm/retry"
	"github.com/entrhq/parley/pkg/llm/tokenizer"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/session"
	"github.com/entrhq/parley/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("context")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize context logger, using stderr fallback: %v", err)
	}
}

// Config controls when and how history is compacted.
type Config struct {
	// SummarizationModel overrides the session model for summary calls.
	SummarizationModel string `yaml:"summarization_model" json:"summarization_model"`

	// SummarizeThreshold is the message count at or below which compaction never runs.
	SummarizeThreshold int `yaml:"summarize_threshold" json:"summarize_threshold"`

	// SummarizeCount is how many of the newest messages survive verbatim.
	SummarizeCount int `yaml:"summarize_count" json:"summarize_count"`

	// MaxMessages triggers compaction by message count alone.
	MaxMessages int `yaml:"max_messages" json:"max_messages"`

	// MaxCtxRatio triggers compaction once history costs this share of the model capacity.
	MaxCtxRatio float64 `yaml:"max_ctx_ratio" json:"max_ctx_ratio"`

	// Temperature is used for the summary call.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens bounds the summary length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultConfig returns the standard compaction settings.
func DefaultConfig() Config {
	return Config{
		SummarizeThreshold: 60,
		SummarizeCount:     50,
		MaxMessages:        200,
		MaxCtxRatio:        0.8,
		Temperature:        0.2,
		MaxTokens:          512,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.SummarizeCount < 1 {
		return fmt.Errorf("summarize_count must be at least 1")
	}
	if c.SummarizeThreshold < c.SummarizeCount {
		return fmt.Errorf("summarize_threshold (%d) must not be below summarize_count (%d)", c.SummarizeThreshold, c.SummarizeCount)
	}
	if c.MaxMessages < c.SummarizeThreshold {
		return fmt.Errorf("max_messages (%d) must not be below summarize_threshold (%d)", c.MaxMessages, c.SummarizeThreshold)
	}
	if c.MaxCtxRatio <= 0 || c.MaxCtxRatio > 1 {
		return fmt.Errorf("max_ctx_ratio must be in (0, 1], got %v", c.MaxCtxRatio)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1")
	}
	return nil
}

// Manager is the compaction engine: once a session's history grows past the
// configured limits it folds the oldest part into a single summary message.
// Compaction fails open; a failed summary leaves history as it was.
type Manager struct {
	store        session.Store
	llm          llm.Provider
	invoker      *retry.Invoker
	tokenizer    *tokenizer.Tokenizer
	eventChannel chan<- *types.AgentEvent
	cfg          Config
	mu           sync.RWMutex // protects llm and cfg.SummarizationModel
}

// NewManager creates a compaction engine over store.
func NewManager(store session.Store, provider llm.Provider, invoker *retry.Invoker, tok *tokenizer.Tokenizer, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compaction config: %w", err)
	}
	if invoker == nil {
		invoker = retry.New()
	}
	if tok == nil {
		tok = tokenizer.New()
	}
	return &Manager{
		store:     store,
		llm:       provider,
		invoker:   invoker,
		tokenizer: tok,
		cfg:       cfg,
	}, nil
}

// SetEventChannel sets the channel summarization events are emitted on.
func (m *Manager) SetEventChannel(eventChan chan<- *types.AgentEvent) {
	m.eventChannel = eventChan
}

// SetProvider updates the provider used for summary calls.
func (m *Manager) SetProvider(provider llm.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm = provider
}

// SetSummarizationModel sets the model name to use for summary calls.
// If empty, the session's own model is used.
func (m *Manager) SetSummarizationModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SummarizationModel = model
}

// GetSummarizationModel returns the configured summarization model override.
func (m *Manager) GetSummarizationModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.SummarizationModel
}

// Config returns the compaction settings.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// ShouldCompact evaluates the trigger for history under model. The message
// count floor applies first: below it compaction never fires, however large
// the token cost.
func (m *Manager) ShouldCompact(history []*types.Message, model string) bool {
	n := len(history)
	if n <= m.cfg.SummarizeThreshold {
		return false
	}
	if n > m.cfg.MaxMessages {
		return true
	}
	limit := float64(m.tokenizer.Capacity(model)) * m.cfg.MaxCtxRatio
	return float64(m.tokenizer.CountMessages(history, model)) > limit
}

// MaybeCompact compacts the session's history when the trigger fires.
// It reports whether history was rewritten. Only a failure to read the
// history is returned; summary and rewrite failures are logged and leave
// the history untouched.
func (m *Manager) MaybeCompact(ctx context.Context, sessionID, model string) (bool, error) {
	history, err := m.store.History(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !m.ShouldCompact(history, model) {
		return false, nil
	}

	keep := m.cfg.SummarizeCount
	prefix := history[:len(history)-keep]
	tail := history[len(history)-keep:]

	var previous *types.Message
	if history[0].IsSummary() {
		previous = history[0]
	}

	currentTokens := m.tokenizer.CountMessages(history, model)
	maxTokens := m.tokenizer.Capacity(model)
	m.emit(ctx, types.NewContextSummarizationStartEvent(sessionID, currentTokens, maxTokens))
	debugLog.Infof("Compacting session %s: %d messages, %d tokens, folding %d", sessionID, len(history), currentTokens, len(prefix))

	startTime := time.Now()

	summary, err := m.summarize(ctx, sessionID, previous, prefix, model)
	if err == nil {
		rewritten := make([]*types.Message, 0, 1+keep)
		rewritten = append(rewritten, types.NewSummaryMessage(summary))
		rewritten = append(rewritten, tail...)
		err = m.store.Rewrite(ctx, sessionID, rewritten)
		if err == nil {
			newTokens := m.tokenizer.CountMessages(rewritten, model)
			duration := time.Since(startTime)
			debugLog.Infof("Compacted session %s in %s: tokens %d -> %d", sessionID, duration, currentTokens, newTokens)
			m.emit(ctx, types.NewContextSummarizationCompleteEvent(sessionID, newTokens, len(prefix), duration.String()))
			return true, nil
		}
	}

	debugLog.Errorf("Compaction of session %s failed, history left untouched: %v", sessionID, err)
	m.emit(ctx, types.NewContextSummarizationErrorEvent(sessionID, err))
	return false, nil
}

func (m *Manager) summarize(ctx context.Context, sessionID string, previous *types.Message, prefix []*types.Message, model string) (string, error) {
	m.mu.RLock()
	provider := m.llm
	if m.cfg.SummarizationModel != "" {
		model = m.cfg.SummarizationModel
	}
	m.mu.RUnlock()

	if provider == nil {
		return "", errors.New("no provider configured for summarization")
	}

	req := &llm.Request{
		Model: model,
		Messages: []*types.Message{
			types.NewSystemMessage(summarizationSystemPrompt),
			types.NewUserMessage(buildSummarizationRequest(previous, prefix)),
		},
		Params: types.GenerationParams{
			Temperature: m.cfg.Temperature,
			TopP:        1,
			MaxTokens:   m.cfg.MaxTokens,
		},
	}

	resp, err := m.invoker.Generate(ctx, provider, req)
	if err != nil {
		return "", fmt.Errorf("summarize session %s: %w", sessionID, err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize session %s: provider returned an empty summary", sessionID)
	}
	return summary, nil
}

func (m *Manager) emit(ctx context.Context, event *types.AgentEvent) {
	if m.eventChannel == nil {
		return
	}
	select {
	case m.eventChannel <- event:
	case <-ctx.Done():
	}
}
