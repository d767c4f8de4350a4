package types

// AgentEventType defines the type of event emitted while a turn is processed.
type AgentEventType string

const (
	EventTypeTurnStart                    AgentEventType = "turn_start"                     // EventTypeTurnStart indicates a user turn has been accepted.
	EventTypeTurnEnd                      AgentEventType = "turn_end"                       // EventTypeTurnEnd indicates the turn produced its final reply.
	EventTypeAPICallStart                 AgentEventType = "api_call_start"                 // EventTypeAPICallStart indicates a provider call is about to be made.
	EventTypeAPICallEnd                   AgentEventType = "api_call_end"                   // EventTypeAPICallEnd indicates a provider call has completed.
	EventTypeRetry                        AgentEventType = "retry"                          // EventTypeRetry indicates a failed provider call will be retried.
	EventTypeTokenUsage                   AgentEventType = "token_usage"                    // EventTypeTokenUsage indicates token usage reported by the provider.
	EventTypeDuplicateRegenerated         AgentEventType = "duplicate_regenerated"          // EventTypeDuplicateRegenerated indicates a near-duplicate reply forced a regeneration.
	EventTypeStageNudge                   AgentEventType = "stage_nudge"                    // EventTypeStageNudge indicates the request carried a stage-transition nudge.
	EventTypeStageTransition              AgentEventType = "stage_transition"               // EventTypeStageTransition indicates the session moved to another stage.
	EventTypeContextSummarizationStart    AgentEventType = "context_summarization_start"    // EventTypeContextSummarizationStart indicates history compaction has started.
	EventTypeContextSummarizationComplete AgentEventType = "context_summarization_complete" // EventTypeContextSummarizationComplete indicates history compaction finished successfully.
	EventTypeContextSummarizationError    AgentEventType = "context_summarization_error"    // EventTypeContextSummarizationError indicates compaction failed and history was left untouched.
	EventTypeError                        AgentEventType = "error"                          // EventTypeError indicates the turn failed.
)

// AgentEvent represents an event emitted by the orchestrator during a turn.
type AgentEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for error events.
	Error error

	// TokenUsage contains token usage information (for token usage events).
	TokenUsage *TokenUsage

	// ContextSummarization contains compaction information (for summarization events).
	ContextSummarization *ContextSummarization

	// APICallInfo contains API call information (for API call events).
	APICallInfo *APICallInfo

	// StageTransition contains the stage change (for stage transition events).
	StageTransition *StageTransition

	// SessionID is the session the event belongs to.
	SessionID string

	// Content holds text content such as the final reply.
	Content string

	// Type indicates the kind of event.
	Type AgentEventType

	// Attempt is the 1-based attempt index (for retry events).
	Attempt int
}

// TokenUsage contains token usage statistics from a provider call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ContextSummarization contains information about a compaction pass.
type ContextSummarization struct {
	// CurrentTokens is the history cost before compaction.
	CurrentTokens int

	// MaxTokens is the capacity of the model the history is compacted for.
	MaxTokens int

	// NewTokenCount is the history cost after compaction.
	NewTokenCount int

	// ItemsProcessed is the number of messages folded into the summary.
	ItemsProcessed int

	// Duration is how long the compaction took.
	Duration string

	// ErrorMessage contains error information if compaction failed.
	ErrorMessage string
}

// APICallInfo contains information about a provider call.
type APICallInfo struct {
	Model            string
	ContextTokens    int
	MaxContextTokens int
}

// StageTransition describes a stage change.
type StageTransition struct {
	From int
	To   int
}

func newEvent(t AgentEventType, sessionID string) *AgentEvent {
	return &AgentEvent{
		Type:      t,
		SessionID: sessionID,
		Metadata:  make(map[string]interface{}),
	}
}

// NewTurnStartEvent creates a turn start event.
func NewTurnStartEvent(sessionID string) *AgentEvent {
	return newEvent(EventTypeTurnStart, sessionID)
}

// NewTurnEndEvent creates a turn end event carrying the final reply.
func NewTurnEndEvent(sessionID, reply string) *AgentEvent {
	e := newEvent(EventTypeTurnEnd, sessionID)
	e.Content = reply
	return e
}

// NewAPICallStartEvent creates an API call start event.
func NewAPICallStartEvent(sessionID, model string, contextTokens, maxContextTokens int) *AgentEvent {
	e := newEvent(EventTypeAPICallStart, sessionID)
	e.APICallInfo = &APICallInfo{
		Model:            model,
		ContextTokens:    contextTokens,
		MaxContextTokens: maxContextTokens,
	}
	return e
}

// NewAPICallEndEvent creates an API call end event.
func NewAPICallEndEvent(sessionID, model string) *AgentEvent {
	e := newEvent(EventTypeAPICallEnd, sessionID)
	e.APICallInfo = &APICallInfo{Model: model}
	return e
}

// NewRetryEvent creates a retry event for the given failed attempt.
func NewRetryEvent(sessionID string, attempt int, err error) *AgentEvent {
	e := newEvent(EventTypeRetry, sessionID)
	e.Attempt = attempt
	e.Error = err
	return e
}

// NewTokenUsageEvent creates a token usage event.
func NewTokenUsageEvent(sessionID string, promptTokens, completionTokens, totalTokens int) *AgentEvent {
	e := newEvent(EventTypeTokenUsage, sessionID)
	e.TokenUsage = &TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
	}
	return e
}

// NewDuplicateRegeneratedEvent creates an event for a forced regeneration.
func NewDuplicateRegeneratedEvent(sessionID string) *AgentEvent {
	return newEvent(EventTypeDuplicateRegenerated, sessionID)
}

// NewStageNudgeEvent creates an event for a nudged request.
func NewStageNudgeEvent(sessionID string, reinforced bool) *AgentEvent {
	return newEvent(EventTypeStageNudge, sessionID).WithMetadata("reinforced", reinforced)
}

// NewStageTransitionEvent creates a stage transition event.
func NewStageTransitionEvent(sessionID string, from, to int) *AgentEvent {
	e := newEvent(EventTypeStageTransition, sessionID)
	e.StageTransition = &StageTransition{From: from, To: to}
	return e
}

// NewContextSummarizationStartEvent creates a compaction start event.
func NewContextSummarizationStartEvent(sessionID string, currentTokens, maxTokens int) *AgentEvent {
	e := newEvent(EventTypeContextSummarizationStart, sessionID)
	e.ContextSummarization = &ContextSummarization{
		CurrentTokens: currentTokens,
		MaxTokens:     maxTokens,
	}
	return e
}

// NewContextSummarizationCompleteEvent creates a compaction complete event.
func NewContextSummarizationCompleteEvent(sessionID string, newTokenCount, itemsProcessed int, duration string) *AgentEvent {
	e := newEvent(EventTypeContextSummarizationComplete, sessionID)
	e.ContextSummarization = &ContextSummarization{
		NewTokenCount:  newTokenCount,
		ItemsProcessed: itemsProcessed,
		Duration:       duration,
	}
	return e
}

// NewContextSummarizationErrorEvent creates a compaction error event.
func NewContextSummarizationErrorEvent(sessionID string, err error) *AgentEvent {
	e := newEvent(EventTypeContextSummarizationError, sessionID)
	e.Error = err
	e.ContextSummarization = &ContextSummarization{ErrorMessage: err.Error()}
	return e
}

// NewErrorEvent creates an error event.
func NewErrorEvent(sessionID string, err error) *AgentEvent {
	e := newEvent(EventTypeError, sessionID)
	e.Error = err
	return e
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *AgentEvent) WithMetadata(key string, value interface{}) *AgentEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsAPIEvent returns true if this is any API-related event.
func (e *AgentEvent) IsAPIEvent() bool {
	return e.Type == EventTypeAPICallStart ||
		e.Type == EventTypeAPICallEnd ||
		e.Type == EventTypeRetry
}

// IsStageEvent returns true if this is any stage-related event.
func (e *AgentEvent) IsStageEvent() bool {
	return e.Type == EventTypeStageNudge ||
		e.Type == EventTypeStageTransition
}

// IsErrorEvent returns true if this is an error event.
func (e *AgentEvent) IsErrorEvent() bool {
	return e.Type == EventTypeError
}

// IsContextSummarizationEvent returns true if this is any compaction-related event.
func (e *AgentEvent) IsContextSummarizationEvent() bool {
	return e.Type == EventTypeContextSummarizationStart ||
		e.Type == EventTypeContextSummarizationComplete ||
		e.Type == EventTypeContextSummarizationError
}
