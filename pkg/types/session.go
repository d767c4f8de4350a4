package types

// GenerationParams are the sampling parameters sent with every provider call.
type GenerationParams struct {
	Temperature      float64 `yaml:"temperature" json:"temperature"`
	PresencePenalty  float64 `yaml:"presence_penalty" json:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" json:"frequency_penalty"`
	TopP             float64 `yaml:"top_p" json:"top_p"`
	MaxTokens        int     `yaml:"max_tokens" json:"max_tokens"`
}

// WithTemperature returns a copy of p using the given temperature.
func (p GenerationParams) WithTemperature(t float64) GenerationParams {
	p.Temperature = t
	return p
}

// DefaultGenerationParams mirrors the parameters the assistant has always
// been tuned with.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:      0.5,
		PresencePenalty:  0.8,
		FrequencyPenalty: 0.5,
		TopP:             0.9,
		MaxTokens:        150,
	}
}

// SessionMeta holds the per-session counters that live next to the history.
type SessionMeta struct {
	// LastAssistantReply is the most recent reply, used by the duplicate guard.
	LastAssistantReply string

	// Stage is the id of the active stage definition.
	Stage int

	// TurnsInStage counts user turns since the last stage change.
	TurnsInStage int
}

// Session is a full snapshot of one conversation.
type Session struct {
	ID      string
	History []*Message
	SessionMeta
}

// Summary returns the leading summary message, if any.
func (s *Session) Summary() *Message {
	if len(s.History) > 0 && s.History[0].IsSummary() {
		return s.History[0]
	}
	return nil
}
