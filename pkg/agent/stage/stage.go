// Package stage implements the conversation stage machine.
//
// Every session sits in exactly one stage. A stage binds a system prompt
// template, a model and generation parameters. The assistant moves the
// session to another stage by emitting a transition marker in its reply.
// Optional choice rules let the user pick a stage from the initial stage.
// No stage is terminal.
package stage

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/entrhq/parley/pkg/types"
)

// Definition binds a stage id to its prompt, model and parameters.
type Definition struct {
	Name         string                 `yaml:"name" json:"name"`
	SystemPrompt string                 `yaml:"system_prompt" json:"system_prompt"`
	Model        string                 `yaml:"model" json:"model"`
	Params       types.GenerationParams `yaml:"params" json:"params"`
	ID           int                    `yaml:"id" json:"id"`
}

// ChoiceRule moves a session that is still in the initial stage to Stage when
// the user's text matches Pattern. No rules are configured by default.
type ChoiceRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Stage   int    `yaml:"stage" json:"stage"`
}

// Config describes the stage table and transition rules.
type Config struct {
	NudgeInstruction string       `yaml:"nudge_instruction" json:"nudge_instruction"`
	ReinforcedNudge  string       `yaml:"reinforced_nudge" json:"reinforced_nudge"`
	MarkerPattern    string       `yaml:"marker_pattern" json:"marker_pattern"`
	Definitions      []Definition `yaml:"definitions" json:"definitions"`
	Choices          []ChoiceRule `yaml:"choices" json:"choices"`
	Initial          int          `yaml:"initial" json:"initial"`
	NudgeAfterTurns  int          `yaml:"nudge_after_turns" json:"nudge_after_turns"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Definitions) == 0 {
		return fmt.Errorf("at least one stage definition is required")
	}
	seen := make(map[int]bool, len(c.Definitions))
	for _, d := range c.Definitions {
		if seen[d.ID] {
			return fmt.Errorf("duplicate stage id %d", d.ID)
		}
		seen[d.ID] = true
		if strings.TrimSpace(d.SystemPrompt) == "" {
			return fmt.Errorf("stage %d: system_prompt is required", d.ID)
		}
	}
	if !seen[c.Initial] {
		return fmt.Errorf("initial stage %d is not defined", c.Initial)
	}
	for _, ch := range c.Choices {
		if !seen[ch.Stage] {
			return fmt.Errorf("choice %q targets undefined stage %d", ch.Pattern, ch.Stage)
		}
	}
	if c.NudgeAfterTurns < 0 {
		return fmt.Errorf("nudge_after_turns must not be negative")
	}
	return nil
}

type compiledChoice struct {
	re    *regexp.Regexp
	stage int
}

// Machine resolves stage definitions and detects transitions.
// It holds no session state and is safe for concurrent use.
type Machine struct {
	defs       map[int]*Definition
	templates  map[int]*template.Template
	marker     *regexp.Regexp
	nudge      string
	reinforced string
	choices    []compiledChoice
	initial    int
	nudgeAfter int
}

// NewMachine compiles cfg into a Machine.
func NewMachine(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stage config: %w", err)
	}

	pattern := cfg.MarkerPattern
	if pattern == "" {
		pattern = DefaultMarkerPattern
	}
	marker, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid marker pattern: %w", err)
	}
	if marker.NumSubexp() == 0 {
		return nil, fmt.Errorf("marker pattern %q must capture the target stage", pattern)
	}

	m := &Machine{
		defs:       make(map[int]*Definition, len(cfg.Definitions)),
		templates:  make(map[int]*template.Template, len(cfg.Definitions)),
		marker:     marker,
		nudge:      cfg.NudgeInstruction,
		reinforced: cfg.ReinforcedNudge,
		initial:    cfg.Initial,
		nudgeAfter: cfg.NudgeAfterTurns,
	}
	if m.nudge == "" {
		m.nudge = DefaultNudgeInstruction
	}
	if m.reinforced == "" {
		m.reinforced = DefaultReinforcedNudge
	}

	for i := range cfg.Definitions {
		d := cfg.Definitions[i]
		tmpl, err := template.New(fmt.Sprintf("stage-%d", d.ID)).Option("missingkey=zero").Parse(d.SystemPrompt)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid system prompt template: %w", d.ID, err)
		}
		m.defs[d.ID] = &d
		m.templates[d.ID] = tmpl
	}

	for _, ch := range cfg.Choices {
		re, err := regexp.Compile(ch.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid choice pattern %q: %w", ch.Pattern, err)
		}
		m.choices = append(m.choices, compiledChoice{re: re, stage: ch.Stage})
	}

	return m, nil
}

// Initial returns the id new sessions start in.
func (m *Machine) Initial() int {
	return m.initial
}

// Has reports whether id is a known stage.
func (m *Machine) Has(id int) bool {
	_, ok := m.defs[id]
	return ok
}

// IDs returns the known stage ids in ascending order.
func (m *Machine) IDs() []int {
	ids := make([]int, 0, len(m.defs))
	for id := range m.defs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Definition returns the definition for id.
// An unknown id is a programming error and panics.
func (m *Machine) Definition(id int) *Definition {
	d, ok := m.defs[id]
	if !ok {
		panic(fmt.Sprintf("stage: unknown stage id %d", id))
	}
	return d
}

// ParseTransition extracts the target stage from a transition marker in
// reply. Markers naming unknown stages are ignored.
func (m *Machine) ParseTransition(reply string) (int, bool) {
	match := m.marker.FindStringSubmatch(reply)
	if match == nil {
		return 0, false
	}
	for _, group := range match[1:] {
		if group == "" {
			continue
		}
		id, err := strconv.Atoi(group)
		if err != nil || !m.Has(id) {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// ParseChoice returns the stage the user asked for, if their text matches a
// choice rule. Rules only apply while the session is in the initial stage.
func (m *Machine) ParseChoice(current int, text string) (int, bool) {
	if current != m.initial {
		return 0, false
	}
	for _, ch := range m.choices {
		if ch.re.MatchString(text) {
			return ch.stage, true
		}
	}
	return 0, false
}

// NeedsNudge reports whether the session has lingered in the initial stage
// long enough to be pushed towards a transition. TurnsInStage counts the
// current turn.
func (m *Machine) NeedsNudge(meta types.SessionMeta) bool {
	return meta.Stage == m.initial && meta.TurnsInStage > m.nudgeAfter
}

// NudgeInstruction is the extra system content added to a nudged request.
func (m *Machine) NudgeInstruction() string {
	return m.nudge
}

// ReinforcedNudge is added when a nudged reply still carried no marker.
func (m *Machine) ReinforcedNudge() string {
	return m.reinforced
}

// PromptInput carries the per-turn content rendered into the system prompt.
type PromptInput struct {
	// Memory is the recalled long-term note for this turn.
	Memory string
	// UserName is the detected name of the user.
	UserName string
	// Facts are long-term facts about the user.
	Facts []string
	// Instructions are extra system lines such as a nudge.
	Instructions []string
}

type templateData struct {
	Stage    *Definition
	Memory   string
	UserName string
}

// Render builds the system prompt for stage id. The template sees .Stage,
// .Memory and .UserName; memory and name not consumed by the template are
// appended as separate lines, followed by facts and instructions.
func (m *Machine) Render(id int, in PromptInput) (string, error) {
	def := m.Definition(id)

	var buf bytes.Buffer
	if err := m.templates[id].Execute(&buf, templateData{Stage: def, Memory: in.Memory, UserName: in.UserName}); err != nil {
		return "", fmt.Errorf("render stage %d prompt: %w", id, err)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(buf.String()))

	if in.UserName != "" && !strings.Contains(def.SystemPrompt, ".UserName") {
		fmt.Fprintf(&sb, "\nThe user's name is %s.", in.UserName)
	}
	if in.Memory != "" && !strings.Contains(def.SystemPrompt, ".Memory") {
		fmt.Fprintf(&sb, "\nMemory: %s", in.Memory)
	}
	if len(in.Facts) > 0 {
		sb.WriteString("\n" + FactsHeader + "\n")
		sb.WriteString(strings.Join(in.Facts, "\n"))
	}
	for _, line := range in.Instructions {
		if line = strings.TrimSpace(line); line != "" {
			sb.WriteString("\n" + line)
		}
	}
	return sb.String(), nil
}
