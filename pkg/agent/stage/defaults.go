package stage

import "github.com/entrhq/parley/pkg/types"

// DefaultMarkerPattern matches "Переход на модуль N" or "[[stage:N]]" at the
// very start or the very end of a reply.
const DefaultMarkerPattern = `(?i)(?:\A\s*[«"']?(?:Переход на модуль\s*(\d+)|\[\[stage:\s*(\d+)\]\]))|(?:(?:Переход на модуль\s*(\d+)|\[\[stage:\s*(\d+)\]\])[»"'.!]*\s*\z)`

const (
	// DefaultNudgeAfterTurns lets the initial stage run two turns before nudging.
	DefaultNudgeAfterTurns = 2

	DefaultNudgeInstruction = "Ты уже несколько сообщений в модуле 0. Мягко предложи выбор и заверши строкой «Переход на модуль 1» или «Переход на модуль 2». Только один вопрос и максимум одна техника."
	DefaultReinforcedNudge  = "Перегенерируй ответ и обязательно заверши его строкой перехода."

	// FactsHeader introduces long-term facts in the system prompt.
	FactsHeader = "Важные факты о пользователе:"

	defaultModel = "gpt-4o-mini"
)

// DefaultConfig returns the three-stage intake, talk and deep-work table.
// Stages change only through a marker in a reply.
func DefaultConfig() Config {
	base := types.DefaultGenerationParams()

	return Config{
		Initial:          0,
		NudgeAfterTurns:  DefaultNudgeAfterTurns,
		NudgeInstruction: DefaultNudgeInstruction,
		ReinforcedNudge:  DefaultReinforcedNudge,
		MarkerPattern:    DefaultMarkerPattern,
		Definitions: []Definition{
			{
				ID:           0,
				Name:         "intake",
				Model:        defaultModel,
				Params:       base.WithTemperature(0.2),
				SystemPrompt: "Текущий модуль: 0. Ты бережный собеседник. Выясни, что беспокоит человека. Отвечай 2–4 предложениями. Только один открытый вопрос или одно отражение.",
			},
			{
				ID:           1,
				Name:         "talk",
				Model:        defaultModel,
				Params:       base,
				SystemPrompt: "Текущий модуль: 1. Человек хочет выговориться. Слушай, отражай чувства, не давай советов без запроса. Отвечай 2–4 предложениями.",
			},
			{
				ID:           2,
				Name:         "deep",
				Model:        defaultModel,
				Params:       base.WithTemperature(0.3),
				SystemPrompt: "Текущий модуль: 2. Помоги разобраться в причинах состояния. Используй не больше одной техники за ответ. Отвечай 2–4 предложениями.",
			},
		},
	}
}

// DefaultChoices returns phrase rules for the default table that let the user
// pick the talk or deep-work stage from the intake stage. Set them as
// Config.Choices to enable them.
func DefaultChoices() []ChoiceRule {
	return []ChoiceRule{
		{Pattern: `(?i)(?:^|[^\p{L}])(?:выговор(?:иться)?|просто\s+поговорить|поговорить)(?:$|[^\p{L}])`, Stage: 1},
		{Pattern: `(?i)(?:^|[^\p{L}])(?:разобраться|почему|надоело|глубже)(?:$|[^\p{L}])`, Stage: 2},
	}
}
