package context

import (
	"github.com/entrhq/parley/pkg/llm/tokenizer"
	"github.com/entrhq/parley/pkg/types"
)

// Trim builds the message window for one provider call: the system prompt
// followed by the longest contiguous suffix of history that fits the budget
// of model. Walking from newest to oldest, the first message that does not
// fit ends the walk, so older messages never jump over a gap.
//
// With an empty history, or when even the newest message does not fit, the
// window holds only the system message.
func Trim(tok *tokenizer.Tokenizer, systemPrompt string, history []*types.Message, model string) []*types.Message {
	budget := tok.Budget(systemPrompt, model)
	remaining := budget.Available()

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := tok.Cost(history[i].Content, model)
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}

	window := make([]*types.Message, 0, len(history)-start+1)
	window = append(window, types.NewSystemMessage(systemPrompt))
	window = append(window, history[start:]...)

	if dropped := start; dropped > 0 {
		debugLog.Debugf("Trimmed %d of %d messages for %s (capacity %d, reserved %d, system %d)",
			dropped, len(history), model, budget.Capacity, budget.Reserved, budget.SystemPromptCost)
	}
	return window
}

// WindowCost is the token cost of a built window.
func WindowCost(tok *tokenizer.Tokenizer, window []*types.Message, model string) int {
	return tok.CountMessages(window, model)
}
