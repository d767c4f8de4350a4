package context

import (
	"strings"

	"github.com/entrhq/parley/pkg/types"
)

// summarizationSystemPrompt instructs the model to fold older turns into a
// short running summary that replaces them in the history.
const summarizationSystemPrompt = "You maintain the running memory of a supportive conversation. " +
	"Merge the previous summary, if any, with the new dialogue excerpt into one concise summary. " +
	"Keep the person's concerns, feelings, important facts, decisions and agreed next steps. " +
	"Write in the language of the dialogue, in the third person, without greetings or commentary."

// buildSummarizationRequest renders the existing summary and the dropped
// prefix as a single user message.
func buildSummarizationRequest(previous *types.Message, prefix []*types.Message) string {
	var sb strings.Builder

	if previous != nil && previous.Content != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previous.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Dialogue:\n")
	for _, m := range prefix {
		if m.IsSummary() {
			continue
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	return sb.String()
}
