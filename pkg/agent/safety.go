package agent

import "strings"

// DefaultCrisisReply is sent instead of a generated reply when a crisis keyword is found.
const DefaultCrisisReply = "Я вижу, что вам очень тяжело. Пожалуйста, немедленно обратитесь за профессиональной помощью."

// DefaultCrisisKeywords are matched case-insensitively anywhere in the input.
func DefaultCrisisKeywords() []string {
	return []string{"suicide", "kill myself", "самоубийство", "убью себя"}
}

// CrisisFilter short-circuits messages that need a fixed safety reply.
type CrisisFilter struct {
	reply    string
	keywords []string
}

// NewCrisisFilter creates a filter. An empty reply uses DefaultCrisisReply.
// Blank keywords are ignored.
func NewCrisisFilter(keywords []string, reply string) *CrisisFilter {
	f := &CrisisFilter{reply: reply}
	if f.reply == "" {
		f.reply = DefaultCrisisReply
	}
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			f.keywords = append(f.keywords, kw)
		}
	}
	return f
}

// Match reports whether text contains a crisis keyword.
func (f *CrisisFilter) Match(text string) bool {
	if f == nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Reply is the fixed response for matched messages.
func (f *CrisisFilter) Reply() string {
	return f.reply
}
