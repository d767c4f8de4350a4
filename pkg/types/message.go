package types

import (
	"fmt"
	"time"
)

// Role identifies the author of a message in a session history.
// The set is closed: anything outside it is rejected by Valid.
type Role string

const (
	RoleUser      Role = "user"      // RoleUser marks text sent by the person in the conversation.
	RoleAssistant Role = "assistant" // RoleAssistant marks a reply produced by the generation provider.
	RoleSystem    Role = "system"    // RoleSystem marks instructions that steer the provider.
	RoleSummary   Role = "summary"   // RoleSummary marks the synthetic message produced by compaction.
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleSummary:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role name back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown message role %q", s)
	}
	return r, nil
}

// Message is a single entry of a session history.
//
// Messages are immutable once appended; the only way to change them is a
// whole-history rewrite during compaction.
type Message struct {
	// CreatedAt is when the message was appended to the history.
	CreatedAt time.Time

	// Content is the message text.
	Content string

	// Role identifies who produced the message.
	Role Role

	// Sequence is the monotonic position of the message within its session.
	// Zero means the message has not been persisted yet.
	Sequence int64
}

// NewUserMessage creates an unsequenced user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an unsequenced assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates an unsequenced system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewSummaryMessage creates an unsequenced summary message.
func NewSummaryMessage(content string) *Message {
	return &Message{Role: RoleSummary, Content: content}
}

// IsSummary reports whether m was produced by compaction.
func (m *Message) IsSummary() bool {
	return m != nil && m.Role == RoleSummary
}
