// Package longtermmemory stores facts about a user that outlive any single
// session. Each fact is a Markdown note with YAML front matter kept under a
// per-user directory; the most recent facts are recalled into the system
// prompt of every turn.
package longtermmemory

import (
	"fmt"
	"time"
)

// Category classifies the kind of fact a note records.
type Category string

const (
	CategoryUserFacts   Category = "user-facts"
	CategoryPreferences Category = "preferences"
	CategoryGoals       Category = "goals"
	CategoryCorrections Category = "corrections"
)

// Trigger records what caused a note to be written.
type Trigger string

const (
	TriggerExplicit   Trigger = "explicit"
	TriggerCompaction Trigger = "compaction"
	TriggerImport     Trigger = "import"
)

// NoteMeta holds all YAML front-matter fields.
type NoteMeta struct {
	ID         string    `yaml:"id"`
	UserID     string    `yaml:"user_id"`
	SessionID  string    `yaml:"session_id,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
	UpdatedAt  time.Time `yaml:"updated_at"`
	Version    int       `yaml:"version"`
	Category   Category  `yaml:"category"`
	Trigger    Trigger   `yaml:"trigger"`
	Supersedes *string   `yaml:"supersedes,omitempty"`
}

// Validate ensures all required note metadata fields are populated.
func (m *NoteMeta) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("longtermmemory: missing ID")
	}
	if m.UserID == "" {
		return fmt.Errorf("longtermmemory: missing UserID")
	}
	if m.Category == "" {
		return fmt.Errorf("longtermmemory: missing Category")
	}
	if m.Trigger == "" {
		return fmt.Errorf("longtermmemory: missing Trigger")
	}
	if m.Version <= 0 {
		return fmt.Errorf("longtermmemory: invalid Version")
	}
	return nil
}

// Note is the fully parsed in-memory representation of a note file.
type Note struct {
	Meta    NoteMeta
	Content string
}
