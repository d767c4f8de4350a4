package longtermmemory

import (
	"context"
	"fmt"
	"time"
)

var timeNow = time.Now // injected for testability

// NewVersion creates a note that replaces predecessor with new content.
// The user and category carry over; the version number increments.
func NewVersion(predecessor *Note, sessionID string, trigger Trigger, content string) *Note {
	now := timeNow()
	predecessorID := predecessor.Meta.ID
	return &Note{
		Meta: NoteMeta{
			ID:         NewNoteID(),
			UserID:     predecessor.Meta.UserID,
			SessionID:  sessionID,
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    predecessor.Meta.Version + 1,
			Category:   predecessor.Meta.Category,
			Trigger:    trigger,
			Supersedes: &predecessorID,
		},
		Content: content,
	}
}

// VersionChain returns the ancestry of a note, oldest first, up to maxDepth.
func VersionChain(ctx context.Context, store NoteStore, userID, id string, maxDepth int) ([]*Note, error) {
	var chain []*Note
	current := id
	for i := 0; i < maxDepth && current != ""; i++ {
		n, err := store.Read(ctx, userID, current)
		if err != nil {
			return chain, fmt.Errorf("longtermmemory: version chain read %s: %w", current, err)
		}
		chain = append([]*Note{n}, chain...)
		if n.Meta.Supersedes == nil {
			break
		}
		current = *n.Meta.Supersedes
	}
	return chain, nil
}

// Current drops every note that a later note supersedes. The order of the
// remaining notes is preserved. Notes on a supersedes cycle supersede each
// other and are all dropped.
func Current(notes []*Note) []*Note {
	superseded := make(map[string]bool, len(notes))
	for _, n := range notes {
		if n.Meta.Supersedes != nil {
			superseded[*n.Meta.Supersedes] = true
		}
	}
	out := make([]*Note, 0, len(notes))
	for _, n := range notes {
		if !superseded[n.Meta.ID] {
			out = append(out, n)
		}
	}
	return out
}
