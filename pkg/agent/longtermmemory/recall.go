package longtermmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultRecallLimit is how many facts are recalled per turn.
const DefaultRecallLimit = 10

// Recaller supplies the facts that are appended to a user's system prompt.
type Recaller struct {
	store NoteStore
	limit int
}

// NewRecaller creates a Recaller. A limit below one uses DefaultRecallLimit.
func NewRecaller(store NoteStore, limit int) *Recaller {
	if limit < 1 {
		limit = DefaultRecallLimit
	}
	return &Recaller{store: store, limit: limit}
}

// Recall returns the newest current facts of a user in chronological order.
func (r *Recaller) Recall(ctx context.Context, userID string) ([]string, error) {
	notes, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recall facts for %s: %w", userID, err)
	}
	notes = Current(notes)
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Meta.UpdatedAt.Equal(notes[j].Meta.UpdatedAt) {
			return notes[i].Meta.ID < notes[j].Meta.ID
		}
		return notes[i].Meta.UpdatedAt.Before(notes[j].Meta.UpdatedAt)
	})

	facts := make([]string, 0, len(notes))
	for _, n := range notes {
		if fact := strings.TrimSpace(n.Content); fact != "" {
			facts = append(facts, fact)
		}
	}
	if len(facts) > r.limit {
		facts = facts[len(facts)-r.limit:]
	}
	debugLog.Debugf("Recalled %d facts for user %s", len(facts), userID)
	return facts, nil
}

// Remember stores a new fact about a user.
func Remember(ctx context.Context, store NoteStore, userID, sessionID string, category Category, fact string) (*Note, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil, fmt.Errorf("longtermmemory: empty fact")
	}
	if category == "" {
		category = CategoryUserFacts
	}
	now := timeNow()
	n := &Note{
		Meta: NoteMeta{
			ID:        NewNoteID(),
			UserID:    userID,
			SessionID: sessionID,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
			Category:  category,
			Trigger:   TriggerExplicit,
		},
		Content: fact,
	}
	if err := store.Write(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}
