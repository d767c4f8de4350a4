package longtermmemory

import (
	"context"

	"github.com/google/uuid"
)

// NoteStore is the read/write interface for persisted notes.
type NoteStore interface {
	Write(ctx context.Context, n *Note) error
	Read(ctx context.Context, userID, id string) (*Note, error)
	ListByUser(ctx context.Context, userID string) ([]*Note, error)
}

// NewNoteID generates a new unique note identifier.
func NewNoteID() string {
	return "note_" + uuid.NewString()
}
