// Package session stores conversation histories and per-session counters.
//
// A Store is addressed only by session id. Sessions are created lazily on
// first reference with an empty history in stage 0 and removed by Clear.
// Message content is capped at MaxContentLength runes and silently
// truncated on write.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/parley/pkg/types"
)

// DefaultMaxContentLength is the default per-message cap in runes.
const DefaultMaxContentLength = 4096

var (
	// ErrUnavailable wraps every failure of the backing storage.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrInvalidRole is returned when a message carries an unknown role.
	ErrInvalidRole = errors.New("invalid message role")
)

// Store persists session history and counters.
// Implementations must be safe for concurrent use across sessions; turns on
// one session are serialized by the caller (see Locker).
type Store interface {
	// History returns the session's messages in conversation order.
	History(ctx context.Context, id string) ([]*types.Message, error)

	// Append adds one message at the end of the history and returns it with
	// its sequence number assigned.
	Append(ctx context.Context, id string, role types.Role, content string) (*types.Message, error)

	// Rewrite atomically replaces the whole history.
	Rewrite(ctx context.Context, id string, msgs []*types.Message) error

	// Stage returns the session's stage, 0 if the session is unknown.
	Stage(ctx context.Context, id string) (int, error)

	// SetStage updates the session's stage.
	SetStage(ctx context.Context, id string, stage int) error

	// Meta returns the session counters.
	Meta(ctx context.Context, id string) (types.SessionMeta, error)

	// SetMeta replaces the session counters.
	SetMeta(ctx context.Context, id string, meta types.SessionMeta) error

	// Clear removes the history and counters of the session.
	Clear(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}

// Load reads a full Session snapshot from s.
func Load(ctx context.Context, s Store, id string) (*types.Session, error) {
	history, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.Meta(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.Session{ID: id, History: history, SessionMeta: meta}, nil
}

// truncate caps content at limit runes. A non-positive limit disables the cap.
func truncate(content string, limit int) string {
	if limit <= 0 || len(content) <= limit {
		return content
	}
	n := 0
	for i := range content {
		if n == limit {
			return content[:i]
		}
		n++
	}
	return content
}

func unavailable(op, id string, err error) error {
	return fmt.Errorf("%s session %q: %w: %w", op, id, ErrUnavailable, err)
}

func checkRole(role types.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}
