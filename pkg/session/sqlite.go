package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/types"

	_ "modernc.org/sqlite"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("session")
	if err != nil {
		debugLog.Warnf("Failed to initialize session logger, using stderr fallback: %v", err)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS session_meta (
	session_id TEXT PRIMARY KEY,
	stage INTEGER NOT NULL DEFAULT 0,
	turns_in_stage INTEGER NOT NULL DEFAULT 0,
	last_reply TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore persists sessions in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	maxLen int
}

// OpenSQLite opens (creating if needed) the database at path.
// maxContentLength <= 0 selects DefaultMaxContentLength.
func OpenSQLite(path string, maxContentLength int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	s := &SQLiteStore{db: db, path: path, maxLen: maxContentLength}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	debugLog.Infof("Opened session store at %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, unavailable("load history of", id, err)
	}
	defer rows.Close()

	history := []*types.Message{}
	for rows.Next() {
		var (
			seq     int64
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&seq, &role, &content, &created); err != nil {
			return nil, unavailable("scan history of", id, err)
		}
		r, err := types.ParseRole(role)
		if err != nil {
			return nil, unavailable("decode history of", id, err)
		}
		history = append(history, &types.Message{
			Role:      r,
			Content:   content,
			Sequence:  seq,
			CreatedAt: time.Unix(0, created),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load history of", id, err)
	}
	return history, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, id string, role types.Role, content string) (*types.Message, error) {
	if err := checkRole(role); err != nil {
		return nil, err
	}

	msg := &types.Message{
		Role:      role,
		Content:   truncate(content, s.maxLen),
		CreatedAt: timeNow(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, unavailable("append to", id, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("append to", id, err)
	}
	msg.Sequence = seq
	return msg, nil
}

// Rewrite implements Store. The old history is replaced in a single
// transaction, so a failure leaves it untouched.
func (s *SQLiteStore) Rewrite(ctx context.Context, id string, msgs []*types.Message) error {
	for _, m := range msgs {
		if err := checkRole(m.Role); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("rewrite", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return unavailable("rewrite", id, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return unavailable("rewrite", id, err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = timeNow()
		}
		if _, err := stmt.ExecContext(ctx, id, string(m.Role), truncate(m.Content, s.maxLen), created.UnixNano()); err != nil {
			return unavailable("rewrite", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("rewrite", id, err)
	}
	return nil
}

// Stage implements Store.
func (s *SQLiteStore) Stage(ctx context.Context, id string) (int, error) {
	meta, err := s.Meta(ctx, id)
	return meta.Stage, err
}

// SetStage implements Store.
func (s *SQLiteStore) SetStage(ctx context.Context, id string, stage int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_meta (session_id, stage, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET stage = excluded.stage, updated_at = excluded.updated_at`,
		id, stage, timeNow().UnixNano())
	if err != nil {
		return unavailable("set stage of", id, err)
	}
	return nil
}

// Meta implements Store.
func (s *SQLiteStore) Meta(ctx context.Context, id string) (types.SessionMeta, error) {
	var meta types.SessionMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, turns_in_stage, last_reply FROM session_meta WHERE session_id = ?`, id).
		Scan(&meta.Stage, &meta.TurnsInStage, &meta.LastAssistantReply)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SessionMeta{}, nil
	}
	if err != nil {
		return types.SessionMeta{}, unavailable("load meta of", id, err)
	}
	return meta, nil
}

// SetMeta implements Store.
func (s *SQLiteStore) SetMeta(ctx context.Context, id string, meta types.SessionMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_meta (session_id, stage, turns_in_stage, last_reply, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stage = excluded.stage,
			turns_in_stage = excluded.turns_in_stage,
			last_reply = excluded.last_reply,
			updated_at = excluded.updated_at`,
		id, meta.Stage, meta.TurnsInStage,
		truncate(meta.LastAssistantReply, s.maxLen), timeNow().UnixNano())
	if err != nil {
		return unavailable("save meta of", id, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("clear", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return unavailable("clear", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_meta WHERE session_id = ?`, id); err != nil {
		return unavailable("clear", id, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("clear", id, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
