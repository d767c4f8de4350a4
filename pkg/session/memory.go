package session

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/parley/pkg/types"
)

var timeNow = time.Now

type memorySession struct {
	history []*types.Message
	meta    types.SessionMeta
	nextSeq int64
}

// MemoryStore keeps sessions in process memory. It is meant for tests and
// local development; nothing survives a restart.
type MemoryStore struct {
	sessions map[string]*memorySession
	maxLen   int
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore. maxContentLength <= 0 selects
// DefaultMaxContentLength.
func NewMemoryStore(maxContentLength int) *MemoryStore {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		maxLen:   maxContentLength,
	}
}

func (s *MemoryStore) session(id string) *memorySession {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &memorySession{nextSeq: 1}
		s.sessions[id] = sess
	}
	return sess
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, id string) ([]*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return []*types.Message{}, nil
	}
	out := make([]*types.Message, len(sess.history))
	for i, m := range sess.history {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, id string, role types.Role, content string) (*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(id)
	msg := &types.Message{
		Role:      role,
		Content:   truncate(content, s.maxLen),
		Sequence:  sess.nextSeq,
		CreatedAt: timeNow(),
	}
	sess.nextSeq++
	sess.history = append(sess.history, msg)

	cp := *msg
	return &cp, nil
}

// Rewrite implements Store.
func (s *MemoryStore) Rewrite(ctx context.Context, id string, msgs []*types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := checkRole(m.Role); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(id)
	history := make([]*types.Message, 0, len(msgs))
	for _, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = timeNow()
		}
		history = append(history, &types.Message{
			Role:      m.Role,
			Content:   truncate(m.Content, s.maxLen),
			Sequence:  sess.nextSeq,
			CreatedAt: created,
		})
		sess.nextSeq++
	}
	sess.history = history
	return nil
}

// Stage implements Store.
func (s *MemoryStore) Stage(ctx context.Context, id string) (int, error) {
	meta, err := s.Meta(ctx, id)
	return meta.Stage, err
}

// SetStage implements Store.
func (s *MemoryStore) SetStage(ctx context.Context, id string, stage int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(id).meta.Stage = stage
	return nil
}

// Meta implements Store.
func (s *MemoryStore) Meta(ctx context.Context, id string) (types.SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return types.SessionMeta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.meta, nil
	}
	return types.SessionMeta{}, nil
}

// SetMeta implements Store.
func (s *MemoryStore) SetMeta(ctx context.Context, id string, meta types.SessionMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta.LastAssistantReply = truncate(meta.LastAssistantReply, s.maxLen)
	s.session(id).meta = meta
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
