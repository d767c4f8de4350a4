package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/parley/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, maxLen int) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, maxLen int) Store {
			return NewMemoryStore(maxLen)
		},
		"sqlite": func(t *testing.T, maxLen int) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), maxLen)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory)
		})
	}
}

func TestStoreUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		history, err := s.History(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, history)

		stage, err := s.Stage(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, stage)

		meta, err := s.Meta(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, types.SessionMeta{}, meta)
	})
}

func TestStoreAppendKeepsOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		first, err := s.Append(ctx, "s1", types.RoleUser, "привет")
		require.NoError(t, err)
		second, err := s.Append(ctx, "s1", types.RoleAssistant, "здравствуй")
		require.NoError(t, err)
		_, err = s.Append(ctx, "other", types.RoleUser, "unrelated")
		require.NoError(t, err)
		third, err := s.Append(ctx, "s1", types.RoleUser, "как дела?")
		require.NoError(t, err)

		assert.Less(t, first.Sequence, second.Sequence)
		assert.Less(t, second.Sequence, third.Sequence)

		history, err := s.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "привет", history[0].Content)
		assert.Equal(t, types.RoleAssistant, history[1].Role)
		assert.Equal(t, "как дела?", history[2].Content)
		assert.False(t, history[0].CreatedAt.IsZero())
	})
}

func TestStoreTruncatesContent(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 5)
		ctx := context.Background()

		msg, err := s.Append(ctx, "s1", types.RoleUser, "абвгдеёж")
		require.NoError(t, err)
		assert.Equal(t, "абвгд", msg.Content)

		require.NoError(t, s.Rewrite(ctx, "s1", []*types.Message{types.NewSummaryMessage("summary text")}))
		history, err := s.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "summa", history[0].Content)
	})
}

func TestStoreRejectsInvalidRole(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		_, err := s.Append(ctx, "s1", types.Role("tool"), "x")
		assert.ErrorIs(t, err, ErrInvalidRole)

		_, err = s.Append(ctx, "s1", types.RoleUser, "kept")
		require.NoError(t, err)
		err = s.Rewrite(ctx, "s1", []*types.Message{{Role: "bogus", Content: "x"}})
		assert.ErrorIs(t, err, ErrInvalidRole)

		history, err := s.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 1, "a rejected rewrite leaves history untouched")
		assert.Equal(t, "kept", history[0].Content)
	})
}

func TestStoreRewrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			_, err := s.Append(ctx, "s1", types.RoleUser, strings.Repeat("x", i+1))
			require.NoError(t, err)
		}
		before, err := s.History(ctx, "s1")
		require.NoError(t, err)

		rewritten := append([]*types.Message{types.NewSummaryMessage("they talked")}, before[7:]...)
		require.NoError(t, s.Rewrite(ctx, "s1", rewritten))

		after, err := s.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, after, 4)
		assert.True(t, after[0].IsSummary())
		assert.Equal(t, "xxxxxxxx", after[1].Content)
		for i := 1; i < len(after); i++ {
			assert.Less(t, after[i-1].Sequence, after[i].Sequence)
		}

		next, err := s.Append(ctx, "s1", types.RoleAssistant, "reply")
		require.NoError(t, err)
		assert.Greater(t, next.Sequence, after[3].Sequence)
	})
}

func TestStoreMetaAndStage(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		require.NoError(t, s.SetStage(ctx, "s1", 2))
		stage, err := s.Stage(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, stage)

		meta := types.SessionMeta{Stage: 1, TurnsInStage: 3, LastAssistantReply: "ок"}
		require.NoError(t, s.SetMeta(ctx, "s1", meta))
		got, err := s.Meta(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, meta, got)

		require.NoError(t, s.SetStage(ctx, "s1", 0))
		got, err = s.Meta(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stage)
		assert.Equal(t, 3, got.TurnsInStage, "SetStage leaves the other counters alone")
	})
}

func TestStoreClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t, 0)
		ctx := context.Background()

		_, err := s.Append(ctx, "s1", types.RoleUser, "hi")
		require.NoError(t, err)
		require.NoError(t, s.SetStage(ctx, "s1", 2))
		_, err = s.Append(ctx, "s2", types.RoleUser, "keep me")
		require.NoError(t, err)

		require.NoError(t, s.Clear(ctx, "s1"))

		sess, err := Load(ctx, s, "s1")
		require.NoError(t, err)
		assert.Empty(t, sess.History)
		assert.Equal(t, 0, sess.Stage)

		other, err := s.History(ctx, "s2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	_, err = s.Append(ctx, "s1", types.RoleUser, "remember me")
	require.NoError(t, err)
	require.NoError(t, s.SetStage(ctx, "s1", 2))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, 0)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	sess, err := Load(ctx, s, "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "remember me", sess.History[0].Content)
	assert.Equal(t, 2, sess.Stage)
}

func TestSQLiteClosedStoreIsUnavailable(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.History(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Append(context.Background(), "s1", types.RoleUser, "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	s := NewMemoryStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.History(ctx, "s1")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_, err := s.Append(ctx, "s1", types.RoleUser, "original")
	require.NoError(t, err)

	history, err := s.History(ctx, "s1")
	require.NoError(t, err)
	history[0].Content = "mutated"

	again, err := s.History(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 0))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "пр", truncate("привет", 2))
}

func TestLockerSerializesPerSession(t *testing.T) {
	l := NewLocker()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("s1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Len(), "released entries are dropped")
}

func TestLockerIndependentSessions(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another session blocked")
	}
	assert.Equal(t, 1, l.Len())
}
