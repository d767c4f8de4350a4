package longtermmemory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingClock makes timeNow advance one minute per call.
func tickingClock(t *testing.T) {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	timeNow = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	t.Cleanup(func() { timeNow = time.Now })
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "notes"))
	require.NoError(t, err)
	return fs
}

func TestParseSerializeRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	prev := "note_v1"
	n := &Note{
		Meta: NoteMeta{
			ID:         "note_test",
			UserID:     "42",
			SessionID:  "42-2025-01-15",
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    2,
			Category:   CategoryGoals,
			Trigger:    TriggerExplicit,
			Supersedes: &prev,
		},
		Content: "Готовится к экзаменам.\nЛюбит бегать по утрам.",
	}

	b, err := Serialize(n)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "---\n"))

	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, n.Meta.ID, parsed.Meta.ID)
	assert.Equal(t, n.Meta.UserID, parsed.Meta.UserID)
	assert.Equal(t, n.Content, parsed.Content)
	require.NotNil(t, parsed.Meta.Supersedes)
	assert.Equal(t, prev, *parsed.Meta.Supersedes)
	assert.True(t, now.Equal(parsed.Meta.UpdatedAt))
}

func TestParseAcceptsCRLF(t *testing.T) {
	raw := "---\r\nid: note_a\r\nuser_id: u\r\n---\r\n\r\nfact\r\n"
	n, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "note_a", n.Meta.ID)
	assert.Equal(t, "fact\n", n.Content)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  string
	}{
		{name: "missing delimiter", raw: "just some text", err: "missing front-matter delimiter"},
		{name: "unclosed block", raw: "---\nfoo: bar\nno closing delimiter", err: "unclosed front-matter block"},
		{name: "bad yaml", raw: "---\nid: [unterminated\n---\nbody", err: "front-matter parse error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "longtermmemory: "+tt.err)
		})
	}
}

func TestNoteMetaValidate(t *testing.T) {
	valid := func() NoteMeta {
		return NoteMeta{ID: "note_1", UserID: "u", Version: 1, Category: CategoryUserFacts, Trigger: TriggerExplicit}
	}
	ok := valid()
	require.NoError(t, ok.Validate())

	tests := []struct {
		mutate func(*NoteMeta)
		name   string
	}{
		{name: "id", mutate: func(m *NoteMeta) { m.ID = "" }},
		{name: "user", mutate: func(m *NoteMeta) { m.UserID = "" }},
		{name: "category", mutate: func(m *NoteMeta) { m.Category = "" }},
		{name: "trigger", mutate: func(m *NoteMeta) { m.Trigger = "" }},
		{name: "version", mutate: func(m *NoteMeta) { m.Version = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestFileStore(t *testing.T) {
	tickingClock(t)
	fs := newStore(t)
	ctx := context.Background()

	_, err := fs.Read(ctx, "u1", "note_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := fs.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := Remember(ctx, fs, "u1", "s1", "", "Зовут кота Барсик")
	require.NoError(t, err)
	assert.Equal(t, CategoryUserFacts, n.Meta.Category)
	assert.True(t, strings.HasPrefix(n.Meta.ID, "note_"))

	read, err := fs.Read(ctx, "u1", n.Meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "Зовут кота Барсик", read.Content)

	assert.ErrorIs(t, fs.Write(ctx, n), ErrAlreadyExists)

	_, err = Remember(ctx, fs, "u2", "s2", CategoryGoals, "other user")
	require.NoError(t, err)

	list, err = fs.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1, "notes are partitioned per user")

	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "u1", "note_corrupt.md"), []byte("corrupt"), 0o600))
	list, err = fs.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1, "corrupt files are skipped")
}

func TestFileStoreRejectsUnsafeNames(t *testing.T) {
	fs := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		id     string
	}{
		{name: "empty user", userID: "", id: "note_1"},
		{name: "user traversal", userID: "..", id: "note_1"},
		{name: "user separator", userID: "a/b", id: "note_1"},
		{name: "empty id", userID: "u", id: ""},
		{name: "id traversal", userID: "u", id: "../escape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.Read(ctx, tt.userID, tt.id)
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestFileStoreRejectsInvalidNote(t *testing.T) {
	fs := newStore(t)
	err := fs.Write(context.Background(), &Note{Meta: NoteMeta{ID: "note_1"}})
	assert.Error(t, err)
}

func TestRememberRejectsEmptyFact(t *testing.T) {
	_, err := Remember(context.Background(), newStore(t), "u", "s", CategoryUserFacts, "   ")
	assert.Error(t, err)
}

func TestVersionChainAndCurrent(t *testing.T) {
	tickingClock(t)
	fs := newStore(t)
	ctx := context.Background()

	v1, err := Remember(ctx, fs, "u", "s1", CategoryUserFacts, "Учится на втором курсе")
	require.NoError(t, err)
	v2 := NewVersion(v1, "s2", TriggerCompaction, "Учится на третьем курсе")
	require.NoError(t, fs.Write(ctx, v2))

	assert.Equal(t, 2, v2.Meta.Version)
	assert.Equal(t, "u", v2.Meta.UserID)
	require.NotNil(t, v2.Meta.Supersedes)
	assert.Equal(t, v1.Meta.ID, *v2.Meta.Supersedes)

	chain, err := VersionChain(ctx, fs, "u", v2.Meta.ID, 10)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, v1.Meta.ID, chain[0].Meta.ID)
	assert.Equal(t, v2.Meta.ID, chain[1].Meta.ID)

	all, err := fs.ListByUser(ctx, "u")
	require.NoError(t, err)
	current := Current(all)
	require.Len(t, current, 1)
	assert.Equal(t, v2.Meta.ID, current[0].Meta.ID)
}

func TestVersionChainBoundedOnCycle(t *testing.T) {
	fs := newStore(t)
	ctx := context.Background()
	id1, id2 := "note_cycle1", "note_cycle2"
	for _, n := range []*Note{
		{Meta: NoteMeta{ID: id1, UserID: "u", Version: 1, Category: CategoryUserFacts, Trigger: TriggerImport, Supersedes: &id2}, Content: "one"},
		{Meta: NoteMeta{ID: id2, UserID: "u", Version: 2, Category: CategoryUserFacts, Trigger: TriggerImport, Supersedes: &id1}, Content: "two"},
	} {
		require.NoError(t, fs.Write(ctx, n))
	}

	chain, err := VersionChain(ctx, fs, "u", id1, 5)
	require.NoError(t, err)
	assert.Len(t, chain, 5)

	all, err := fs.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, Current(all))
}

func TestRecall(t *testing.T) {
	tickingClock(t)
	fs := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := Remember(ctx, fs, "u", "s", CategoryUserFacts, fmt.Sprintf("fact %d", i))
		require.NoError(t, err)
	}
	old, err := Remember(ctx, fs, "u", "s", CategoryGoals, "goal v1")
	require.NoError(t, err)
	require.NoError(t, fs.Write(ctx, NewVersion(old, "s", TriggerExplicit, "goal v2")))

	tests := []struct {
		name  string
		want  []string
		limit int
	}{
		{name: "limit trims oldest", limit: 3, want: []string{"fact 3", "fact 4", "goal v2"}},
		{name: "all current facts", limit: 20, want: []string{"fact 0", "fact 1", "fact 2", "fact 3", "fact 4", "goal v2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := NewRecaller(fs, tt.limit).Recall(ctx, "u")
			require.NoError(t, err)
			assert.Equal(t, tt.want, facts)
		})
	}

	facts, err := NewRecaller(fs, 0).Recall(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestRecallPropagatesStoreErrors(t *testing.T) {
	_, err := NewRecaller(newStore(t), 1).Recall(context.Background(), "../x")
	assert.Error(t, err)
}

func TestConcurrentWrite(t *testing.T) {
	fs := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Remember(ctx, fs, "u", "s", CategoryUserFacts, fmt.Sprintf("concurrent %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := fs.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
