package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "report_s1_memory.json", FileName("report", "s1"))
	assert.Equal(t, "report_a_b_c_memory.json", FileName("report", `a/b\c`))
}

func TestLoad_MissingIsEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	msgs := s.Load(context.Background(), "k", "s")
	require.NotNil(t, msgs)
	assert.Empty(t, msgs)
	assert.False(t, s.Exists("k", "s"))
}

func TestAppend_PreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	want := []Message{
		{Role: RoleUser, Content: "m1"},
		{Role: RoleAssistant, Content: "m2", Sources: []string{"chunk a", "chunk b"}},
		{Role: RoleUser, Content: "m3"},
	}
	for _, m := range want {
		s.Append(ctx, "k", "s", m)
	}
	assert.Equal(t, want, s.Load(ctx, "k", "s"))
	assert.True(t, s.Exists("k", "s"))

	s.Clear(ctx, "k", "s")
	assert.Empty(t, s.Load(ctx, "k", "s"))
	assert.False(t, s.Exists("k", "s"))
}

func TestClear_AbsentIsNoop(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	s.Clear(context.Background(), "nothing", "here")
	assert.False(t, s.Exists("nothing", "here"))
}

func TestSave_Overwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "old"})
	s.Save(ctx, "k", "s", []Message{{Role: RoleUser, Content: "new"}})
	assert.Equal(t, []Message{{Role: RoleUser, Content: "new"}}, s.Load(ctx, "k", "s"))
}

func TestFileFormat_OmitsEmptySources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "hi"})
	s.Append(ctx, "k", "s", Message{Role: RoleAssistant, Content: "hello", Sources: []string{"ctx"}})

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "k_s_memory.json"))
	require.NoError(t, err)

	var generic []map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic, 2)
	assert.NotContains(t, generic[0], "sources")
	assert.Equal(t, []any{"ctx"}, generic[1]["sources"])
	assert.Contains(t, string(raw), "\n  {", "record is indented")
}

func TestLoad_CorruptIsEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), FileName("k", "s")), []byte("{not json"), 0o600))
	assert.Empty(t, s.Load(context.Background(), "k", "s"))
}

func TestAppend_CorruptRecordSetAside(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	corrupt := []byte("{not json")
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), FileName("k", "s")), corrupt, 0o600))

	s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "hi"})

	kept, err := filepath.Glob(filepath.Join(s.Dir(), FileName("k", "s")+".*"+corruptSuffix))
	require.NoError(t, err)
	require.Len(t, kept, 1)
	raw, err := os.ReadFile(kept[0])
	require.NoError(t, err)
	assert.Equal(t, corrupt, raw)

	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, s.Load(ctx, "k", "s"))
}

func TestAppend_HealthyRecordNotSetAside(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "a"})
	s.Append(ctx, "k", "s", Message{Role: RoleAssistant, Content: "b"})

	kept, err := filepath.Glob(filepath.Join(s.Dir(), "*"+corruptSuffix))
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	s.Append(ctx, "k", "s1", Message{Role: RoleUser, Content: "one"})
	s.Append(ctx, "k", "s2", Message{Role: RoleUser, Content: "two"})
	assert.NotEqual(t, s.Load(ctx, "k", "s1"), s.Load(ctx, "k", "s2"))
	assert.Len(t, s.Load(ctx, "k", "s1"), 1)
}

func TestRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	for i := range 5 {
		s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: fmt.Sprint(i)})
	}
	got := s.Recent(ctx, "k", "s", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Content)
	assert.Equal(t, "4", got[1].Content)
	assert.Len(t, s.Recent(ctx, "k", "s", 10), 5)
	assert.Empty(t, s.Recent(ctx, "k", "s", 0))
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	st := s.Snapshot(ctx, "k", "s")
	assert.Equal(t, 0, st.Messages)
	assert.False(t, st.LastUpdated.IsZero())

	s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "q"})
	s.Append(ctx, "k", "s", Message{Role: RoleAssistant, Content: "a"})
	st = s.Snapshot(ctx, "k", "s")
	assert.Equal(t, State{Messages: 2, LastUpdated: st.LastUpdated, SessionID: "s", Collection: "k"}, st)
}

func TestAppend_ConcurrentWritersLoseNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: fmt.Sprint(i)})
		}()
	}
	wg.Wait()
	assert.Len(t, s.Load(ctx, "k", "s"), 20)
}

func TestAppend_WriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, os.RemoveAll(s.Dir()))

	assert.NotPanics(t, func() {
		s.Append(ctx, "k", "s", Message{Role: RoleUser, Content: "lost"})
	})
	assert.Empty(t, s.Load(ctx, "k", "s"))
}

func TestToSchema(t *testing.T) {
	t.Parallel()
	got := ToSchema([]Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a", Sources: []string{"x"}},
		{Role: "system", Content: "ignored"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, schema.User, got[0].Role)
	assert.Equal(t, "a", got[1].Content)
	assert.Equal(t, schema.Assistant, got[1].Role)
}
