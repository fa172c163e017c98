package registry

import (
	"testing"

	"github.com/rapidaai/sonju/internal/brokererr"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLookupRemove(t *testing.T) {
	r := New(nil)
	s := session.New("sonj_1")

	require.NoError(t, r.Insert(s))

	got, ok := r.Lookup("sonj_1")
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Remove("sonj_1")
	_, ok = r.Lookup("sonj_1")
	assert.False(t, ok)
}

func TestInsert_DuplicateFails(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Insert(session.New("sonj_1")))

	err := r.Insert(session.New("sonj_1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, brokererr.ErrAlreadyExists)
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	r := New(nil)
	r.Remove("does-not-exist")
	assert.Equal(t, 0, r.Len())
}

type fakeMirror struct {
	created []string
	removed []string
}

func (m *fakeMirror) SessionCreated(id string) { m.created = append(m.created, id) }
func (m *fakeMirror) SessionRemoved(id string) { m.removed = append(m.removed, id) }

func TestMirror_NotifiedOnLifecycle(t *testing.T) {
	mirror := &fakeMirror{}
	r := New(mirror)

	require.NoError(t, r.Insert(session.New("sonj_1")))
	r.Remove("sonj_1")

	assert.Equal(t, []string{"sonj_1"}, mirror.created)
	assert.Equal(t, []string{"sonj_1"}, mirror.removed)
}

func TestRange_VisitsAll(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Insert(session.New("a")))
	require.NoError(t, r.Insert(session.New("b")))

	seen := map[string]bool{}
	r.Range(func(s *session.Session) { seen[s.ID] = true })

	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}
