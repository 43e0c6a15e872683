package marks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/threadline/internal/state"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "marks"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTemp(t)
	key := state.Key{Entity: "p1", Field: state.FieldLikes}

	m, err := FromValue(key, "like", state.NewUserSet("me"), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Put(m))

	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value().Equal(state.NewUserSet("me")))
	assert.Equal(t, "like", got.Action)

	require.NoError(t, s.Delete(key))
	_, ok, err = s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(key))
}

func TestStore_ListSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "marks")
	s, err := Open(dir)
	require.NoError(t, err)

	r := state.Reactions{Likes: state.NewUserSet("b"), Dislikes: state.NewUserSet("c")}
	m1, err := FromValue(state.Key{Entity: "c1", Field: state.FieldReactions}, "comment_like", r, time.Now())
	require.NoError(t, err)
	m2, err := FromValue(state.Key{Entity: "p1", Field: state.FieldLikes}, "like", state.NewUserSet(), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Put(m1))
	require.NoError(t, s.Put(m2))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, state.EntityID("c1"), all[0].Entity)
	assert.True(t, all[0].Value().Equal(r))
	assert.Equal(t, state.EntityID("p1"), all[1].Entity)
}

func TestFromValue_RejectsUnsupported(t *testing.T) {
	_, err := FromValue(state.Key{Entity: "c1", Field: state.FieldBody}, "edit", state.CommentBody{Content: "x"}, time.Now())
	assert.Error(t, err)
}
