package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID      string           `bson:"id"`
	Name    string           `bson:"name"`
	Tags    []string         `bson:"tags"`
	Counts  map[string]int   `bson:"counts"`
	Typing  map[string]int64 `bson:"typing"`
	Created *time.Time       `bson:"createdAt"`
}

func newTestStore(t *testing.T) (*MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryStore(clk), clk
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	ref := Doc("things", "a")

	require.NoError(t, s.Create(ctx, ref, testDoc{ID: "a", Name: "first"}, "createdAt"))

	err := s.Create(ctx, ref, testDoc{ID: "a"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	snap, err := s.Get(ctx, ref)
	require.NoError(t, err)

	var got testDoc
	require.NoError(t, snap.DataTo(&got))
	assert.Equal(t, "first", got.Name)
	require.NotNil(t, got.Created)
	assert.True(t, got.Created.Equal(clk.Now()))

	_, err = s.Get(ctx, Doc("things", "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_FieldUpdates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ref := Doc("things", "a")
	require.NoError(t, s.Create(ctx, ref, testDoc{ID: "a", Name: "first", Tags: []string{"x"}}))

	require.NoError(t, s.Update(ctx, ref,
		ArrayUnion("tags", "x", "y"),
		Increment("counts.u1", 2),
		Increment("counts.u1", 3),
		Set("typing.u1", int64(7)),
		Set("typing.u2", int64(8)),
	))
	require.NoError(t, s.Update(ctx, ref, DeleteField("typing.u1"), ArrayRemove("tags", "x")))

	snap, err := s.Get(ctx, ref)
	require.NoError(t, err)
	var got testDoc
	require.NoError(t, snap.DataTo(&got))

	assert.Equal(t, "first", got.Name, "untouched fields survive scoped updates")
	assert.Equal(t, []string{"y"}, got.Tags)
	assert.Equal(t, 5, got.Counts["u1"])
	assert.Equal(t, map[string]int64{"u2": 8}, got.Typing)
}

func TestMemoryStore_ArrayRemoveWhere(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ref := Doc("things", "a")
	require.NoError(t, s.Create(ctx, ref, map[string]interface{}{
		"members": []map[string]interface{}{
			{"userId": "u1", "name": "One"},
			{"muted": true, "userId": "u2", "name": "Two"},
			{"userId": "u2", "name": "Two again"},
		},
		"ids": []string{"u1", "u2"},
	}))

	require.NoError(t, s.Update(ctx, ref,
		ArrayRemoveWhere("members", "userId", "u2"),
		ArrayRemoveWhere("missing", "userId", "u2"),
	))
	err := s.Update(ctx, ref, ArrayRemoveWhere("members", "", "u1"))
	assert.Error(t, err)

	snap, err := s.Get(ctx, ref)
	require.NoError(t, err)
	members, ok := snap.Data["members"].([]interface{})
	require.True(t, ok)
	require.Len(t, members, 1)
	assert.Equal(t, "u1", members[0].(map[string]interface{})["userId"])
	assert.Equal(t, []interface{}{"u1", "u2"}, snap.Data["ids"], "other arrays untouched")
}

func TestMemoryStore_UpdateMissingDocument(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Update(context.Background(), Doc("things", "nope"), Set("name", "x"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_BatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Create(ctx, Doc("things", "a"), testDoc{ID: "a"}))

	err := s.BatchUpdate(ctx, []Write{
		{Ref: Doc("things", "a"), Updates: []Update{Set("name", "changed")}},
		{Ref: Doc("things", "missing"), Updates: []Update{Set("name", "x")}},
	})
	require.Error(t, err)

	snap, err := s.Get(ctx, Doc("things", "a"))
	require.NoError(t, err)
	assert.Equal(t, "", snap.Data["name"])
}

func TestMemoryStore_QueryFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		clk.Add(time.Second)
		require.NoError(t, s.Create(ctx, Doc("things", id), testDoc{ID: id, Name: "n-" + id, Tags: []string{"t-" + id}}, "createdAt"))
	}

	list, err := s.Query(ctx, NewQuery("things").Order("createdAt", false))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "a", "b"}, ids(list))

	list, err = s.Query(ctx, NewQuery("things").Order("createdAt", true).Take(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(list))

	list, err = s.Query(ctx, NewQuery("things").Where("tags", OpArrayContains, "t-a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(list))

	list, err = s.Query(ctx, NewQuery("things").Where("name", OpIn, []string{"n-a", "n-c"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(list))

	cutoff := clk.Now().Add(-time.Second)
	list, err = s.Query(ctx, NewQuery("things").Where("createdAt", OpLessEqual, cutoff))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(list))
}

func TestMemoryStore_WatchDeliversChangesAndDeletion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ref := Doc("things", "a")
	require.NoError(t, s.Create(ctx, ref, testDoc{ID: "a", Name: "first"}))

	var seen []*Snapshot
	unsubscribe, err := s.Watch(ctx, ref, func(snap *Snapshot) { seen = append(seen, snap) })
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, ref, Set("name", "second")))
	require.NoError(t, s.Delete(ctx, ref))

	require.Len(t, seen, 3)
	assert.Equal(t, "first", seen[0].Data["name"])
	assert.Equal(t, "second", seen[1].Data["name"])
	assert.False(t, seen[2].Exists)

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Create(ctx, ref, testDoc{ID: "a"}))
	assert.Len(t, seen, 3, "no callbacks after unsubscribe")
}

func TestMemoryStore_WatchQuery(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var last []*Snapshot
	calls := 0
	unsubscribe, err := s.WatchQuery(ctx, NewQuery("rooms/r1/chat"), func(list []*Snapshot) {
		calls++
		last = list
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Create(ctx, Doc("rooms/r1/chat", "m1"), testDoc{ID: "m1"}))
	require.NoError(t, s.Create(ctx, Doc("rooms/r2/chat", "m2"), testDoc{ID: "m2"}))

	assert.Equal(t, 2, calls, "initial snapshot plus one change in the watched collection")
	assert.Equal(t, []string{"m1"}, ids(last))
}

func ids(list []*Snapshot) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Ref.ID)
	}
	return out
}
