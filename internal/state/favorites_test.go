package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// drain collects whatever events are buffered on ch without blocking.
func drain(ch <-chan FavoriteEvent) []FavoriteEvent {
	var out []FavoriteEvent

	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAddFavorite_PublishesAddedAndWatchEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := threadkey.MustParse("chan/b/7")

	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.AddFavorite(ctx, k, "title", true))

	assert.Equal(t, []FavoriteEvent{
		{Kind: FavoriteAdded, Key: k},
		{Kind: WatchEnabled, Key: k},
	}, drain(events))
}

func TestAddFavorite_ReaddUpdatesTitleOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := threadkey.MustParse("chan/b/7")

	require.NoError(t, s.AddFavorite(ctx, k, "old", false))

	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.AddFavorite(ctx, k, "new", true))
	assert.Empty(t, drain(events))

	favs, err := s.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "new", favs[0].Title)
	assert.False(t, favs[0].Watch)
}

func TestSetWatch_Transitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := threadkey.MustParse("chan/b/7")

	require.NoError(t, s.AddFavorite(ctx, k, "", false))

	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.SetWatch(ctx, k, true))
	require.NoError(t, s.SetWatch(ctx, k, true))
	require.NoError(t, s.SetWatch(ctx, k, false))

	assert.Equal(t, []FavoriteEvent{
		{Kind: WatchEnabled, Key: k},
		{Kind: WatchDisabled, Key: k},
	}, drain(events))
}

func TestSetWatch_NotFavorite(t *testing.T) {
	s := newTestStore(t)

	err := s.SetWatch(context.Background(), threadkey.MustParse("chan/b/1"), true)
	assert.ErrorIs(t, err, ErrNotFavorite)
}

func TestRemoveFavorite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := threadkey.MustParse("chan/b/7")

	require.NoError(t, s.AddFavorite(ctx, k, "", true))

	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.RemoveFavorite(ctx, k))
	assert.Equal(t, []FavoriteEvent{
		{Kind: WatchDisabled, Key: k},
		{Kind: FavoriteRemoved, Key: k},
	}, drain(events))

	ok, err := s.IsFavorite(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.RemoveFavorite(ctx, k), ErrNotFavorite)
}

func TestListFavorites_InsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	for i, raw := range []string{"chan/z/1", "chan/a/1"} {
		s.nowFunc = fixedNow(base.Add(time.Duration(i) * time.Second))
		require.NoError(t, s.AddFavorite(ctx, threadkey.MustParse(raw), raw, i == 0))
	}

	favs, err := s.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 2)
	assert.Equal(t, "chan/z/1", favs[0].Key.String())
	assert.True(t, favs[0].Watch)
	assert.Equal(t, "chan/a/1", favs[1].Key.String())
	assert.True(t, favs[1].AddedAt.Equal(base.Add(time.Second)))
}

func TestReconcile_SeesExternalWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := threadkey.MustParse("chan/b/9")

	events, cancel := s.Subscribe()
	defer cancel()

	// Simulate another process writing the table directly.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (source, board, thread, title, watch, added_at) VALUES (?, ?, ?, '', 1, 0)`,
		k.Source, k.Board, k.Thread)
	require.NoError(t, err)

	require.NoError(t, s.Reconcile(ctx))
	assert.Equal(t, []FavoriteEvent{
		{Kind: FavoriteAdded, Key: k},
		{Kind: WatchEnabled, Key: k},
	}, drain(events))

	// A second reconcile with no change publishes nothing.
	require.NoError(t, s.Reconcile(ctx))
	assert.Empty(t, drain(events))
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events, cancel := s.Subscribe()
	cancel()
	cancel() // idempotent

	require.NoError(t, s.AddFavorite(ctx, threadkey.MustParse("chan/b/1"), "", true))
	assert.Empty(t, drain(events))
}

func TestDiffFavorites(t *testing.T) {
	a := threadkey.MustParse("s/b/1")
	b := threadkey.MustParse("s/b/2")
	c := threadkey.MustParse("s/b/3")

	old := map[threadkey.Key]bool{a: true, b: false}
	current := map[threadkey.Key]bool{b: true, c: false}

	got := diffFavorites(old, current)
	assert.ElementsMatch(t, []FavoriteEvent{
		{Kind: WatchEnabled, Key: b},
		{Kind: FavoriteAdded, Key: c},
		{Kind: WatchDisabled, Key: a},
		{Kind: FavoriteRemoved, Key: a},
	}, got)
}

func TestFavoriteEventKind_String(t *testing.T) {
	assert.Equal(t, "added", FavoriteAdded.String())
	assert.Equal(t, "watch_disabled", WatchDisabled.String())
	assert.Equal(t, "FavoriteEventKind(42)", FavoriteEventKind(42).String())
}
