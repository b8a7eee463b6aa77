package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// SQL statements for favorites operations.
const (
	sqlInsertFavorite = `INSERT INTO favorites (source, board, thread, title, watch, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, board, thread) DO UPDATE SET title = excluded.title`

	sqlDeleteFavorite = `DELETE FROM favorites WHERE source = ? AND board = ? AND thread = ?`

	sqlSetFavoriteWatch = `UPDATE favorites SET watch = ? WHERE source = ? AND board = ? AND thread = ?`

	sqlListFavorites = `SELECT source, board, thread, title, watch, added_at
		FROM favorites ORDER BY added_at, source, board, thread`

	sqlFavoriteWatchMap = `SELECT source, board, thread, watch FROM favorites`
)

// ErrNotFavorite is returned when an operation targets a thread that is not
// in the favorites table.
var ErrNotFavorite = errors.New("state: thread is not a favorite")

// FavoriteEventKind classifies a favorites change.
type FavoriteEventKind int

// Favorites change kinds.
const (
	FavoriteAdded FavoriteEventKind = iota
	FavoriteRemoved
	WatchEnabled
	WatchDisabled
)

func (k FavoriteEventKind) String() string {
	switch k {
	case FavoriteAdded:
		return "added"
	case FavoriteRemoved:
		return "removed"
	case WatchEnabled:
		return "watch_enabled"
	case WatchDisabled:
		return "watch_disabled"
	default:
		return fmt.Sprintf("FavoriteEventKind(%d)", int(k))
	}
}

// FavoriteEvent is one entry of the favorites observer stream.
type FavoriteEvent struct {
	Kind FavoriteEventKind
	Key  threadkey.Key
}

// Favorite is one bookmarked thread.
type Favorite struct {
	Key     threadkey.Key
	Title   string
	Watch   bool
	AddedAt time.Time
}

// AddFavorite bookmarks a thread. A new favorite starts with watch enabled
// when watch is true. Re-adding an existing favorite only updates its title.
func (s *Store) AddFavorite(ctx context.Context, key threadkey.Key, title string, watch bool) error {
	if _, err := s.db.ExecContext(ctx, sqlInsertFavorite,
		key.Source, key.Board, key.Thread, title, boolToInt(watch), s.nowFunc().UnixNano(),
	); err != nil {
		return fmt.Errorf("state: adding favorite %s: %w", key, err)
	}

	return s.Reconcile(ctx)
}

// RemoveFavorite deletes a bookmark.
func (s *Store) RemoveFavorite(ctx context.Context, key threadkey.Key) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteFavorite, key.Source, key.Board, key.Thread)
	if err != nil {
		return fmt.Errorf("state: removing favorite %s: %w", key, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFavorite, key)
	}

	return s.Reconcile(ctx)
}

// SetWatch enables or disables periodic watching of a favorite.
func (s *Store) SetWatch(ctx context.Context, key threadkey.Key, watch bool) error {
	res, err := s.db.ExecContext(ctx, sqlSetFavoriteWatch, boolToInt(watch), key.Source, key.Board, key.Thread)
	if err != nil {
		return fmt.Errorf("state: setting watch for %s: %w", key, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFavorite, key)
	}

	return s.Reconcile(ctx)
}

// ListFavorites returns all favorites in insertion order.
func (s *Store) ListFavorites(ctx context.Context) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, sqlListFavorites)
	if err != nil {
		return nil, fmt.Errorf("state: listing favorites: %w", err)
	}
	defer rows.Close()

	var out []Favorite

	for rows.Next() {
		var (
			f                 Favorite
			source, board, th string
			watch             int
			added             int64
		)

		if err := rows.Scan(&source, &board, &th, &f.Title, &watch, &added); err != nil {
			return nil, fmt.Errorf("state: scanning favorite row: %w", err)
		}

		f.Key = threadkey.Key{Source: source, Board: board, Thread: th}
		f.Watch = watch != 0
		f.AddedAt = time.Unix(0, added)
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating favorite rows: %w", err)
	}

	return out, nil
}

// WatchedThreads returns the keys of all favorites with watching enabled.
func (s *Store) WatchedThreads(ctx context.Context) ([]threadkey.Key, error) {
	m, err := s.favoriteWatchMap(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]threadkey.Key, 0, len(m))
	for k, watch := range m {
		if watch {
			out = append(out, k)
		}
	}

	return out, nil
}

// Reconcile re-reads the favorites table and publishes the difference to
// the last published snapshot as events. Mutations made through this Store
// call it implicitly; the daemon also calls it when another process (the
// CLI) has changed the database.
func (s *Store) Reconcile(ctx context.Context) error {
	current, err := s.favoriteWatchMap(ctx)
	if err != nil {
		return err
	}

	s.knownMu.Lock()
	events := diffFavorites(s.known, current)
	s.known = current
	s.knownMu.Unlock()

	for _, ev := range events {
		s.logger.Debug("favorite changed",
			slog.String("thread", ev.Key.String()),
			slog.String("kind", ev.Kind.String()),
		)

		s.publish(ctx, ev)
	}

	return nil
}

// diffFavorites computes the events that turn old into current. A newly
// added favorite with watch enabled yields Added followed by WatchEnabled;
// a removed watched favorite yields WatchDisabled followed by Removed.
func diffFavorites(old, current map[threadkey.Key]bool) []FavoriteEvent {
	var events []FavoriteEvent

	for k, watch := range current {
		prev, existed := old[k]

		switch {
		case !existed:
			events = append(events, FavoriteEvent{Kind: FavoriteAdded, Key: k})
			if watch {
				events = append(events, FavoriteEvent{Kind: WatchEnabled, Key: k})
			}
		case watch && !prev:
			events = append(events, FavoriteEvent{Kind: WatchEnabled, Key: k})
		case !watch && prev:
			events = append(events, FavoriteEvent{Kind: WatchDisabled, Key: k})
		}
	}

	for k, watch := range old {
		if _, ok := current[k]; ok {
			continue
		}

		if watch {
			events = append(events, FavoriteEvent{Kind: WatchDisabled, Key: k})
		}

		events = append(events, FavoriteEvent{Kind: FavoriteRemoved, Key: k})
	}

	return events
}

func (s *Store) favoriteWatchMap(ctx context.Context) (map[threadkey.Key]bool, error) {
	rows, err := s.db.QueryContext(ctx, sqlFavoriteWatchMap)
	if err != nil {
		return nil, fmt.Errorf("state: reading favorites: %w", err)
	}
	defer rows.Close()

	out := make(map[threadkey.Key]bool)

	for rows.Next() {
		var (
			source, board, th string
			watch             int
		)

		if err := rows.Scan(&source, &board, &th, &watch); err != nil {
			return nil, fmt.Errorf("state: scanning favorite row: %w", err)
		}

		out[threadkey.Key{Source: source, Board: board, Thread: th}] = watch != 0
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating favorite rows: %w", err)
	}

	return out, nil
}

// IsFavorite reports whether key is bookmarked.
func (s *Store) IsFavorite(ctx context.Context, key threadkey.Key) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM favorites WHERE source = ? AND board = ? AND thread = ?`,
		key.Source, key.Board, key.Thread,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("state: checking favorite %s: %w", key, err)
	}

	return true, nil
}
