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

// SQL statements for counter operations.
const (
	sqlGetCounter = `SELECT new_count, deleted, error, seen_post, latest_post, checked_at
		FROM counters WHERE source = ? AND board = ? AND thread = ?`

	sqlListCounters = `SELECT source, board, thread, new_count, deleted, error,
		seen_post, latest_post, checked_at
		FROM counters ORDER BY source, board, thread`

	sqlUpsertCounter = `INSERT INTO counters
		(source, board, thread, new_count, deleted, error, seen_post, latest_post, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, board, thread) DO UPDATE SET
		 new_count = excluded.new_count,
		 deleted = excluded.deleted,
		 error = excluded.error,
		 seen_post = excluded.seen_post,
		 latest_post = excluded.latest_post,
		 checked_at = excluded.checked_at`

	sqlPruneCounters = `DELETE FROM counters
		WHERE checked_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM favorites f
			WHERE f.source = counters.source AND f.board = counters.board AND f.thread = counters.thread
		)`
)

// Counter is the persisted progress record of one thread.
type Counter struct {
	Key        threadkey.Key
	NewCount   int
	Deleted    bool
	Error      bool
	SeenPost   int64     // last post the user has seen
	LatestPost int64     // newest post observed by the last check
	CheckedAt  time.Time // zero if the thread was never checked
}

// LoadCounters reads the counters for keys in one read transaction. Keys
// without a row are absent from the result; callers treat them as never
// checked.
func (s *Store) LoadCounters(ctx context.Context, keys []threadkey.Key) (map[threadkey.Key]Counter, error) {
	out := make(map[threadkey.Key]Counter, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("state: beginning counter load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only; rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, sqlGetCounter)
	if err != nil {
		return nil, fmt.Errorf("state: preparing counter load: %w", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		c := Counter{Key: k}

		var deleted, errFlag int
		var checked int64

		err := stmt.QueryRowContext(ctx, k.Source, k.Board, k.Thread).Scan(
			&c.NewCount, &deleted, &errFlag, &c.SeenPost, &c.LatestPost, &checked,
		)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("state: loading counter %s: %w", k, err)
		}

		c.Deleted = deleted != 0
		c.Error = errFlag != 0
		c.CheckedAt = timeOrZero(checked)
		out[k] = c
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("state: finishing counter load: %w", err)
	}

	s.logger.Debug("counters loaded",
		slog.Int("requested", len(keys)),
		slog.Int("found", len(out)),
	)

	return out, nil
}

// SaveCounter upserts one counter row.
func (s *Store) SaveCounter(ctx context.Context, c Counter) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertCounter,
		c.Key.Source, c.Key.Board, c.Key.Thread,
		c.NewCount, boolToInt(c.Deleted), boolToInt(c.Error),
		c.SeenPost, c.LatestPost, unixOrZero(c.CheckedAt),
	)
	if err != nil {
		return fmt.Errorf("state: saving counter %s: %w", c.Key, err)
	}

	return nil
}

// ListCounters returns every persisted counter ordered by key.
func (s *Store) ListCounters(ctx context.Context) ([]Counter, error) {
	rows, err := s.db.QueryContext(ctx, sqlListCounters)
	if err != nil {
		return nil, fmt.Errorf("state: listing counters: %w", err)
	}
	defer rows.Close()

	var out []Counter

	for rows.Next() {
		var (
			c                 Counter
			source, board, th string
			deleted, errFlag  int
			checked           int64
		)

		if err := rows.Scan(&source, &board, &th, &c.NewCount, &deleted, &errFlag,
			&c.SeenPost, &c.LatestPost, &checked); err != nil {
			return nil, fmt.Errorf("state: scanning counter row: %w", err)
		}

		c.Key = threadkey.Key{Source: source, Board: board, Thread: th}
		c.Deleted = deleted != 0
		c.Error = errFlag != 0
		c.CheckedAt = timeOrZero(checked)
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating counter rows: %w", err)
	}

	return out, nil
}

// PruneCounters deletes counters of threads that are not favorites and
// were last checked more than maxAge ago. Returns the number of rows removed.
func (s *Store) PruneCounters(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-maxAge)

	res, err := s.db.ExecContext(ctx, sqlPruneCounters, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("state: pruning counters: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("state: pruning counters: %w", err)
	}

	return n, nil
}
