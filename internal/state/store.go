// Package state persists thread counters and favorites in a SQLite
// database. It implements the counter store consumed by the watch
// scheduler's resolve batches and the favorites store whose watch flags
// decide which threads are polled without an open session.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// stateDirPermissions is used when creating the database directory.
const stateDirPermissions = 0o700

// Store is the sole writer to the state database. Counter writes come from
// the scheduler's persister; favorite writes come from the CLI and from
// watch auto-disable.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests

	subsMu stdsync.Mutex
	subs   map[*subscription]struct{}

	// known is the last favorites snapshot published to subscribers. It is
	// the baseline Reconcile diffs against.
	knownMu stdsync.Mutex
	known   map[threadkey.Key]bool
}

// Open opens (creating if needed) the SQLite database at dbPath, runs
// migrations, and returns a ready-to-use store. The database uses WAL mode
// so the daemon and CLI commands can share it.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), stateDirPermissions); err != nil {
		return nil, fmt.Errorf("state: creating state directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
		subs:    make(map[*subscription]struct{}),
	}

	known, err := s.favoriteWatchMap(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.known = known

	logger.Info("state store initialized", slog.String("db_path", dbPath))

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func timeOrZero(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos)
}
