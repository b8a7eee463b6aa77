package watch

import (
	"context"
	"errors"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// Sentinel errors surfaced to observers and fetchers.
var (
	// ErrCanceled is delivered to sessions when an in-flight check is
	// cancelled by the scheduler (erase started, last session closed,
	// thread no longer watched).
	ErrCanceled = errors.New("watch: check canceled")

	// ErrThreadGone is returned by a Fetcher when the remote thread no
	// longer exists. It is terminal for the thread's watch.
	ErrThreadGone = errors.New("watch: thread is gone")
)

// CounterStore loads and saves persisted thread counters.
type CounterStore interface {
	LoadCounters(ctx context.Context, keys []threadkey.Key) (map[threadkey.Key]state.Counter, error)
	SaveCounter(ctx context.Context, c state.Counter) error
}

// FavoriteStore is the favorites collaborator: the startup query of
// watch-enabled threads, the observer stream, and watch auto-disable.
type FavoriteStore interface {
	WatchedThreads(ctx context.Context) ([]threadkey.Key, error)
	Subscribe() (<-chan state.FavoriteEvent, func())
	SetWatch(ctx context.Context, key threadkey.Key, watch bool) error
}

// FetchRequest describes one re-check of a thread.
type FetchRequest struct {
	Key      threadkey.Key
	Reload   bool  // bypass any caching in the fetcher
	SeenPost int64 // last post the user has seen; 0 if unknown
}

// FetchResult is the outcome of a completed fetch. A non-empty Redirect
// means the thread moved; the scheduler treats it as gone.
type FetchResult struct {
	NewCount   int
	LatestPost int64
	Redirect   string
}

// Fetcher performs the network re-check of one thread. Fetch must honor
// ctx cancellation promptly. Failures are reported as errors; a thread
// that no longer exists is reported with an error wrapping ErrThreadGone.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Prefs supplies the current scheduler preferences. It is read on every
// sweep so reloaded preferences take effect without a restart.
type Prefs interface {
	Preferences() config.Preferences
}

// Sources reports whether threads of a source may be re-checked.
type Sources interface {
	SourceWatchable(name string) bool
}

// NetworkProbe reports whether the current connection is wifi (or another
// unmetered link).
type NetworkProbe interface {
	OnWifi() bool
}
