// Package watch implements the thread watch scheduler. A Registry keeps one
// item per thread that is either open in a Session or favorited with
// watching enabled, decides when each item is due for a re-check, admits
// checks into three worker pools (foreground, priority, background) in
// oldest-first order, and pushes the resulting counters to Sessions and
// Clients.
//
// All scheduler state is owned by a single loop goroutine started by Run.
// Public methods post closures to that loop and return immediately, so they
// are safe to call from any goroutine, including observer callbacks.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watch: registry already running")

const (
	// persistQueueSize bounds the counter write-back queue.
	persistQueueSize = 256
	// persistDrainTimeout bounds the final write-back at shutdown.
	persistDrainTimeout = 5 * time.Second
	// setWatchTimeout bounds the favorites update made by watch auto-disable.
	setWatchTimeout = 10 * time.Second
)

// Options holds the collaborators of a Registry. All fields are required
// except Logger.
type Options struct {
	Counters  CounterStore
	Favorites FavoriteStore
	Fetcher   Fetcher
	Prefs     Prefs
	Sources   Sources
	Network   NetworkProbe
	Logger    *slog.Logger
}

// view is the published, lock-protected copy of an item's observable
// state. It lets Counter, Session.Refresh and Session.HasTask answer from
// any goroutine without a round trip through the loop.
type view struct {
	counter    Counter
	resolved   bool
	lastUpdate time.Time
}

// Registry is the watch scheduler.
type Registry struct {
	counters  CounterStore
	favorites FavoriteStore
	fetcher   Fetcher
	prefs     Prefs
	sources   Sources
	network   NetworkProbe
	logger    *slog.Logger
	clock     clock

	started  atomic.Bool
	ready    chan struct{}
	loopDone chan struct{} // closed once the loop goroutine has shut down

	mboxMu  stdsync.Mutex
	mailbox []func()
	wake    chan struct{}

	pubMu stdsync.RWMutex
	pub   map[threadkey.Key]view

	persistQ chan state.Counter
	tasks    stdsync.WaitGroup

	// sweepInterval mirrors the last interval computed on the loop, in
	// nanoseconds, for Session.Refresh.
	sweepInterval atomic.Int64

	// Loop-owned state below.
	runCtx   context.Context
	items    map[threadkey.Key]*item
	enqueued []*item
	pools    [classCount]*pool
	sessions map[threadkey.Key][]*Session
	clients  []*Client
	watched  map[threadkey.Key]bool

	lastSweep     time.Time
	timer         stopper
	timerDeadline time.Time
	timerGen      uint64

	unresolved     []threadkey.Key
	resolving      bool
	resolveBackoff time.Duration
	resolveTimer   stopper
	resolveGen     uint64
}

// New creates a Registry. Worker pool capacities are read from the
// preferences once, here; interval and wifi settings are re-read on every
// sweep.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := opts.Prefs.Preferences()

	r := &Registry{
		counters:  opts.Counters,
		favorites: opts.Favorites,
		fetcher:   opts.Fetcher,
		prefs:     opts.Prefs,
		sources:   opts.Sources,
		network:   opts.Network,
		logger:    logger,
		clock:     realClock{},
		wake:      make(chan struct{}, 1),
		ready:     make(chan struct{}),
		loopDone:  make(chan struct{}),
		pub:       make(map[threadkey.Key]view),
		persistQ:  make(chan state.Counter, persistQueueSize),
		runCtx:    context.Background(),
		items:     make(map[threadkey.Key]*item),
		sessions:  make(map[threadkey.Key][]*Session),
		watched:   make(map[threadkey.Key]bool),
	}

	r.sweepInterval.Store(int64(max(p.RefreshInterval, p.BackgroundFloor)))

	r.pools[classForeground] = newPool(classForeground, 0)
	r.pools[classPriority] = newPool(classPriority, p.PriorityWorkers)
	r.pools[classBackground] = newPool(classBackground, p.BackgroundWorkers)

	return r
}

// Run loads the watch-enabled favorites, subscribes to favorites changes,
// and runs the scheduler loop until ctx is canceled. In-flight fetches are
// canceled and queued counter writes are flushed before Run returns.
func (r *Registry) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// Subscribe before the initial query so no change falls in between;
	// duplicate events are idempotent.
	events, unsubscribe := r.favorites.Subscribe()
	defer unsubscribe()

	watched, err := r.favorites.WatchedThreads(ctx)
	if err != nil {
		return fmt.Errorf("watch: loading watched threads: %w", err)
	}

	r.logger.Info("watch registry starting",
		slog.Int("watched_threads", len(watched)),
		slog.Int("priority_workers", r.pools[classPriority].capacity),
		slog.Int("background_workers", r.pools[classBackground].capacity),
	)

	g, gctx := errgroup.WithContext(ctx)

	// The loop goroutine has not started yet.
	r.runCtx = gctx
	r.lastSweep = r.clock.Now()

	r.post(func() {
		for _, k := range watched {
			r.watched[k] = true
			r.ensureItem(k)
		}

		r.startNext()
		close(r.ready)
	})

	g.Go(func() error {
		return r.forwardFavorites(gctx, events)
	})

	g.Go(func() error {
		return r.persistLoop(gctx)
	})

	g.Go(func() error {
		defer close(r.loopDone)

		err := r.loop(gctx)
		r.shutdown()

		return err
	})

	err = g.Wait()

	r.logger.Info("watch registry stopped")

	return err
}

// Ready is closed once the watch-enabled favorites loaded by Run have been
// registered with the scheduler.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// shutdown stops timers and waits for fetch goroutines. Called on the loop
// goroutine after the loop has exited.
func (r *Registry) shutdown() {
	if r.timer != nil {
		r.timer.Stop()
	}

	if r.resolveTimer != nil {
		r.resolveTimer.Stop()
	}

	for _, it := range r.items {
		if it.task != nil {
			it.task.cancel()
		}
	}

	r.tasks.Wait()
}

// forwardFavorites turns the favorites observer stream into loop events.
func (r *Registry) forwardFavorites(ctx context.Context, events <-chan state.FavoriteEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			r.post(func() { r.handleFavorite(ev) })
		}
	}
}

// Counter returns the current counter of key, or a disabled counter if the
// thread is not being watched.
func (r *Registry) Counter(key threadkey.Key) Counter {
	r.pubMu.RLock()
	defer r.pubMu.RUnlock()

	return r.pub[key].counter
}

// RefreshAll sweeps every item whose source equals filter (all items when
// filter is empty). forceNetwork ignores the wifi-only gate; forceNow
// enqueues resolved items regardless of their staleness.
func (r *Registry) RefreshAll(filter string, forceNetwork, forceNow bool) {
	r.post(func() { r.refreshAll(filter, forceNetwork, forceNow) })
}

// RefreshForeground dispatches key to the foreground pool right away,
// bypassing staleness and the priority and background capacities. It is a
// no-op for a thread that is neither open nor watched, or that is already
// being checked. reload is passed through to the fetcher.
func (r *Registry) RefreshForeground(key threadkey.Key, reload bool) {
	r.post(func() { r.refreshForeground(key, reload) })
}

// NotifyForeground re-arms the periodic timer so that a client that just
// became visible gets the foreground interval immediately.
func (r *Registry) NotifyForeground() {
	r.post(r.rearmTimer)
}

// PreferencesChanged re-evaluates the timer and the wifi-only gate after a
// configuration reload.
func (r *Registry) PreferencesChanged() {
	r.post(func() {
		r.rearmTimer()
		r.refreshAll("", false, false)
	})
}

// RegisterSession binds s to the registry. Intents buffered on s before
// this call are replayed in order: refresh, extracted, erase.
func (r *Registry) RegisterSession(s *Session) {
	s.attach(r)
}

// UnregisterSession unbinds s; equivalent to s.Destroy.
func (r *Registry) UnregisterSession(s *Session) {
	s.Destroy()
}

// ensureItem returns the item for key, creating it and requesting its
// resolution if absent.
func (r *Registry) ensureItem(key threadkey.Key) *item {
	if it, ok := r.items[key]; ok {
		return it
	}

	it := newItem(key)
	r.items[key] = it
	r.emit(it)
	r.requestResolve(key)

	r.logger.Debug("watch item created", slog.String("thread", key.String()))

	return it
}

// wanted reports whether an item for key must exist: it is open in a
// session or favorited with watching enabled.
func (r *Registry) wanted(key threadkey.Key) bool {
	return len(r.sessions[key]) > 0 || r.watched[key]
}

// removeIfUnused destroys the item for key once nothing wants it,
// canceling its in-flight check first.
func (r *Registry) removeIfUnused(key threadkey.Key) {
	it, ok := r.items[key]
	if !ok || r.wanted(key) {
		return
	}

	if it.task != nil {
		r.cancelTask(it)
	}

	it.state = stateIdle
	delete(r.items, key)
	r.drop(key)

	r.logger.Debug("watch item removed", slog.String("thread", key.String()))
}

// enqueue moves an item to Enqueued and into the dispatch list.
func (r *Registry) enqueue(it *item) {
	it.state = stateEnqueued

	if !it.queued {
		it.queued = true
		r.enqueued = append(r.enqueued, it)
	}

	r.emit(it)
}

// handleFavorite applies one favorites change.
func (r *Registry) handleFavorite(ev state.FavoriteEvent) {
	switch ev.Kind {
	case state.WatchEnabled:
		if r.watched[ev.Key] {
			return
		}

		r.watched[ev.Key] = true
		it := r.ensureItem(ev.Key)

		if it.task == nil {
			r.enqueue(it)
		}

		r.startNext()

	case state.WatchDisabled, state.FavoriteRemoved:
		if !r.watched[ev.Key] {
			return
		}

		delete(r.watched, ev.Key)

		// A running priority/background check belongs to the watch; a
		// foreground one belongs to the sessions and keeps running.
		if it, ok := r.items[ev.Key]; ok && it.task != nil && it.task.class != classForeground {
			r.cancelTask(it)
		}

		r.removeIfUnused(ev.Key)
		r.startNext()

	case state.FavoriteAdded:
		// Nothing to schedule until watching is enabled.
	}
}

// emit publishes the item's counter and pushes it to observers if it
// changed.
func (r *Registry) emit(it *item) {
	v := view{
		counter:    it.counter(),
		resolved:   it.resolved,
		lastUpdate: it.lastUpdate,
	}

	r.pubMu.Lock()
	old, existed := r.pub[it.key]
	r.pub[it.key] = v
	r.pubMu.Unlock()

	if existed && old.counter == v.counter {
		return
	}

	r.pushCounter(it.key, v.counter)
}

// drop unpublishes key and pushes a disabled counter.
func (r *Registry) drop(key threadkey.Key) {
	r.pubMu.Lock()
	delete(r.pub, key)
	r.pubMu.Unlock()

	r.pushCounter(key, Counter{})
}

func (r *Registry) pushCounter(key threadkey.Key, c Counter) {
	for _, cl := range snapshot(r.clients) {
		cl.obs.CounterChanged(key, c)
	}

	for _, s := range snapshot(r.sessions[key]) {
		s.obs.CounterChanged(c)
	}
}

// viewOf returns the published view of key.
func (r *Registry) viewOf(key threadkey.Key) (view, bool) {
	r.pubMu.RLock()
	defer r.pubMu.RUnlock()

	v, ok := r.pub[key]

	return v, ok
}
