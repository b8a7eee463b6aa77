package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// startNext walks the enqueued list oldest-first and starts every item the
// pools can admit, then makes sure the periodic timer is armed. It runs
// after every state-changing event.
func (r *Registry) startNext() {
	sort.SliceStable(r.enqueued, func(i, j int) bool {
		return r.enqueued[i].lastUpdate.Before(r.enqueued[j].lastUpdate)
	})

	kept := make([]*item, 0, len(r.enqueued))

	for _, it := range r.enqueued {
		if it.state != stateEnqueued {
			it.queued = false
			continue
		}

		if it.task != nil || !it.resolved {
			kept = append(kept, it)
			continue
		}

		class, ok := r.classify(it)
		if !ok {
			it.queued = false
			it.state = stateIdle
			it.pendingReload = false
			it.forceForeground = false
			r.emit(it)

			continue
		}

		if r.pools[class].available() {
			r.startTask(it, class)
		}

		kept = append(kept, it)
	}

	r.enqueued = kept

	// Items waiting on resolution or a pool slot stay queued; that must not
	// hold back sweeps of everything else.
	r.armTimer()
}

// classify returns the pool an item should run in, or false if the item
// is not eligible for dispatch at all.
func (r *Registry) classify(it *item) (poolClass, bool) {
	if !r.sources.SourceWatchable(it.key.Source) || r.erasing(it.key) {
		return 0, false
	}

	if it.forceForeground || len(r.sessions[it.key]) > 0 {
		return classForeground, true
	}

	if !r.watched[it.key] {
		return 0, false
	}

	for _, cl := range r.clients {
		if cl.hint != "" && cl.hint == it.key.Source {
			return classPriority, true
		}
	}

	return classBackground, true
}

// erasing reports whether any session bound to key is rewriting its view.
func (r *Registry) erasing(key threadkey.Key) bool {
	for _, s := range r.sessions[key] {
		if s.erasing.Load() {
			return true
		}
	}

	return false
}

// startTask admits the item into the class pool and launches its fetch.
func (r *Registry) startTask(it *item, class poolClass) {
	if it.task != nil {
		panic(fmt.Sprintf("watch: dispatching %s with a check already in flight", it.key))
	}

	r.pools[class].acquire()

	ctx, cancel := context.WithCancel(r.runCtx)
	t := &task{class: class, cancel: cancel}
	it.task = t

	req := FetchRequest{Key: it.key, Reload: it.pendingReload, SeenPost: it.seenPost}
	it.pendingReload = false
	it.forceForeground = false

	r.logger.Debug("check started",
		slog.String("thread", it.key.String()),
		slog.String("pool", class.String()),
		slog.Bool("reload", req.Reload),
	)

	r.tasks.Add(1)

	go func() {
		defer r.tasks.Done()
		defer cancel()

		res, err := r.safeFetch(ctx, req)
		r.post(func() { r.complete(it, t, res, err) })
	}()

	r.emit(it)

	for _, s := range snapshot(r.sessions[it.key]) {
		s.obs.RefreshStarted()
	}
}

// safeFetch wraps the fetcher with panic recovery so one misbehaving fetch
// cannot take down the daemon.
func (r *Registry) safeFetch(ctx context.Context, req FetchRequest) (res FetchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("check panicked",
				slog.String("thread", req.Key.String()),
				slog.Any("panic", p),
			)

			err = fmt.Errorf("watch: fetch panic: %v", p)
		}
	}()

	return r.fetcher.Fetch(ctx, req)
}

// complete applies a fetch outcome. Completions of tasks that were
// canceled (or of items that were removed) are ignored: their slot was
// already released.
func (r *Registry) complete(it *item, t *task, res FetchResult, err error) {
	if it.task != t || r.items[it.key] != it {
		return
	}

	r.pools[t.class].release()
	it.task = nil
	it.state = stateIdle
	it.lastUpdate = r.clock.Now()

	gone := (err == nil && res.Redirect != "") || errors.Is(err, ErrThreadGone)

	switch {
	case gone:
		it.deleted = true
		it.failed = false

		r.logger.Info("thread gone, disabling watch",
			slog.String("thread", it.key.String()),
			slog.String("redirect", res.Redirect),
		)

		r.autoDisable(it.key)

	case err != nil:
		it.failed = true

		r.logger.Warn("check failed",
			slog.String("thread", it.key.String()),
			slog.String("error", err.Error()),
		)

	default:
		it.newCount = res.NewCount
		it.latestPost = res.LatestPost
		it.deleted = false
		it.failed = false

		if it.seenPost == 0 {
			it.seenPost = res.LatestPost
		}

		r.logger.Debug("check finished",
			slog.String("thread", it.key.String()),
			slog.Int("new_count", it.newCount),
		)
	}

	r.persist(it)
	r.emit(it)

	finished := err
	if gone {
		finished = nil
	}

	for _, s := range snapshot(r.sessions[it.key]) {
		s.obs.RefreshFinished(finished)
	}

	r.removeIfUnused(it.key)
	r.startNext()
}

// cancelTask signals the item's fetch and releases its slot immediately.
// Canceled checks are not retried.
func (r *Registry) cancelTask(it *item) {
	t := it.task
	if t == nil {
		return
	}

	t.cancel()
	r.pools[t.class].release()
	it.task = nil
	it.state = stateIdle

	r.logger.Debug("check canceled",
		slog.String("thread", it.key.String()),
		slog.String("pool", t.class.String()),
	)

	r.emit(it)

	for _, s := range snapshot(r.sessions[it.key]) {
		s.obs.RefreshFinished(ErrCanceled)
	}
}

// autoDisable turns off watching for a thread that no longer exists. The
// local watch set is updated at once; the store update runs in the
// background and comes back as an idempotent WatchDisabled event.
func (r *Registry) autoDisable(key threadkey.Key) {
	if !r.watched[key] {
		return
	}

	delete(r.watched, key)

	r.tasks.Add(1)

	go func() {
		defer r.tasks.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.runCtx), setWatchTimeout)
		defer cancel()

		if err := r.favorites.SetWatch(ctx, key, false); err != nil {
			r.logger.Warn("disabling watch failed",
				slog.String("thread", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// refreshAll sweeps the items of one source (or all).
func (r *Registry) refreshAll(filter string, forceNetwork, forceNow bool) {
	gated := !forceNetwork && r.networkGated()
	interval := r.interval()
	now := r.clock.Now()

	for _, it := range r.items {
		if filter != "" && it.key.Source != filter {
			continue
		}

		r.sweepItem(it, gated, forceNow, now, interval)
	}

	r.startNext()
}

// sweepItem applies the per-item staleness gate under a sweep.
func (r *Registry) sweepItem(it *item, gated, forceNow bool, now time.Time, interval time.Duration) {
	if it.task != nil || it.state == stateEnqueued || !it.resolved || it.deleted {
		return
	}

	if _, ok := r.classify(it); !ok {
		return
	}

	if gated {
		if it.state != stateUnavailable {
			it.state = stateUnavailable
			r.emit(it)
		}

		return
	}

	if it.state == stateUnavailable {
		it.state = stateIdle
		r.emit(it)
	}

	if forceNow || it.due(now, interval) {
		r.enqueue(it)
	}
}

// networkGated reports whether the wifi-only preference blocks sweeps.
func (r *Registry) networkGated() bool {
	return r.prefs.Preferences().WifiOnly && !r.network.OnWifi()
}

// refreshForeground enqueues key for an immediate check in the foreground
// pool, whether or not a session has it open.
func (r *Registry) refreshForeground(key threadkey.Key, reload bool) {
	it, ok := r.items[key]
	if !ok || it.task != nil {
		return
	}

	if reload {
		it.pendingReload = true
	}

	it.forceForeground = true

	r.enqueue(it)
	r.startNext()
}
