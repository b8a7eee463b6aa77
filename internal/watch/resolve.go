package watch

import (
	"log/slog"
	"time"

	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// Resolution retry backoff bounds.
const (
	resolveBackoffMin = 5 * time.Second
	resolveBackoffMax = 5 * time.Minute
)

// requestResolve queues key for counter loading.
func (r *Registry) requestResolve(key threadkey.Key) {
	r.unresolved = append(r.unresolved, key)
	r.startResolve()
}

// startResolve launches one resolve batch if none is running or waiting
// out a backoff.
func (r *Registry) startResolve() {
	if r.resolving || r.resolveTimer != nil {
		return
	}

	batchSize := max(r.prefs.Preferences().ResolveBatchSize, 1)

	var batch []threadkey.Key

	rest := r.unresolved[:0]

	for _, k := range r.unresolved {
		it, ok := r.items[k]
		if !ok || it.resolved {
			continue
		}

		if len(batch) < batchSize {
			batch = append(batch, k)
		} else {
			rest = append(rest, k)
		}
	}

	r.unresolved = rest

	if len(batch) == 0 {
		return
	}

	r.resolving = true
	ctx := r.runCtx

	r.tasks.Add(1)

	go func() {
		defer r.tasks.Done()

		loaded, err := r.counters.LoadCounters(ctx, batch)
		r.post(func() { r.resolveDone(batch, loaded, err) })
	}()
}

// resolveDone applies a finished batch. On failure the batch goes back to
// the front of the queue and is retried with exponential backoff; its items
// stay unresolved and are never dispatched meanwhile.
func (r *Registry) resolveDone(batch []threadkey.Key, loaded map[threadkey.Key]state.Counter, err error) {
	r.resolving = false

	if err != nil {
		r.resolveBackoff = nextBackoff(r.resolveBackoff)
		r.unresolved = append(batch, r.unresolved...)

		r.logger.Warn("resolving counters failed, retrying",
			slog.Int("threads", len(batch)),
			slog.Duration("backoff", r.resolveBackoff),
			slog.String("error", err.Error()),
		)

		r.resolveGen++
		gen := r.resolveGen

		r.resolveTimer = r.clock.AfterFunc(r.resolveBackoff, func() {
			r.post(func() { r.resolveRetry(gen) })
		})

		return
	}

	r.resolveBackoff = 0

	interval := r.interval()
	now := r.clock.Now()
	gated := r.networkGated()

	for _, k := range batch {
		it, ok := r.items[k]
		if !ok || it.resolved {
			continue
		}

		if c, found := loaded[k]; found {
			it.applyStored(c)
		}

		if it.extractOnResolve && it.markExtracted() {
			r.persist(it)
		}

		it.extractOnResolve = false
		it.resolved = true
		r.emit(it)

		// Items created from the startup query are idle; give them the
		// same staleness check a sweep would.
		r.sweepItem(it, gated, false, now, interval)
	}

	r.logger.Debug("counters resolved", slog.Int("threads", len(batch)))

	r.startResolve()
	r.startNext()
}

func (r *Registry) resolveRetry(gen uint64) {
	if gen != r.resolveGen {
		return
	}

	r.resolveTimer = nil
	r.startResolve()
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return resolveBackoffMin
	}

	return min(cur*2, resolveBackoffMax)
}
