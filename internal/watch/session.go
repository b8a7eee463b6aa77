package watch

import (
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// SessionObserver receives updates for one thread. Callbacks run on the
// scheduler loop and must not block; they may call back into the Registry,
// Session or Client.
type SessionObserver interface {
	CounterChanged(c Counter)
	RefreshStarted()
	// RefreshFinished reports the end of a check: nil on success or when the
	// thread turned out to be gone, ErrCanceled on cancellation, otherwise
	// the fetch error.
	RefreshFinished(err error)
}

// refreshIntent is a refresh buffered before the session is attached.
type refreshIntent int

const (
	intentNone refreshIntent = iota
	intentRefresh
	intentReload
)

// Session is a view's handle on one watched thread. A Session may be
// created and used before it is registered with a Registry; its intents are
// buffered and replayed on registration. Destroy must be called when the
// view goes away.
type Session struct {
	key threadkey.Key
	obs SessionObserver

	mu        stdsync.Mutex
	reg       *Registry
	destroyed bool

	pendingRefresh   refreshIntent
	pendingStaleHint time.Duration
	pendingExtracted bool
	pendingErase     bool

	// erasing is written on the loop and read by Refresh from any goroutine.
	erasing atomic.Bool
}

// NewSession creates an unattached session for key.
func NewSession(key threadkey.Key, obs SessionObserver) *Session {
	return &Session{key: key, obs: obs}
}

// Key returns the thread this session is bound to.
func (s *Session) Key() threadkey.Key {
	return s.key
}

// attach binds the session and replays buffered intents in order.
func (s *Session) attach(r *Registry) {
	s.mu.Lock()
	if s.reg != nil || s.destroyed {
		s.mu.Unlock()
		return
	}

	s.reg = r
	refresh, hint := s.pendingRefresh, s.pendingStaleHint
	extracted, erase := s.pendingExtracted, s.pendingErase
	s.pendingRefresh, s.pendingExtracted, s.pendingErase = intentNone, false, false
	s.mu.Unlock()

	r.post(func() {
		r.bindSession(s)

		if refresh != intentNone {
			r.sessionRefresh(s, refresh == intentReload, hint)
		}

		if extracted {
			r.notifyExtracted(s.key)
		}

		if erase {
			r.eraseStarted(s)
		}
	})
}

// registry returns the attached registry, or nil.
func (s *Session) registry() *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}

	return s.reg
}

// Refresh asks for a check of the thread. reload forces one; otherwise it
// starts only if the thread was not checked within staleHint (the current
// sweep interval when staleHint is zero). It reports whether a check is
// running or about to start. Before attachment the request is buffered and
// Refresh returns false.
func (s *Session) Refresh(reload bool, staleHint time.Duration) bool {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return false
	}

	r := s.reg
	if r == nil {
		if reload {
			s.pendingRefresh = intentReload
		} else if s.pendingRefresh == intentNone {
			s.pendingRefresh = intentRefresh
		}

		s.pendingStaleHint = staleHint
		s.mu.Unlock()

		return false
	}
	s.mu.Unlock()

	started := r.predictRefresh(s, reload, staleHint)
	r.post(func() { r.sessionRefresh(s, reload, staleHint) })

	return started
}

// NotifyExtracted marks every post as seen, clearing the new-post count.
func (s *Session) NotifyExtracted() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	r := s.reg
	if r == nil {
		s.pendingExtracted = true
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	r.post(func() { r.notifyExtracted(s.key) })
}

// NotifyEraseStarted blocks checks of the thread while the view rewrites
// its local copy, canceling any check in flight.
func (s *Session) NotifyEraseStarted() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	r := s.reg
	if r == nil {
		s.pendingErase = true
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	r.post(func() { r.eraseStarted(s) })
}

// NotifyEraseFinished lifts the block set by NotifyEraseStarted and queues
// a check.
func (s *Session) NotifyEraseFinished() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	r := s.reg
	if r == nil {
		s.pendingErase = false
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	r.post(func() { r.eraseFinished(s) })
}

// HasTask reports whether a check of the thread is running.
func (s *Session) HasTask() bool {
	r := s.registry()
	if r == nil {
		return false
	}

	return r.Counter(s.key).Running
}

// Destroy unregisters the session. Destroying the last session of a thread
// cancels its foreground check and removes the thread unless it is a
// watched favorite. Destroy is idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	s.destroyed = true
	r := s.reg
	s.mu.Unlock()

	if r != nil {
		r.post(func() { r.unbindSession(s) })
	}
}

// bindSession adds s to the session table, creating the item if needed,
// and queues a check.
func (r *Registry) bindSession(s *Session) {
	_, existed := r.items[s.key]
	r.sessions[s.key] = append(r.sessions[s.key], s)
	it := r.ensureItem(s.key)

	if existed {
		s.obs.CounterChanged(it.counter())
	}

	if it.task == nil {
		r.enqueue(it)
	}

	r.startNext()
}

// unbindSession removes s from the session table.
func (r *Registry) unbindSession(s *Session) {
	list := r.sessions[s.key]
	for i, other := range list {
		if other == s {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}

	if len(list) == 0 {
		delete(r.sessions, s.key)

		if it, ok := r.items[s.key]; ok && it.task != nil && it.task.class == classForeground {
			r.cancelTask(it)
		}
	} else {
		r.sessions[s.key] = list
	}

	r.removeIfUnused(s.key)
	r.startNext()
}

// predictRefresh answers Session.Refresh from the published view. It
// mirrors the decision sessionRefresh will make on the loop.
func (r *Registry) predictRefresh(s *Session, reload bool, staleHint time.Duration) bool {
	v, ok := r.viewOf(s.key)
	if ok && v.counter.Running {
		return true
	}

	if s.erasing.Load() || !r.sources.SourceWatchable(s.key.Source) {
		return false
	}

	if reload || !ok || !v.resolved {
		return true
	}

	if v.counter.Deleted {
		return false
	}

	probe := item{lastUpdate: v.lastUpdate}

	return probe.due(r.clock.Now(), r.staleInterval(staleHint))
}

// staleInterval returns hint, or the last computed sweep interval if hint
// is not set. Safe from any goroutine.
func (r *Registry) staleInterval(hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}

	return time.Duration(r.sweepInterval.Load())
}

// sessionRefresh runs a session refresh on the loop.
func (r *Registry) sessionRefresh(s *Session, reload bool, staleHint time.Duration) {
	it, ok := r.items[s.key]
	if !ok || it.task != nil {
		return
	}

	if !reload && it.resolved {
		interval := staleHint
		if interval <= 0 {
			interval = r.interval()
		}

		if it.deleted || !it.due(r.clock.Now(), interval) {
			return
		}
	}

	r.refreshForeground(s.key, reload)
}

// notifyExtracted clears the new-post count. A second call with nothing
// new neither persists nor emits. Before resolution the request is kept
// until the stored counters are loaded.
func (r *Registry) notifyExtracted(key threadkey.Key) {
	it, ok := r.items[key]
	if !ok {
		return
	}

	if !it.resolved {
		it.extractOnResolve = true
		return
	}

	if !it.markExtracted() {
		return
	}

	r.persist(it)
	r.emit(it)
}

func (r *Registry) eraseStarted(s *Session) {
	s.erasing.Store(true)

	if it, ok := r.items[s.key]; ok && it.task != nil {
		r.cancelTask(it)
	}

	r.startNext()
}

func (r *Registry) eraseFinished(s *Session) {
	if !s.erasing.Swap(false) {
		return
	}

	if it, ok := r.items[s.key]; ok && it.task == nil && !r.erasing(s.key) {
		r.enqueue(it)
	}

	r.startNext()
}
