package watch

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

const testTimeout = 2 * time.Second

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// --- clock ---

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     stdsync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeStopper struct {
	c  *fakeClock
	ft *fakeTimer
}

func (s fakeStopper) Stop() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	was := !s.ft.stopped && !s.ft.fired
	s.ft.stopped = true

	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{at: c.now.Add(d), f: f}

	if d <= 0 {
		ft.fired = true
		go f()
	} else {
		c.timers = append(c.timers, ft)
	}

	return fakeStopper{c: c, ft: ft}
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer

	pending := c.timers[:0]
	for _, ft := range c.timers {
		switch {
		case ft.stopped:
		case !ft.at.After(c.now):
			ft.fired = true
			due = append(due, ft)
		default:
			pending = append(pending, ft)
		}
	}

	c.timers = pending
	c.mu.Unlock()

	for _, ft := range due {
		ft.f()
	}
}

// --- fetcher ---

type fetchCall struct {
	ctx    context.Context
	req    FetchRequest
	result chan fetchOutcome
}

type fetchOutcome struct {
	res FetchResult
	err error
}

func (c *fetchCall) succeed(newCount int, latest int64) {
	c.result <- fetchOutcome{res: FetchResult{NewCount: newCount, LatestPost: latest}}
}

func (c *fetchCall) redirect(target string) {
	c.result <- fetchOutcome{res: FetchResult{Redirect: target}}
}

func (c *fetchCall) fail(err error) {
	c.result <- fetchOutcome{err: err}
}

// fakeFetcher blocks every Fetch until the test completes the call.
type fakeFetcher struct {
	calls chan *fetchCall
	panic atomic.Bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan *fetchCall, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if f.panic.Load() {
		panic("fetcher exploded")
	}

	call := &fetchCall{ctx: ctx, req: req, result: make(chan fetchOutcome, 1)}
	f.calls <- call

	select {
	case out := <-call.result:
		return out.res, out.err
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	}
}

// --- counter store ---

type fakeCounters struct {
	mu        stdsync.Mutex
	stored    map[threadkey.Key]state.Counter
	saved     []state.Counter
	failLoads int
	loads     int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{stored: make(map[threadkey.Key]state.Counter)}
}

func (f *fakeCounters) put(c state.Counter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stored[c.Key] = c
}

func (f *fakeCounters) LoadCounters(_ context.Context, keys []threadkey.Key) (map[threadkey.Key]state.Counter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loads++

	if f.failLoads > 0 {
		f.failLoads--
		return nil, errors.New("database is locked")
	}

	out := make(map[threadkey.Key]state.Counter)

	for _, k := range keys {
		if c, ok := f.stored[k]; ok {
			out[k] = c
		}
	}

	return out, nil
}

func (f *fakeCounters) SaveCounter(_ context.Context, c state.Counter) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saved = append(f.saved, c)
	f.stored[c.Key] = c

	return nil
}

func (f *fakeCounters) lastSaved(key threadkey.Key) (state.Counter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].Key == key {
			return f.saved[i], true
		}
	}

	return state.Counter{}, false
}

func (f *fakeCounters) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loads
}

// --- favorites ---

type fakeFavorites struct {
	mu       stdsync.Mutex
	watched  []threadkey.Key
	disabled []threadkey.Key
	events   chan state.FavoriteEvent
}

func newFakeFavorites(watched ...threadkey.Key) *fakeFavorites {
	return &fakeFavorites{
		watched: watched,
		events:  make(chan state.FavoriteEvent, 64),
	}
}

func (f *fakeFavorites) WatchedThreads(context.Context) ([]threadkey.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]threadkey.Key(nil), f.watched...), nil
}

func (f *fakeFavorites) Subscribe() (<-chan state.FavoriteEvent, func()) {
	return f.events, func() {}
}

// SetWatch records the call and echoes the change on the event stream the
// way the sqlite store does.
func (f *fakeFavorites) SetWatch(_ context.Context, key threadkey.Key, watch bool) error {
	f.mu.Lock()
	if !watch {
		f.disabled = append(f.disabled, key)
	}
	f.mu.Unlock()

	kind := state.WatchEnabled
	if !watch {
		kind = state.WatchDisabled
	}

	f.events <- state.FavoriteEvent{Kind: kind, Key: key}

	return nil
}

func (f *fakeFavorites) disabledKeys() []threadkey.Key {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]threadkey.Key(nil), f.disabled...)
}

// --- preferences, sources, network ---

type fakePrefs struct {
	mu stdsync.Mutex
	p  config.Preferences
}

func (f *fakePrefs) Preferences() config.Preferences {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.p
}

func (f *fakePrefs) set(mut func(*config.Preferences)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mut(&f.p)
}

type fakeSources struct {
	mu       stdsync.Mutex
	disabled map[string]bool
}

func (f *fakeSources) SourceWatchable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.disabled[name]
}

type fakeNetwork struct {
	wifi atomic.Bool
}

func (f *fakeNetwork) OnWifi() bool { return f.wifi.Load() }

// --- observers ---

type recordingSession struct {
	mu       stdsync.Mutex
	counters []Counter
	started  int
	finished []error

	onCounter func(Counter)
}

func (r *recordingSession) CounterChanged(c Counter) {
	r.mu.Lock()
	r.counters = append(r.counters, c)
	hook := r.onCounter
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
}

func (r *recordingSession) RefreshStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started++
}

func (r *recordingSession) RefreshFinished(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = append(r.finished, err)
}

func (r *recordingSession) counterLog() []Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Counter(nil), r.counters...)
}

func (r *recordingSession) finishedLog() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]error(nil), r.finished...)
}

type recordingClient struct {
	foreground atomic.Bool

	mu       stdsync.Mutex
	counters map[threadkey.Key]Counter
	updates  int

	onCounter func(threadkey.Key, Counter)
}

func newRecordingClient() *recordingClient {
	return &recordingClient{counters: make(map[threadkey.Key]Counter)}
}

func (r *recordingClient) IsForeground() bool { return r.foreground.Load() }

func (r *recordingClient) CounterChanged(key threadkey.Key, c Counter) {
	r.mu.Lock()
	r.counters[key] = c
	r.updates++
	hook := r.onCounter
	r.mu.Unlock()

	if hook != nil {
		hook(key, c)
	}
}

func (r *recordingClient) last(key threadkey.Key) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters[key]
}

func (r *recordingClient) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updates
}

// --- harness ---

type harness struct {
	t         *testing.T
	reg       *Registry
	clock     *fakeClock
	fetcher   *fakeFetcher
	counters  *fakeCounters
	favorites *fakeFavorites
	prefs     *fakePrefs
	sources   *fakeSources
	network   *fakeNetwork
}

func defaultTestPrefs() config.Preferences {
	return config.Preferences{
		RefreshInterval:    15 * time.Minute,
		ForegroundInterval: time.Minute,
		BackgroundFloor:    10 * time.Minute,
		PriorityWorkers:    2,
		BackgroundWorkers:  3,
		ResolveBatchSize:   64,
	}
}

// newHarness builds a registry over fakes. mutPrefs adjusts the
// preferences before the registry reads its pool capacities. The registry
// is not running until start is called.
func newHarness(t *testing.T, favorites *fakeFavorites, mutPrefs func(*config.Preferences)) *harness {
	t.Helper()

	if favorites == nil {
		favorites = newFakeFavorites()
	}

	h := &harness{
		t:         t,
		clock:     newFakeClock(),
		fetcher:   newFakeFetcher(),
		counters:  newFakeCounters(),
		favorites: favorites,
		prefs:     &fakePrefs{p: defaultTestPrefs()},
		sources:   &fakeSources{disabled: make(map[string]bool)},
		network:   &fakeNetwork{},
	}

	h.network.wifi.Store(true)

	if mutPrefs != nil {
		h.prefs.set(mutPrefs)
	}

	h.reg = New(Options{
		Counters:  h.counters,
		Favorites: h.favorites,
		Fetcher:   h.fetcher,
		Prefs:     h.prefs,
		Sources:   h.sources,
		Network:   h.network,
		Logger:    testLogger(t),
	})
	h.reg.clock = h.clock

	return h
}

// start runs the registry until the test ends.
func (h *harness) start() {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.reg.Run(ctx) }()

	select {
	case <-h.reg.Ready():
	case err := <-done:
		h.t.Fatalf("Run returned early: %v", err)
	case <-time.After(testTimeout):
		h.t.Fatal("registry never became ready")
	}

	h.t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			assert.NoError(h.t, err)
		case <-time.After(5 * time.Second):
			h.t.Error("Run did not return after cancel")
		}
	})
}

func (h *harness) flush() {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(h.t, h.reg.Flush(ctx))
}

// inspect runs fn on the scheduler loop and waits for it.
func (h *harness) inspect(fn func()) {
	h.t.Helper()

	done := make(chan struct{})
	h.reg.post(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(testTimeout):
		h.t.Fatal("scheduler loop did not run inspection")
	}
}

// nextCall waits for the next fetch to start.
func (h *harness) nextCall() *fetchCall {
	h.t.Helper()

	select {
	case c := <-h.fetcher.calls:
		return c
	case <-time.After(testTimeout):
		h.t.Fatal("no fetch started")
		return nil
	}
}

// callsFor collects n fetches keyed by thread.
func (h *harness) callsFor(n int) map[threadkey.Key]*fetchCall {
	h.t.Helper()

	out := make(map[threadkey.Key]*fetchCall, n)
	for range n {
		c := h.nextCall()
		out[c.req.Key] = c
	}

	return out
}

// noCall asserts that no fetch starts once the loop is idle.
func (h *harness) noCall() {
	h.t.Helper()

	h.flush()
	// Resolve batches and completions hop through goroutines; give them a
	// moment to come back before declaring silence.
	time.Sleep(20 * time.Millisecond)
	h.flush()

	select {
	case c := <-h.fetcher.calls:
		h.t.Fatalf("unexpected fetch of %s", c.req.Key)
	default:
	}
}

// waitFor polls cond, flushing the loop between attempts.
func (h *harness) waitFor(cond func() bool, msg string) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		h.flush()
		return cond()
	}, testTimeout, 5*time.Millisecond, msg)
}

func (h *harness) inFlight(class poolClass) int {
	h.t.Helper()

	var n int
	h.inspect(func() { n = h.reg.pools[class].inFlight })

	return n
}

// resolved reports whether key has an item whose counters are loaded.
func (h *harness) resolved(key threadkey.Key) bool {
	h.t.Helper()

	var ok bool
	h.inspect(func() {
		it, exists := h.reg.items[key]
		ok = exists && it.resolved
	})

	return ok
}

// watching reports whether the scheduler considers key watch-enabled.
func (h *harness) watching(key threadkey.Key) bool {
	h.t.Helper()

	var ok bool
	h.inspect(func() { ok = h.reg.watched[key] })

	return ok
}

func (h *harness) itemState(key threadkey.Key) (itemState, bool) {
	h.t.Helper()

	var (
		st     itemState
		exists bool
	)

	h.inspect(func() {
		if it, ok := h.reg.items[key]; ok {
			st, exists = it.state, true
		}
	})

	return st, exists
}
