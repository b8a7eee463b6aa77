package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
	"github.com/Mishiranu/threadwatch/internal/watch"
)

var testKey = threadkey.MustParse("test/g/100")

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// staticSources resolves every source name to one base URL.
type staticSources string

func (s staticSources) SourceByName(name string) (config.Source, bool) {
	if name != "test" {
		return config.Source{}, false
	}

	return config.Source{Name: name, BaseURL: string(s), Watch: true}, true
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps and no rate limit.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(staticSources(url), Options{
		ConnectTimeout: 5 * time.Second,
		DataTimeout:    5 * time.Second,
		UserAgent:      "threadwatch-test",
	}, testLogger(t))
	c.sleepFunc = noopSleep

	return c
}

func threadJSON(posts ...int64) string {
	body := `{"posts":[`
	for i, no := range posts {
		if i > 0 {
			body += ","
		}

		body += fmt.Sprintf(`{"no":%d,"com":"x"}`, no)
	}

	return body + `]}`
}

func TestFetch_CountsPostsAfterSeen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/g/thread/100.json", r.URL.Path)
		assert.Equal(t, "threadwatch-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, threadJSON(100, 101, 105, 110))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	res, err := c.Fetch(t.Context(), watch.FetchRequest{Key: testKey, SeenPost: 101})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewCount)
	assert.Equal(t, int64(110), res.LatestPost)
	assert.Empty(t, res.Redirect)
}

func TestFetch_NoMarkerCountsNothing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, threadJSON(100, 101))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, int64(101), res.LatestPost)
}

func TestFetch_GoneStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
			require.Error(t, err)
			assert.ErrorIs(t, err, watch.ErrThreadGone)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, code, httpErr.StatusCode)
		})
	}
}

func TestFetch_RedirectReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/g/thread/100.json" {
			t.Errorf("redirect was followed to %s", r.URL.Path)
		}

		http.Redirect(w, r, "/g/thread/200.json", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/g/thread/200.json", res.Redirect)
}

func TestFetch_RetryOn5xx(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		fmt.Fprint(w, threadJSON(1))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LatestPost)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_MaxRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "down for maintenance")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.NotErrorIs(t, err, watch.ErrThreadGone)
	assert.Contains(t, err.Error(), "down for maintenance")
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestFetch_NoRetryOn4xx(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RetryAfterHonored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		fmt.Fprint(w, threadJSON(5))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := c.Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
}

func TestFetch_ConditionalRequest(t *testing.T) {
	t.Parallel()

	const stamp = "Wed, 21 Oct 2026 07:28:00 GMT"

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		switch n {
		case 1:
			assert.Empty(t, r.Header.Get("If-Modified-Since"))
			w.Header().Set("Last-Modified", stamp)
			fmt.Fprint(w, threadJSON(10, 11, 12))
		case 2:
			assert.Equal(t, stamp, r.Header.Get("If-Modified-Since"))
			w.WriteHeader(http.StatusNotModified)
		default:
			assert.Empty(t, r.Header.Get("If-Modified-Since"), "reload bypasses the cache")
			assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
			fmt.Fprint(w, threadJSON(10, 11, 12, 13))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.NoError(t, err)

	res, err := c.Fetch(t.Context(), watch.FetchRequest{Key: testKey, SeenPost: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewCount, "answered from the cached copy")
	assert.Equal(t, int64(12), res.LatestPost)

	res, err = c.Fetch(t.Context(), watch.FetchRequest{Key: testKey, SeenPost: 10, Reload: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.NewCount)
}

func TestFetch_UnknownSource(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://127.0.0.1:1")

	_, err := c.Fetch(t.Context(), watch.FetchRequest{Key: threadkey.MustParse("other/g/1")})
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestFetch_MalformedDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"posts":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(t.Context(), watch.FetchRequest{Key: testKey})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFetch_ContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)

	go func() {
		_, err := newTestClient(t, srv.URL).Fetch(ctx, watch.FetchRequest{Key: testKey})
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not honor cancellation")
	}
}

func TestHTTPError_ErrorsIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &HTTPError{StatusCode: 429, URL: "u", Err: ErrThrottled})
	assert.True(t, errors.Is(err, ErrThrottled))
	assert.Equal(t, "fetch: HTTP 429 from u", (&HTTPError{StatusCode: 429, URL: "u"}).Error())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrGone},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusGatewayTimeout, ErrServerError},
		{http.StatusTeapot, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestCalcBackoff_MaxCap(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://127.0.0.1:1")

	for range 20 {
		b := c.calcBackoff(30)
		assert.LessOrEqual(t, b, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
		assert.GreaterOrEqual(t, b, time.Duration(float64(maxBackoff)*(1-jitterFraction)))
	}
}

func TestThreadURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://a.example/api/g/thread/5.json",
		ThreadURL("https://a.example/api/", threadkey.New("a", "g", "5")))
}

func TestCountPosts(t *testing.T) {
	t.Parallel()

	res := countPosts([]int64{3, 9, 4}, 3)
	assert.Equal(t, 2, res.NewCount)
	assert.Equal(t, int64(9), res.LatestPost)
}
