package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
	"github.com/Mishiranu/threadwatch/internal/watch"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Response size limits.
const (
	maxDocumentSize = 16 << 20
	maxErrorBody    = 512
)

// SourceResolver looks up a configured source by name. *config.Holder
// satisfies it, so reloaded base URLs apply to the next fetch.
type SourceResolver interface {
	SourceByName(name string) (config.Source, bool)
}

// Options configures the HTTP behavior of a Client.
type Options struct {
	ConnectTimeout    time.Duration
	DataTimeout       time.Duration
	UserAgent         string
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Burst             int
}

// OptionsFromConfig extracts the network settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	connect, data := cfg.Timeouts()

	return Options{
		ConnectTimeout:    connect,
		DataTimeout:       data,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// Client fetches thread documents. It is safe for concurrent use; the
// scheduler runs one Fetch per in-flight check.
type Client struct {
	sources    SourceResolver
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// cacheEntry remembers the last successful document of a thread so an
// unchanged thread can be answered from a 304.
type cacheEntry struct {
	lastModified string
	posts        []int64
}

// NewClient creates a Client. Redirects are never followed: a thread that
// moved is reported through FetchResult.Redirect.
func NewClient(sources SourceResolver, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	httpClient := &http.Client{
		Timeout: opts.ConnectTimeout + opts.DataTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.DataTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		sources:    sources,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, max(opts.Burst, 1)),
		userAgent:  opts.UserAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
		cache:      make(map[string]cacheEntry),
	}
}

// Compile-time interface check.
var _ watch.Fetcher = (*Client)(nil)

// Fetch re-checks one thread. A 404 or 410 is reported as an error
// wrapping watch.ErrThreadGone; a redirect is reported in the result.
func (c *Client) Fetch(ctx context.Context, req watch.FetchRequest) (watch.FetchResult, error) {
	src, ok := c.sources.SourceByName(req.Key.Source)
	if !ok {
		return watch.FetchResult{}, fmt.Errorf("%w: %q", ErrUnknownSource, req.Key.Source)
	}

	target := ThreadURL(src.BaseURL, req.Key)

	var cached cacheEntry
	if !req.Reload {
		cached = c.cached(target)
	}

	resp, err := c.get(ctx, target, req.Reload, cached.lastModified)
	if err != nil {
		if isGone(err) {
			c.forget(target)
			return watch.FetchResult{}, fmt.Errorf("%w: %w", watch.ErrThreadGone, err)
		}

		return watch.FetchResult{}, err
	}

	if resp.redirect != "" {
		c.forget(target)

		c.logger.Info("thread redirected",
			slog.String("thread", req.Key.String()),
			slog.String("location", resp.redirect),
		)

		return watch.FetchResult{Redirect: resp.redirect}, nil
	}

	posts := cached.posts

	if resp.notModified {
		if posts == nil {
			return watch.FetchResult{}, fmt.Errorf("%w: not modified without a cached copy", ErrMalformed)
		}
	} else {
		posts, err = parsePosts(resp.body)
		if err != nil {
			return watch.FetchResult{}, fmt.Errorf("fetch: %s: %w", req.Key, err)
		}

		c.remember(target, cacheEntry{lastModified: resp.lastModified, posts: posts})
	}

	res := countPosts(posts, req.SeenPost)

	c.logger.Debug("thread fetched",
		slog.String("thread", req.Key.String()),
		slog.Bool("not_modified", resp.notModified),
		slog.Int("new_count", res.NewCount),
		slog.Int64("latest_post", res.LatestPost),
	)

	return res, nil
}

// ThreadURL returns the JSON document URL of key under baseURL.
func ThreadURL(baseURL string, key threadkey.Key) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(key.Board) +
		"/thread/" + url.PathEscape(key.Thread) + ".json"
}

// response is the classified outcome of a successful exchange.
type response struct {
	body         []byte
	lastModified string
	notModified  bool
	redirect     string
}

// get performs a GET with rate limiting and retry. Non-retryable HTTP
// errors are returned as *HTTPError.
func (c *Client) get(ctx context.Context, target string, reload bool, lastModified string) (response, error) {
	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, fmt.Errorf("fetch: request canceled: %w", err)
		}

		resp, err := c.doOnce(ctx, target, reload, lastModified)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return response{}, fmt.Errorf("fetch: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("url", target),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return response{}, fmt.Errorf("fetch: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return response{}, fmt.Errorf("fetch: GET %s failed after %d retries: %w", target, maxRetries, err)
		}

		if out, ok, err := c.accept(resp, target); ok || err != nil {
			return out, err
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return response{}, fmt.Errorf("fetch: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return response{}, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// accept consumes a success, not-modified or redirect response. It reports
// false, leaving the body open, for anything else.
func (c *Client) accept(resp *http.Response, target string) (response, bool, error) {
	code := resp.StatusCode

	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return response{}, true, fmt.Errorf("fetch: reading %s: %w", target, err)
		}

		return response{body: body, lastModified: resp.Header.Get("Last-Modified")}, true, nil

	case code == http.StatusNotModified:
		resp.Body.Close()
		return response{notModified: true}, true, nil

	case code >= http.StatusMultipleChoices && code < http.StatusBadRequest:
		loc, err := resp.Location()
		if errors.Is(err, http.ErrNoLocation) {
			return response{}, false, nil
		}

		resp.Body.Close()

		if err != nil {
			return response{}, true, fmt.Errorf("fetch: bad redirect from %s: %w", target, err)
		}

		return response{redirect: loc.String()}, true, nil
	}

	return response{}, false, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, target string, reload bool, lastModified string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if reload {
		req.Header.Set("Cache-Control", "no-cache")
	} else if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 and 503 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func (c *Client) cached(target string) cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache[target]
}

func (c *Client) remember(target string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.lastModified == "" {
		delete(c.cache, target)
		return
	}

	c.cache[target] = e
}

func (c *Client) forget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, target)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
