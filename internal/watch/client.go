package watch

import (
	"log/slog"
	"slices"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// ClientObserver is a process-wide subscriber. IsForeground is polled on
// the scheduler loop whenever the sweep interval is computed, so it must be
// cheap and safe for concurrent use. CounterChanged receives every counter
// change of every thread; it runs on the loop and must not block.
type ClientObserver interface {
	IsForeground() bool
	CounterChanged(key threadkey.Key, c Counter)
}

// Client is a registered process-wide subscriber. Its context hint names
// the source the user is browsing; watched threads of that source are
// checked in the priority pool instead of the background pool.
type Client struct {
	reg *Registry
	obs ClientObserver

	// Loop-owned.
	hint       string
	registered bool
}

// RegisterClient registers a client with an initial context hint. The
// returned Client must be unregistered when the subscriber goes away.
func (r *Registry) RegisterClient(hint string, obs ClientObserver) *Client {
	c := &Client{reg: r, obs: obs}

	r.post(func() {
		c.hint = hint
		c.registered = true
		r.clients = append(r.clients, c)

		r.logger.Debug("client registered", slog.String("context", hint))

		r.startNext()
	})

	return c
}

// UpdateContextHint changes the client's context hint.
func (c *Client) UpdateContextHint(hint string) {
	r := c.reg

	r.post(func() {
		if !c.registered || c.hint == hint {
			return
		}

		c.hint = hint
		r.startNext()
	})
}

// NotifyForeground reports that the client became visible. The periodic
// timer is re-armed with the foreground interval.
func (c *Client) NotifyForeground() {
	c.reg.NotifyForeground()
}

// Unregister removes the client. It is idempotent.
func (c *Client) Unregister() {
	r := c.reg

	r.post(func() {
		if !c.registered {
			return
		}

		c.registered = false
		r.clients = slices.DeleteFunc(slices.Clone(r.clients), func(other *Client) bool {
			return other == c
		})

		r.logger.Debug("client unregistered", slog.String("context", c.hint))

		r.startNext()
	})
}
