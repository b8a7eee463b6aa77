package wsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
	"github.com/Mishiranu/threadwatch/internal/watch"
)

var (
	errUnknownType = errors.New("wsapi: unknown message type")
	errNotOpen     = errors.New("wsapi: thread is not open")
)

// conn is one UI connection. The read loop owns the session table;
// scheduler callbacks only touch the send queue and the dedup table.
type conn struct {
	id     string
	ws     *websocket.Conn
	sched  Scheduler
	cancel context.CancelFunc
	logger *slog.Logger

	send    chan Event
	dropped atomic.Bool

	foreground atomic.Bool

	sentMu sync.Mutex
	sent   map[threadkey.Key]watch.Counter

	client   *watch.Client
	sessions map[threadkey.Key]*watch.Session
}

func newConn(ws *websocket.Conn, sched Scheduler, cancel context.CancelFunc, logger *slog.Logger) *conn {
	id := uuid.NewString()

	return &conn{
		id:       id,
		ws:       ws,
		sched:    sched,
		cancel:   cancel,
		logger:   logger.With(slog.String("conn", id)),
		send:     make(chan Event, sendBuffer),
		sent:     make(map[threadkey.Key]watch.Counter),
		sessions: make(map[threadkey.Key]*watch.Session),
	}
}

// serve runs the connection until the UI disconnects or ctx is canceled.
func (c *conn) serve(ctx context.Context) error {
	c.client = c.sched.RegisterClient("", c)
	defer c.release()

	writeDone := make(chan error, 1)

	go func() {
		writeDone <- c.writeLoop(ctx)
	}()

	c.enqueue(Event{Type: MsgWelcome, ID: c.id})

	err := c.readLoop(ctx)

	c.cancel()

	if werr := <-writeDone; err == nil {
		err = werr
	}

	c.ws.CloseNow() //nolint:errcheck // the connection may already be closed

	return err
}

// release destroys every open session and unregisters the client.
func (c *conn) release() {
	for key, s := range c.sessions {
		s.Destroy()
		delete(c.sessions, key)
	}

	c.client.Unregister()
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		var req Request
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if err := c.handle(req); err != nil {
			c.logger.Debug("rejected request",
				slog.String("type", req.Type),
				slog.String("error", err.Error()),
			)

			c.enqueue(Event{Type: MsgError, Thread: req.Thread, Error: err.Error()})
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, ev)
			cancel()

			if err != nil {
				c.cancel()

				if ctx.Err() != nil {
					return nil
				}

				return fmt.Errorf("wsapi: writing %s: %w", ev.Type, err)
			}
		}
	}
}

// enqueue queues ev without blocking. A full queue disconnects the UI.
func (c *conn) enqueue(ev Event) {
	select {
	case c.send <- ev:
	default:
		if !c.dropped.Swap(true) {
			c.logger.Warn("ui too slow, disconnecting", slog.Int("queued", len(c.send)))
		}

		c.cancel()
	}
}

func (c *conn) handle(req Request) error {
	switch req.Type {
	case MsgHello:
		c.client.UpdateContextHint(req.Context)
		c.setForeground(req.Foreground)
	case MsgContext:
		c.client.UpdateContextHint(req.Context)
	case MsgForeground:
		c.setForeground(req.Foreground)
	case MsgRefreshAll:
		c.sched.RefreshAll(req.Context, req.Force, req.Force)
	case MsgOpen, MsgClose, MsgRefresh, MsgExtracted, MsgErase, MsgEraseDone:
		key, err := threadkey.Parse(req.Thread)
		if err != nil {
			return err
		}

		return c.handleThread(req, key)
	default:
		return fmt.Errorf("%w: %q", errUnknownType, req.Type)
	}

	return nil
}

func (c *conn) handleThread(req Request, key threadkey.Key) error {
	s, open := c.sessions[key]

	switch req.Type {
	case MsgOpen:
		if open {
			return nil
		}

		s = watch.NewSession(key, &sessionObserver{conn: c, key: key})
		c.sessions[key] = s
		c.sched.RegisterSession(s)

		return nil

	case MsgRefresh:
		if open {
			s.Refresh(req.Reload, 0)
		} else {
			c.sched.RefreshForeground(key, req.Reload)
		}

		return nil
	}

	if !open {
		return fmt.Errorf("%w: %s", errNotOpen, key)
	}

	switch req.Type {
	case MsgClose:
		s.Destroy()
		delete(c.sessions, key)
	case MsgExtracted:
		s.NotifyExtracted()
	case MsgErase:
		s.NotifyEraseStarted()
	case MsgEraseDone:
		s.NotifyEraseFinished()
	}

	return nil
}

func (c *conn) setForeground(v bool) {
	if !v {
		c.foreground.Store(false)
		return
	}

	if !c.foreground.Swap(true) {
		c.client.NotifyForeground()
	}
}

// IsForeground implements watch.ClientObserver.
func (c *conn) IsForeground() bool {
	return c.foreground.Load()
}

// CounterChanged implements watch.ClientObserver.
func (c *conn) CounterChanged(key threadkey.Key, counter watch.Counter) {
	c.pushCounter(key, counter)
}

// pushCounter sends counter unless the UI already has it. The client and
// the session of an open thread both report the same change.
func (c *conn) pushCounter(key threadkey.Key, counter watch.Counter) {
	c.sentMu.Lock()
	last, ok := c.sent[key]

	switch {
	case ok && last == counter:
		c.sentMu.Unlock()
		return
	case counter == watch.Counter{}:
		delete(c.sent, key)

		if !ok {
			c.sentMu.Unlock()
			return
		}
	default:
		c.sent[key] = counter
	}
	c.sentMu.Unlock()

	c.enqueue(Event{Type: MsgCounter, Thread: key.String(), Counter: &counter})
}

// sessionObserver forwards one session's callbacks to its connection.
type sessionObserver struct {
	conn *conn
	key  threadkey.Key
}

func (o *sessionObserver) CounterChanged(counter watch.Counter) {
	o.conn.pushCounter(o.key, counter)
}

func (o *sessionObserver) RefreshStarted() {
	o.conn.enqueue(Event{Type: MsgRefreshStarted, Thread: o.key.String()})
}

func (o *sessionObserver) RefreshFinished(err error) {
	ev := Event{Type: MsgRefreshFinished, Thread: o.key.String()}
	if err != nil {
		ev.Error = err.Error()
	}

	o.conn.enqueue(ev)
}
