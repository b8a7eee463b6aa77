// Package wsapi exposes the watch scheduler to remote UIs over a websocket.
// Each connection becomes one scheduler Client; every thread the UI opens
// becomes a Session owned by that connection. Counter changes and check
// progress are streamed back as JSON events.
package wsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Mishiranu/threadwatch/internal/threadkey"
	"github.com/Mishiranu/threadwatch/internal/watch"
)

const (
	// sendBuffer bounds the events queued for one connection. A UI that
	// falls this far behind is disconnected.
	sendBuffer = 256
	// writeTimeout bounds one websocket write.
	writeTimeout = 10 * time.Second
	// readLimit bounds one inbound message.
	readLimit = 64 << 10
	// shutdownTimeout bounds the HTTP server shutdown.
	shutdownTimeout = 5 * time.Second
)

// Scheduler is the subset of *watch.Registry the endpoint drives.
type Scheduler interface {
	RegisterClient(hint string, obs watch.ClientObserver) *watch.Client
	RegisterSession(s *watch.Session)
	RefreshAll(filter string, forceNetwork, forceNow bool)
	RefreshForeground(key threadkey.Key, reload bool)
}

// Server serves the /ws endpoint.
type Server struct {
	sched          Scheduler
	logger         *slog.Logger
	originPatterns []string

	mu    sync.Mutex
	conns map[string]*conn
}

// NewServer creates a Server. originPatterns are passed to the websocket
// handshake; an empty list only admits same-origin browsers and non-browser
// clients.
func NewServer(sched Scheduler, originPatterns []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		sched:          sched,
		logger:         logger,
		originPatterns: originPatterns,
		conns:          make(map[string]*conn),
	}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// ListenAndServe serves on addr until ctx is canceled. Open connections
// are closed when ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("wsapi: listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("websocket endpoint listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("wsapi: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("wsapi: shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("wsapi: serving: %w", err)
	}

	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)

		return
	}

	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ws, s.sched, cancel, s.logger)

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	c.logger.Info("ui connected", slog.String("remote", r.RemoteAddr))

	err = c.serve(ctx)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	if status := websocket.CloseStatus(err); err == nil ||
		status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		c.logger.Info("ui disconnected")
	} else {
		c.logger.Info("ui connection closed", slog.String("reason", err.Error()))
	}
}
