// Package server exposes the daemon over HTTP: a health probe, the /send
// trigger for outbound assistant messages, and the client WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/neboloop/bingus/internal/crashlog"
	"github.com/neboloop/bingus/internal/httputil"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/logging"
	"github.com/neboloop/bingus/internal/middleware"
	"github.com/neboloop/bingus/internal/realtime"
)

var serverLog = logging.Named("server")

// Appender is the part of the message log /send writes to.
type Appender interface {
	Append(ctx context.Context, stream inbox.Stream, payload string) (inbox.Entry, error)
}

// Delivery sends a stored assistant entry to the client (or push).
type Delivery interface {
	Deliver(entry inbox.Entry)
}

// ServerOptions holds the server's dependencies
type ServerOptions struct {
	Addr      string
	AuthToken string
	Log       Appender
	Manager   *realtime.Manager
	Delivery  Delivery // defaults to Manager
	SendRate  float64
	SendBurst int
	Quiet     bool // Suppress request logging
}

type sendRequest struct {
	Text string `json:"text"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are native apps and CLI tools, not browsers; the auth frame
	// is the access check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter builds the HTTP handler.
func NewRouter(opts ServerOptions) http.Handler {
	if opts.Delivery == nil && opts.Manager != nil {
		opts.Delivery = opts.Manager
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 1
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}

	r := chi.NewRouter()
	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(opts.AuthToken))
		r.Use(middleware.RateLimit(opts.SendRate, opts.SendBurst))
		r.Post("/send", sendHandler(opts))
	})

	ws := wsHandler(opts.Manager)
	r.Get("/", ws)
	r.Get("/ws", ws)
	return r
}

func sendHandler(opts ServerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "text is required")
			return
		}

		entry, err := opts.Log.Append(context.WithoutCancel(r.Context()), inbox.StreamAssistant, req.Text)
		if err != nil {
			crashlog.LogError("server", fmt.Errorf("append /send message: %w", err), nil)
			httputil.InternalError(w, "failed to store message")
			return
		}
		if opts.Delivery != nil {
			opts.Delivery.Deliver(entry)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}

func wsHandler(m *realtime.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, "expected websocket", http.StatusUpgradeRequired)
			return
		}
		if m == nil {
			http.Error(w, "session manager not ready", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverLog.Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		realtime.ServeWS(m, conn)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// ready, when non-nil, receives the bound address once listening.
func Run(ctx context.Context, opts ServerOptions, ready func(addr net.Addr)) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	serverLog.Infof("listening on %s", ln.Addr())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the
	// session manager closes them.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
