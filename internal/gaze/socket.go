package gaze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketPongWait       = 60 * time.Second
	socketMaxMessageSize = 1024
	socketShutdownWait   = 2 * time.Second

	// DefaultSocketPath is where the estimator page connects.
	DefaultSocketPath = "/gaze"
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is bound to a local address and the estimator page is
	// served from an arbitrary origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SocketTracker accepts gaze samples from a local estimator (for example a
// browser page running a webcam gaze model) over WebSocket. Each text
// message is one sample: `{"x":..,"y":..}` or `null`.
type SocketTracker struct {
	*dispatcher

	addr   string
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	conns    map[*websocket.Conn]struct{}
	started  bool
	closed   bool
}

// NewSocketTracker creates a tracker listening on addr once subscribed.
func NewSocketTracker(addr string, logger *slog.Logger) *SocketTracker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gaze", "source", "websocket")
	return &SocketTracker{
		dispatcher: newDispatcher(logger, defaultBuffer),
		addr:       addr,
		path:       DefaultSocketPath,
		logger:     logger,
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

// Subscribe starts the listener on first use and registers fn.
func (t *SocketTracker) Subscribe(fn func(Sample)) (func(), error) {
	if err := t.start(); err != nil {
		return nil, err
	}
	return t.subscribe(fn)
}

// Addr returns the bound listen address, or "" before the first Subscribe.
func (t *SocketTracker) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Connections returns the number of connected estimators.
func (t *SocketTracker) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *SocketTracker) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return nil
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen for gaze samples on %s: %w", t.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handle)
	t.listener = ln
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.started = true

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("gaze server stopped", "error", err)
		}
	}()

	t.logger.Info("accepting gaze samples", "addr", ln.Addr().String(), "path", t.path)
	return nil
}

func (t *SocketTracker) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("gaze upgrade failed", "error", err)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ws.Close()
		return
	}
	t.conns[ws] = struct{}{}
	t.mu.Unlock()

	t.logger.Info("gaze estimator connected", "remote", r.RemoteAddr)
	t.readPump(ws)

	t.mu.Lock()
	delete(t.conns, ws)
	t.mu.Unlock()
	ws.Close()
	t.logger.Info("gaze estimator disconnected", "remote", r.RemoteAddr)
}

func (t *SocketTracker) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(socketMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(socketPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("gaze read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(socketPongWait))

		sample, err := ParseSample(message)
		if err != nil {
			t.logger.Debug("ignoring malformed gaze sample", "error", err)
			continue
		}
		if !t.push(sample) {
			return
		}
	}
}

// Close stops the listener, disconnects estimators and stops delivery.
func (t *SocketTracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), socketShutdownWait)
		defer cancel()
		for _, c := range conns {
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			c.Close()
		}
		err = server.Shutdown(ctx)
	}
	t.stop()
	return err
}
