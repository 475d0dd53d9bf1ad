package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proctord/internal/metrics"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = (defaultPongWait * 9) / 10
	maxInboundSize      = 64 * 1024
)

// WebSocketConfig configures a WebSocket sink.
type WebSocketConfig struct {
	URL       string
	Token     string
	SessionID string

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// PingInterval must be shorter than PongWait.
	PingInterval     time.Duration
	PongWait         time.Duration
	HandshakeTimeout time.Duration
}

// Header builds the handshake headers carrying the bearer token and
// session id.
func Header(token, sessionID string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		h.Set("X-Session-ID", sessionID)
	}
	return h
}

// WebSocket sends each message as one text frame on a persistent
// connection to the observer.
type WebSocket struct {
	config  WebSocketConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
	backoff *Backoff

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewWebSocket creates a sink. Call Start to begin connecting.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger, m *metrics.Metrics) *WebSocket {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		config:  cfg,
		logger:  logger.With("component", "transport", "kind", "websocket"),
		metrics: m,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff: NewBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		done:    make(chan struct{}),
	}
}

// Start connects in the background and keeps reconnecting until Close or
// until ctx is cancelled.
func (w *WebSocket) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		w.mu.Unlock()

		go func() {
			defer close(w.done)
			maintain(ctx, w.backoff, w.logger, w.metrics, w.connect)
		}()
	})
}

func (w *WebSocket) connect(ctx context.Context) (func(), error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.config.URL, Header(w.config.Token, w.config.SessionID))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", w.config.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", w.config.URL, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.logger.Info("channel connected", "url", w.config.URL)

	return func() {
		stop := make(chan struct{})
		go w.pingLoop(conn, stop)
		w.readLoop(ctx, conn)
		close(stop)

		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		conn.Close()
	}, nil
}

// readLoop consumes inbound frames so control messages are processed. The
// observer sends nothing the monitor acts on.
func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("channel read error", "error", err)
			}
			return
		}
		w.logger.Debug("ignoring inbound message", "bytes", len(msg))
	}
}

func (w *WebSocket) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// Send writes data as one text message. The write deadline comes from ctx
// or defaults to 10s.
func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	_ = w.conn.SetWriteDeadline(deadline)

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.conn.Close()
		w.conn = nil
		return fmt.Errorf("channel write: %w", err)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Close sends a close frame, stops reconnecting and waits for the
// connection goroutine to exit.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		cancel := w.cancel
		conn := w.conn
		w.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "monitor stopping"),
				time.Now().Add(time.Second))
		}
		if cancel == nil {
			return
		}
		cancel()
		<-w.done
	})
	return nil
}
