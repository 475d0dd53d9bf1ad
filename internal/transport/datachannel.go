package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"proctord/internal/metrics"
)

// Signaling message types.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalError  = "error"
)

// DefaultDataChannelLabel is the label of the negotiated data channel.
const DefaultDataChannelLabel = "integrity"

// SignalMessage is the envelope exchanged with the signaling endpoint.
// Payload carries a JSON session description for offers and answers.
type SignalMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// DataChannelConfig configures a WebRTC data channel sink.
type DataChannelConfig struct {
	// SignalURL is the ws:// or wss:// signaling endpoint.
	SignalURL string
	Token     string
	SessionID string

	ICEServers []string
	Label      string

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// NegotiationTimeout bounds dial, offer/answer and channel open.
	NegotiationTimeout time.Duration

	// API overrides the pion API (setting engine). Nil uses the default.
	API *webrtc.API
}

// DataChannel sends each message as a text message on an ordered WebRTC
// data channel. The channel is negotiated with a single offer/answer
// exchange over a WebSocket signaling endpoint; ICE candidates are
// gathered before the offer is sent.
type DataChannel struct {
	config  DataChannelConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
	backoff *Backoff

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	closed bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewDataChannel creates a sink. Call Start to begin negotiating.
func NewDataChannel(cfg DataChannelConfig, logger *slog.Logger, m *metrics.Metrics) *DataChannel {
	if cfg.Label == "" {
		cfg.Label = DefaultDataChannelLabel
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataChannel{
		config:  cfg,
		logger:  logger.With("component", "transport", "kind", "webrtc"),
		metrics: m,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.NegotiationTimeout,
		},
		backoff: NewBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		done:    make(chan struct{}),
	}
}

// Start negotiates in the background and renegotiates after failures.
func (d *DataChannel) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.mu.Unlock()

		go func() {
			defer close(d.done)
			maintain(ctx, d.backoff, d.logger, d.metrics, d.connect)
		}()
	})
}

func (d *DataChannel) newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(d.config.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: d.config.ICEServers}}
	}
	if d.config.API != nil {
		return d.config.API.NewPeerConnection(cfg)
	}
	return webrtc.NewPeerConnection(cfg)
}

func (d *DataChannel) connect(ctx context.Context) (func(), error) {
	nctx, cancel := context.WithTimeout(ctx, d.config.NegotiationTimeout)
	defer cancel()

	ws, _, err := d.dialer.DialContext(nctx, d.config.SignalURL, Header(d.config.Token, d.config.SessionID))
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", d.config.SignalURL, err)
	}
	defer ws.Close()
	stopClose := context.AfterFunc(nctx, func() { ws.Close() })
	defer stopClose()

	pc, err := d.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	fail := func(err error) (func(), error) {
		pc.Close()
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(d.config.Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fail(fmt.Errorf("create data channel: %w", err))
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() { openOnce.Do(func() { close(opened) }) })

	lost := make(chan struct{})
	var lostOnce sync.Once
	markLost := func() { lostOnce.Do(func() { close(lost) }) }
	dc.OnClose(markLost)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			markLost()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-nctx.Done():
		return fail(fmt.Errorf("gather ICE candidates: %w", nctx.Err()))
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return fail(fmt.Errorf("encode offer: %w", err))
	}
	if dl, ok := nctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(dl)
		_ = ws.SetReadDeadline(dl)
	}
	if err := ws.WriteJSON(SignalMessage{Type: SignalOffer, SessionID: d.config.SessionID, Payload: payload}); err != nil {
		return fail(fmt.Errorf("send offer: %w", err))
	}

	answer, err := readAnswer(ws)
	if err != nil {
		return fail(err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}

	select {
	case <-opened:
	case <-lost:
		return fail(errors.New("peer connection failed before data channel opened"))
	case <-nctx.Done():
		return fail(fmt.Errorf("open data channel: %w", nctx.Err()))
	}

	d.mu.Lock()
	d.pc, d.dc = pc, dc
	d.mu.Unlock()
	d.logger.Info("data channel open", "label", dc.Label())

	return func() {
		select {
		case <-lost:
		case <-ctx.Done():
		}
		d.mu.Lock()
		if d.dc == dc {
			d.pc, d.dc = nil, nil
		}
		d.mu.Unlock()
		pc.Close()
	}, nil
}

func readAnswer(ws *websocket.Conn) (webrtc.SessionDescription, error) {
	for {
		var msg SignalMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("read answer: %w", err)
		}
		switch msg.Type {
		case SignalAnswer:
			var answer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Payload, &answer); err != nil {
				return webrtc.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
			}
			return answer, nil
		case SignalError:
			return webrtc.SessionDescription{}, fmt.Errorf("signaling rejected offer: %s", msg.Message)
		}
	}
}

// Send writes data as one text message on the data channel.
func (d *DataChannel) Send(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dc == nil || d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("data channel send: %w", err)
	}
	return nil
}

// Connected reports whether the data channel is open.
func (d *DataChannel) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dc != nil && d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close tears down the peer connection and stops renegotiating.
func (d *DataChannel) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		cancel := d.cancel
		d.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-d.done
	})
	return nil
}
