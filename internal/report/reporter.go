package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/logging"
	"proctord/internal/metrics"
)

var (
	// ErrClosed is returned by Report after Close.
	ErrClosed = errors.New("report: reporter closed")

	// ErrQueueFull is returned when the event was dropped because the
	// writer is behind.
	ErrQueueFull = errors.New("report: queue full")
)

// Sink delivers one encoded message. Implementations own connection
// management; Send fails fast when disconnected.
type Sink interface {
	Send(ctx context.Context, data []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, data []byte) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Journal records every event handed to the reporter, including events
// the channel never receives.
type Journal interface {
	Append(ctx context.Context, e Event) error
}

// Config configures a Reporter.
type Config struct {
	// QueueSize bounds the number of events waiting for the writer.
	QueueSize int
	// WriteTimeout bounds one Sink.Send call.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default reporter configuration.
func DefaultConfig() Config {
	return Config{QueueSize: 64, WriteTimeout: 10 * time.Second}
}

// Stats are cumulative reporter counters.
type Stats struct {
	Reported uint64
	Sent     uint64
	Dropped  uint64
	Failed   uint64
}

// Option configures optional Reporter collaborators.
type Option func(*Reporter)

// WithJournal records each reported event in j. Journaling runs on its own
// goroutine and queue, so events dropped from the send queue are still
// recorded.
func WithJournal(j Journal) Option {
	return func(r *Reporter) { r.journal = j }
}

// WithMetrics instruments the reporter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

// WithLogger sets the reporter logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

type queued struct {
	event Event
	data  []byte
}

// Reporter serializes events and hands them to a Sink from a single writer
// goroutine. Report never blocks: events are queued in FIFO order and
// dropped when the queue is full, so a slow or broken channel cannot stall
// the detectors. Each message is written whole by the one writer.
type Reporter struct {
	sink    Sink
	config  Config
	journal Journal
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	audit  chan Event

	audited chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}

	reported atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// New creates a Reporter and starts its writer.
func New(sink Sink, cfg Config, opts ...Option) *Reporter {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		sink:     sink,
		config:   cfg,
		logger:   slog.Default(),
		queue:    make(chan queued, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "report")

	r.audited = make(chan struct{})
	if r.journal != nil {
		r.audit = make(chan Event, cfg.QueueSize)
		go r.auditLoop()
	} else {
		close(r.audited)
	}

	go r.writeLoop()
	return r
}

// Report submits e for delivery. It returns immediately; the error only
// says whether the event was queued and may be ignored by detectors.
func (r *Reporter) Report(e Event) error {
	data, err := Encode(e)
	if err != nil {
		r.logger.Error("encode event", "error", err)
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		// Detectors are already stopped once the reporter is closed.
		r.appendJournal(context.Background(), e)
		r.drop(e, ErrClosed)
		return ErrClosed
	}

	if r.audit != nil {
		select {
		case r.audit <- e:
		default:
			r.metrics.RecordJournalError()
			r.logger.Error("journal queue full, event not journaled", "type", e.Type())
		}
	}

	select {
	case r.queue <- queued{event: e, data: data}:
		r.reported.Add(1)
		r.metrics.RecordReported()
		r.metrics.SetQueueDepth(len(r.queue))
		return nil
	default:
		r.drop(e, ErrQueueFull)
		return ErrQueueFull
	}
}

func (r *Reporter) drop(e Event, reason error) {
	r.dropped.Add(1)
	r.metrics.RecordDropped()
	r.logger.Warn("event dropped", "type", e.Type(), "reason", reason)
}

func (r *Reporter) writeLoop() {
	defer close(r.finished)

	for item := range r.queue {
		r.metrics.SetQueueDepth(len(r.queue))
		r.deliver(item)
	}
}

func (r *Reporter) deliver(item queued) {
	defer logging.Recover(r.logger, "report", func(any) {
		r.failed.Add(1)
		r.metrics.RecordSendFailure()
	})

	if r.ctx.Err() != nil {
		r.drop(item.event, ErrClosed)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.sink.Send(ctx, item.data); err != nil {
		r.failed.Add(1)
		r.metrics.RecordSendFailure()
		r.logger.Warn("send event", "type", item.event.Type(), "error", err)
		return
	}
	r.sent.Add(1)
	r.metrics.RecordSent(time.Since(start))
	r.logger.Debug("event sent", "type", item.event.Type(), "timestamp", item.event.Time().UnixMilli())
}

func (r *Reporter) auditLoop() {
	defer close(r.audited)
	for e := range r.audit {
		r.appendJournal(context.Background(), e)
	}
}

func (r *Reporter) appendJournal(ctx context.Context, e Event) {
	if r.journal == nil {
		return
	}
	defer logging.Recover(r.logger, "journal", func(any) { r.metrics.RecordJournalError() })
	if err := r.journal.Append(ctx, e); err != nil {
		r.metrics.RecordJournalError()
		r.logger.Error("journal event", "type", e.Type(), "error", err)
	}
}

// Close stops accepting events and drains the queue until ctx expires.
// Events still queued after that are dropped. Close is idempotent.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
		if r.audit != nil {
			close(r.audit)
		}
	}
	r.mu.Unlock()

	// The journal is local, so it is drained in full even past ctx.
	defer func() { <-r.audited }()

	select {
	case <-r.finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.finished
		return fmt.Errorf("drain reporter: %w", ctx.Err())
	}
}

// Pending returns the number of queued events.
func (r *Reporter) Pending() int {
	return len(r.queue)
}

// Stats returns cumulative counters.
func (r *Reporter) Stats() Stats {
	return Stats{
		Reported: r.reported.Load(),
		Sent:     r.sent.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}
