// Package transport implements the outbound channel sinks. A sink owns its
// connection lifecycle: it connects in the background, reconnects with
// jittered exponential backoff, and fails Send fast while disconnected.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"proctord/internal/metrics"
)

// ErrNotConnected is returned by Send while the channel is down.
var ErrNotConnected = errors.New("transport: not connected")

// Backoff yields jittered, doubling retry delays between Min and Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur    time.Duration
	jitter func(n int64) int64
}

// NewBackoff creates a Backoff. Zero bounds default to 500ms and 30s.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max, jitter: rand.Int64N}
}

// Next returns the next delay: a random value in [d/2, d] where d doubles
// from Min up to Max.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Min
	} else {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	half := int64(b.cur / 2)
	return time.Duration(half + b.jitter(half+1))
}

// Reset starts the sequence again from Min.
func (b *Backoff) Reset() {
	b.cur = 0
}

// connectFunc establishes a connection. On success it returns a func that
// blocks until the connection is lost.
type connectFunc func(ctx context.Context) (wait func(), err error)

// maintain keeps a connection up until ctx is done.
func maintain(ctx context.Context, b *Backoff, logger *slog.Logger, m *metrics.Metrics, connect connectFunc) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			m.RecordReconnect()
		}

		wait, err := connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d := b.Next()
			logger.Warn("channel connect failed", "error", err, "retry_in", d)
			if !sleep(ctx, d) {
				return
			}
			continue
		}

		b.Reset()
		m.SetConnected(true)
		wait()
		m.SetConnected(false)

		if ctx.Err() != nil {
			return
		}
		d := b.Next()
		logger.Warn("channel connection lost", "retry_in", d)
		if !sleep(ctx, d) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
