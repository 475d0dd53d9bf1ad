package gaze

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"proctord/internal/logging"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("gaze: tracker closed")

// Tracker is a push-based stream of gaze samples.
type Tracker interface {
	// Subscribe acquires the stream and registers fn. Callbacks are never
	// run concurrently with each other; each sample is fully handled before
	// the next is delivered. The returned func unsubscribes fn.
	Subscribe(fn func(Sample)) (unsubscribe func(), err error)

	// Close stops the stream.
	Close() error
}

const defaultBuffer = 256

// dispatcher delivers samples to subscribers from a single goroutine.
type dispatcher struct {
	logger  *slog.Logger
	samples chan Sample

	mu   sync.Mutex
	subs map[uint64]func(Sample)
	next uint64

	received atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newDispatcher(logger *slog.Logger, buffer int) *dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &dispatcher{
		logger:  logger,
		samples: make(chan Sample, buffer),
		subs:    make(map[uint64]func(Sample)),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *dispatcher) subscribe(fn func(Sample)) (func(), error) {
	select {
	case <-d.done:
		return nil, ErrClosed
	default:
	}

	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}, nil
}

// push queues s for delivery, waiting while the buffer is full. Samples
// are never dropped: a lost in-viewport sample would leave an offscreen
// episode running. It returns false once the dispatcher is stopped.
func (d *dispatcher) push(s Sample) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.samples <- s:
		d.received.Add(1)
		return true
	case <-d.done:
		return false
	}
}

func (d *dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case s := <-d.samples:
			d.deliver(s)
		}
	}
}

func (d *dispatcher) deliver(s Sample) {
	d.mu.Lock()
	fns := make([]func(Sample), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		d.call(fn, s)
	}
}

func (d *dispatcher) call(fn func(Sample), s Sample) {
	defer logging.Recover(d.logger, "gaze", nil)
	fn(s)
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

// Received returns the number of samples accepted for delivery.
func (d *dispatcher) Received() uint64 {
	return d.received.Load()
}
