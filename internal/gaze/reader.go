package gaze

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// ReaderTracker reads newline-delimited JSON samples from r, typically
// stdin of a process fed by a gaze estimator.
type ReaderTracker struct {
	*dispatcher

	r      io.Reader
	logger *slog.Logger

	startOnce sync.Once
	finished  chan struct{}
}

// NewReaderTracker creates a tracker that starts reading on first Subscribe.
func NewReaderTracker(r io.Reader, logger *slog.Logger) *ReaderTracker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gaze", "source", "reader")
	return &ReaderTracker{
		dispatcher: newDispatcher(logger, defaultBuffer),
		r:          r,
		logger:     logger,
		finished:   make(chan struct{}),
	}
}

// Subscribe registers fn and starts reading.
func (t *ReaderTracker) Subscribe(fn func(Sample)) (func(), error) {
	unsubscribe, err := t.subscribe(fn)
	if err != nil {
		return nil, err
	}
	t.startOnce.Do(func() {
		go t.readLoop()
	})
	return unsubscribe, nil
}

// Finished is closed when the input reaches EOF or fails.
func (t *ReaderTracker) Finished() <-chan struct{} {
	return t.finished
}

func (t *ReaderTracker) readLoop() {
	defer close(t.finished)

	scanner := bufio.NewScanner(t.r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sample, err := ParseSample(line)
		if err != nil {
			t.logger.Debug("ignoring malformed gaze sample", "error", err)
			continue
		}
		if !t.push(sample) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("gaze input failed", "error", err)
		return
	}
	t.logger.Info("gaze input ended")
}

// Close stops delivery. A read blocked on r is abandoned.
func (t *ReaderTracker) Close() error {
	t.stop()
	return nil
}
