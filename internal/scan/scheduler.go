// Package scan drives the periodic screen-text scan: capture a frame,
// recognize its text and report an overlay when a forbidden keyword
// appears.
//
// Ticks never overlap. When a recognition is still in flight the next
// tick is skipped, not queued.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/capture"
	"proctord/internal/content"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/ocr"
	"proctord/internal/report"
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("scan: scheduler already running")

// Reporter receives overlay detections.
type Reporter interface {
	Report(e report.Event) error
}

// Config configures a Scheduler.
type Config struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Ticks        uint64
	Scans        uint64
	SkippedBusy  uint64
	NotReady     uint64
	Failures     uint64
	Detections   uint64
	Discarded    uint64
	LastScan     time.Time
	LastDetected string
}

// Scheduler runs scans on a fixed interval.
type Scheduler struct {
	source   capture.Source
	engine   ocr.Engine
	matcher  *content.Matcher
	reporter Reporter
	clock    func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running atomic.Bool
	busy    atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// stops counts Stop calls. A scan carries the value read when its tick
	// fired and gives up once it changes. gate orders the final check and
	// the report against the increment in Stop.
	gate  sync.Mutex
	stops atomic.Uint64

	statsMu sync.Mutex
	stats   Stats
}

// New creates a scheduler over the given collaborators.
func New(source capture.Source, engine ocr.Engine, matcher *content.Matcher, reporter Reporter, cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		source:   source,
		engine:   engine,
		matcher:  matcher,
		reporter: reporter,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "scan"),
	}
}

// Start fires a scan every interval until Stop or ctx is done. The first
// tick happens one interval after Start.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scan: interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	s.wg.Add(1)
	go s.run(runCtx, interval)

	s.logger.Info("scan scheduler started", "interval", interval)
	return nil
}

// Stop cancels the timer. No new scan starts after Stop returns; a scan
// still in flight has its context cancelled and its result discarded.
// Stop is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}
	// Cancel first: a tick that reads the new generation then also sees
	// a cancelled context.
	s.cancel()
	s.gate.Lock()
	s.stops.Add(1)
	s.gate.Unlock()
	s.running.Store(false)
	s.wg.Wait()

	s.logger.Info("scan scheduler stopped")
}

// Running reports whether the timer is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Busy reports whether a scan is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a scan in the background unless one is in flight.
func (s *Scheduler) tick(ctx context.Context) {
	s.count(func(st *Stats) { st.Ticks++ })
	if !s.busy.CompareAndSwap(false, true) {
		s.count(func(st *Stats) { st.SkippedBusy++ })
		s.metrics.RecordScanSkippedBusy()
		s.logger.Debug("scan skipped, recognition in flight")
		return
	}
	generation := s.stops.Load()
	go func() {
		defer s.busy.Store(false)
		s.scan(ctx, generation)
	}()
}

// ScanOnce runs one scan synchronously. It returns false without doing
// anything when another scan is in flight.
func (s *Scheduler) ScanOnce(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.count(func(st *Stats) { st.SkippedBusy++ })
		s.metrics.RecordScanSkippedBusy()
		return false
	}
	defer s.busy.Store(false)
	s.scan(ctx, s.stops.Load())
	return true
}

// stopped reports whether Stop ran since the scan's tick fired.
func (s *Scheduler) stopped(ctx context.Context, generation uint64) bool {
	return ctx.Err() != nil || s.stops.Load() != generation
}

func (s *Scheduler) scan(ctx context.Context, generation uint64) {
	defer logging.Recover(s.logger, "scan", func(any) {
		s.count(func(st *Stats) { st.Failures++ })
		s.metrics.RecordRecognitionFailure()
	})

	if s.stopped(ctx, generation) {
		s.count(func(st *Stats) { st.Discarded++ })
		return
	}

	frame, err := s.source.Capture(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrNotReady) {
			s.count(func(st *Stats) { st.NotReady++ })
			s.metrics.RecordScanNotReady()
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.count(func(st *Stats) { st.Failures++ })
		s.metrics.RecordCaptureFailure()
		s.logger.Warn("frame capture failed", "error", err)
		return
	}
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		s.count(func(st *Stats) { st.NotReady++ })
		s.metrics.RecordScanNotReady()
		return
	}

	if s.stopped(ctx, generation) {
		s.count(func(st *Stats) { st.Discarded++ })
		return
	}

	s.metrics.RecordScan()
	timer := s.metrics.StartRecognition()
	text, err := s.engine.Recognize(ctx, frame)
	elapsed := timer.Done(err == nil)

	if s.stops.Load() != generation {
		s.count(func(st *Stats) { st.Discarded++ })
		s.logger.Debug("discarding recognition finished after stop")
		return
	}
	if err != nil {
		s.count(func(st *Stats) { st.Failures++ })
		s.logger.Warn("text recognition failed", "error", err, "duration", elapsed)
		return
	}

	now := s.clock()
	s.count(func(st *Stats) {
		st.Scans++
		st.LastScan = now
	})
	s.logger.Debug("text recognized", "text", text, "duration", elapsed)

	keyword, ok := s.matcher.Match(text)
	if !ok {
		return
	}

	s.gate.Lock()
	if s.stopped(ctx, generation) {
		s.gate.Unlock()
		s.count(func(st *Stats) { st.Discarded++ })
		return
	}
	err = s.reporter.Report(report.OverlayDetected{
		Timestamp:   now,
		MatchedText: text,
		Keyword:     keyword,
	})
	s.gate.Unlock()

	s.count(func(st *Stats) {
		st.Detections++
		st.LastDetected = keyword
	})
	s.metrics.RecordOverlay()
	s.logger.Warn("forbidden content on screen", "keyword", keyword)
	if err != nil {
		s.logger.Warn("overlay event not queued", "error", err)
	}
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}
