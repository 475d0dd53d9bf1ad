// Package monitor wires the scan and gaze pipelines to the event reporter
// and owns their lifecycles.
//
// Startup acquires, in order: OCR engine readiness, the frame source, the
// gaze stream, then starts the scan scheduler. A capability that fails to
// start disables only its own pipeline; the operator is notified and the
// other pipeline keeps running. Start fails only when neither pipeline
// could start.
package monitor

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
	"proctord/internal/gaze"
	"proctord/internal/health"
	"proctord/internal/metrics"
	"proctord/internal/notify"
	"proctord/internal/ocr"
	"proctord/internal/report"
	"proctord/internal/scan"
)

var (
	// ErrNoPipelines is returned by Start when no pipeline could start.
	ErrNoPipelines = errors.New("monitor: no detection pipeline available")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("monitor: already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("monitor: stopped")
)

// ViewportMode selects where the gaze viewport bounds come from.
type ViewportMode string

const (
	// ViewportStatic uses the configured bounds.
	ViewportStatic ViewportMode = "static"
	// ViewportFrame uses the size of the last captured frame, falling back
	// to the configured bounds until one exists.
	ViewportFrame ViewportMode = "frame"
)

// Reporter is the event sink shared by both pipelines.
type Reporter interface {
	Report(e report.Event) error
	Close(ctx context.Context) error
}

// Config holds the monitor's fixed settings.
type Config struct {
	ScanInterval       time.Duration
	OffscreenThreshold time.Duration
	Viewport           gaze.Viewport
	ViewportMode       ViewportMode

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Deps are the collaborators the monitor owns once started.
type Deps struct {
	Engine   ocr.Engine
	Source   capture.Source
	Tracker  gaze.Tracker
	Matcher  *content.Matcher
	Reporter Reporter

	// Optional.
	Notifier notify.Notifier
	Checker  *health.Checker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Monitor is the orchestrator.
type Monitor struct {
	cfg      Config
	engine   ocr.Engine
	source   *capture.Recorder
	tracker  gaze.Tracker
	reporter Reporter
	notifier notify.Notifier
	checker  *health.Checker
	metrics  *metrics.Metrics
	logger   *slog.Logger

	scheduler *scan.Scheduler

	gazeMu  sync.Mutex
	machine *gaze.OffscreenMachine

	scanHealth *health.State
	gazeHealth *health.State

	mu            sync.Mutex
	started       bool
	engineReady   bool
	sourceOpen    bool
	unsubscribe   func()
	trackerClosed bool
	scanRunning   bool
	gazeRunning   bool

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New validates cfg and deps and builds a monitor. Nothing is acquired
// until Start.
func New(cfg Config, deps Deps) (*Monitor, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("monitor: nil OCR engine")
	case deps.Source == nil:
		return nil, errors.New("monitor: nil frame source")
	case deps.Tracker == nil:
		return nil, errors.New("monitor: nil gaze tracker")
	case deps.Matcher == nil:
		return nil, errors.New("monitor: nil keyword matcher")
	case deps.Reporter == nil:
		return nil, errors.New("monitor: nil reporter")
	}
	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("monitor: scan interval must be positive, got %s", cfg.ScanInterval)
	}
	if cfg.OffscreenThreshold < 0 {
		return nil, fmt.Errorf("monitor: negative offscreen threshold %s", cfg.OffscreenThreshold)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ViewportMode == "" {
		cfg.ViewportMode = ViewportStatic
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	m := &Monitor{
		cfg:        cfg,
		engine:     deps.Engine,
		source:     capture.NewRecorder(deps.Source),
		tracker:    deps.Tracker,
		reporter:   deps.Reporter,
		notifier:   notifier,
		checker:    deps.Checker,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "monitor"),
		scanHealth: health.NewState(),
		gazeHealth: health.NewState(),
	}

	var viewport gaze.ViewportFunc
	switch cfg.ViewportMode {
	case ViewportStatic:
		viewport = gaze.StaticViewport(cfg.Viewport)
	case ViewportFrame:
		viewport = gaze.FrameViewport(m.source, cfg.Viewport)
	default:
		return nil, fmt.Errorf("monitor: unknown viewport mode %q", cfg.ViewportMode)
	}
	m.machine = gaze.NewOffscreenMachine(cfg.OffscreenThreshold, viewport)

	m.scheduler = scan.New(m.source, deps.Engine, deps.Matcher, deps.Reporter, scan.Config{
		Clock:   cfg.Clock,
		Metrics: deps.Metrics,
		Logger:  logger,
	})

	if m.checker != nil {
		m.checker.Register(health.ComponentScan, false, m.scanHealth.Check)
		m.checker.Register(health.ComponentGaze, false, m.gazeHealth.Check)
	}
	return m, nil
}

// Start acquires the capabilities and starts both pipelines.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped.Load() {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	scanErr := m.acquireScan(ctx)
	gazeErr := m.acquireGaze()
	if scanErr == nil {
		if err := m.scheduler.Start(ctx, m.cfg.ScanInterval); err != nil {
			scanErr = fmt.Errorf("start scan scheduler: %w", err)
		} else {
			m.scanRunning = true
		}
	}

	if scanErr != nil {
		m.pipelineFailed(ctx, health.ComponentScan, m.scanHealth, "Screen scan unavailable", scanErr)
	} else {
		m.scanHealth.Set(health.StatusHealthy, "running", nil)
	}
	if gazeErr != nil {
		m.pipelineFailed(ctx, health.ComponentGaze, m.gazeHealth, "Gaze tracking unavailable", gazeErr)
	} else {
		m.gazeHealth.Set(health.StatusHealthy, "running", nil)
	}

	running := m.runningLocked()
	m.metrics.SetPipelines(running)
	if running == 0 {
		m.releaseLocked()
		return fmt.Errorf("%w: %w", ErrNoPipelines, errors.Join(scanErr, gazeErr))
	}

	if m.checker != nil {
		m.checker.SetReady(true)
	}
	m.logger.Info("monitor started",
		"scan", m.scanRunning,
		"gaze", m.gazeRunning,
		"scan_interval", m.cfg.ScanInterval,
		"offscreen_threshold", m.cfg.OffscreenThreshold,
		"viewport_mode", m.cfg.ViewportMode,
	)
	return nil
}

func (m *Monitor) acquireScan(ctx context.Context) error {
	if err := m.engine.Init(ctx); err != nil {
		return fmt.Errorf("initialize OCR engine: %w", err)
	}
	m.engineReady = true

	if err := m.source.Open(ctx); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	m.sourceOpen = true
	return nil
}

func (m *Monitor) acquireGaze() error {
	unsubscribe, err := m.tracker.Subscribe(m.onSample)
	if err != nil {
		return fmt.Errorf("subscribe to gaze stream: %w", err)
	}
	m.unsubscribe = unsubscribe
	m.gazeRunning = true
	return nil
}

func (m *Monitor) pipelineFailed(ctx context.Context, component string, state *health.State, title string, err error) {
	state.Set(health.StatusUnhealthy, "unavailable", err)
	m.logger.Error("pipeline unavailable", "pipeline", component, "error", err)
	nerr := m.notifier.Notify(ctx, notify.Notification{
		Title:   title,
		Body:    err.Error(),
		Urgency: notify.UrgencyCritical,
	})
	if nerr != nil {
		m.logger.Warn("operator notification failed", "error", nerr)
	}
}

func (m *Monitor) runningLocked() int {
	n := 0
	if m.scanRunning {
		n++
	}
	if m.gazeRunning {
		n++
	}
	return n
}

// onSample feeds one gaze sample through the offscreen machine. The
// tracker never calls it concurrently with itself.
func (m *Monitor) onSample(s gaze.Sample) {
	if m.stopped.Load() {
		return
	}
	m.metrics.RecordGazeSample()

	now := m.cfg.Clock()
	m.gazeMu.Lock()
	fired := m.machine.Observe(s, now)
	tracking := m.machine.State().Tracking
	m.gazeMu.Unlock()

	m.metrics.SetOffscreenActive(tracking)
	if !fired {
		return
	}

	m.metrics.RecordGazeOffscreen()
	m.logger.Warn("gaze offscreen beyond threshold", "threshold", m.cfg.OffscreenThreshold)
	if err := m.reporter.Report(report.GazeOffscreen{Timestamp: now}); err != nil {
		m.logger.Warn("offscreen event not queued", "error", err)
	}
}

// OffscreenState returns the current offscreen tracking state.
func (m *Monitor) OffscreenState() gaze.State {
	m.gazeMu.Lock()
	defer m.gazeMu.Unlock()
	return m.machine.State()
}

// Pipelines reports which pipelines are running.
func (m *Monitor) Pipelines() (scanRunning, gazeRunning bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanRunning, m.gazeRunning
}

// ScanStats returns the scan scheduler counters.
func (m *Monitor) ScanStats() scan.Stats {
	return m.scheduler.Stats()
}

// Stop halts both pipelines, releases the capabilities and drains the
// reporter until ctx expires. It is safe to call more than once; later
// calls return the first call's result.
func (m *Monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)

		m.mu.Lock()
		m.releaseLocked()
		m.mu.Unlock()

		var errs []error
		if err := m.reporter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close reporter: %w", err))
		}
		m.stopErr = errors.Join(errs...)
		m.logger.Info("monitor stopped")
	})
	return m.stopErr
}

// releaseLocked stops the scheduler, releases the frame source and stops
// the gaze stream, in that order. Only acquired resources are released.
func (m *Monitor) releaseLocked() {
	if m.scanRunning {
		m.scheduler.Stop()
		m.scanRunning = false
	}
	if m.sourceOpen {
		if err := m.source.Close(); err != nil {
			m.logger.Warn("close frame source", "error", err)
		}
		m.sourceOpen = false
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.started && !m.trackerClosed {
		if err := m.tracker.Close(); err != nil {
			m.logger.Warn("close gaze tracker", "error", err)
		}
		m.trackerClosed = true
	}
	m.gazeRunning = false
	if m.engineReady {
		if err := m.engine.Close(); err != nil {
			m.logger.Warn("close OCR engine", "error", err)
		}
		m.engineReady = false
	}

	m.metrics.SetPipelines(0)
	m.metrics.SetOffscreenActive(false)
	if m.checker != nil {
		m.checker.SetReady(false)
	}
}
