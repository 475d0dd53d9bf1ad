package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"proctord/internal/capture"
	"proctord/internal/config"
	"proctord/internal/content"
	"proctord/internal/gaze"
	"proctord/internal/health"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/monitor"
	"proctord/internal/notify"
	"proctord/internal/ocr"
	"proctord/internal/pidfile"
	"proctord/internal/report"
	"proctord/internal/store"
	"proctord/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// channel is an outbound sink that owns its connection.
type channel interface {
	report.Sink
	Start(ctx context.Context)
	Connected() bool
	Close() error
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, os.Stdin)
}

// loadConfig loads path, or the first config file found in the usual
// places when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, stdin io.Reader) error {
	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	base, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer base.Close()

	ctx = logging.ContextWithSessionID(ctx, uuid.NewString())
	sessionID := logging.SessionIDFromContext(ctx)
	logger := base.WithContext(ctx)
	slog.SetDefault(logger.Logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	pid, err := pidfile.Acquire(cfg.PidFile)
	if err != nil {
		return err
	}
	defer pid.Release()

	registry := metrics.NewRegistry("proctord", "")
	m := metrics.New(registry)
	checker := health.NewChecker()

	notifier := notify.New(notify.Config{
		Enabled: cfg.Notify.Enabled,
		AppName: cfg.Notify.AppName,
	}, logger.Logger)
	defer notifier.Close()

	ch := buildChannel(cfg, sessionID, logger.WithComponent("transport").Logger, m)
	ch.Start(ctx)
	defer ch.Close()
	checker.Register(health.ComponentChannel, false, health.ConnectionCheck(ch.Connected))

	opts := []report.Option{
		report.WithMetrics(m),
		report.WithLogger(logger.WithComponent("report").Logger),
	}
	if cfg.Journal.Enabled {
		journal, err := store.Open(cfg.Journal.Path, cfg.Journal.SecretPath, sessionID, logger.Logger)
		if err != nil {
			logger.Error("journal unavailable, continuing without it", "path", cfg.Journal.Path, "error", err)
			notifier.Notify(ctx, notify.Notification{
				Title:   "Event journal unavailable",
				Body:    err.Error(),
				Urgency: notify.UrgencyNormal,
			})
		} else {
			defer journal.Close()
			opts = append(opts, report.WithJournal(journal))
			checker.Register(health.ComponentJournal, false, health.VerifyCheck(func(context.Context) error {
				return journal.Verify()
			}))
		}
	}

	reporter := report.New(ch, report.Config{
		QueueSize:    cfg.Channel.QueueSize,
		WriteTimeout: cfg.WriteTimeout(),
	}, opts...)

	source, err := buildSource(cfg, logger.Logger)
	if err != nil {
		reporter.Close(ctx)
		return err
	}
	tracker, err := buildTracker(cfg, stdin, logger.Logger)
	if err != nil {
		reporter.Close(ctx)
		return err
	}

	mon, err := monitor.New(monitor.Config{
		ScanInterval:       cfg.ScanInterval(),
		OffscreenThreshold: cfg.OffscreenThreshold(),
		Viewport: gaze.Viewport{
			Width:  cfg.Gaze.ViewportWidth,
			Height: cfg.Gaze.ViewportHeight,
		},
		ViewportMode: monitor.ViewportMode(cfg.Gaze.Viewport),
	}, monitor.Deps{
		Engine:   buildEngine(cfg, logger.Logger),
		Source:   source,
		Tracker:  tracker,
		Matcher:  content.NewMatcher(cfg.Keywords),
		Reporter: reporter,
		Notifier: notifier,
		Checker:  checker,
		Metrics:  m,
		Logger:   logger.Logger,
	})
	if err != nil {
		reporter.Close(ctx)
		return err
	}

	if cfg.Status.Listen != "" {
		status := health.NewServer(cfg.Status.Listen, checker, registry.HTTPHandler(), logger.Logger)
		if err := status.Start(); err != nil {
			logger.Warn("status endpoint disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				status.Shutdown(sctx)
			}()
		}
	}

	go trackUptime(ctx, m)

	if err := mon.Start(ctx); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		mon.Stop(sctx)
		return err
	}

	logger.Info("proctord running",
		"version", version,
		"channel", cfg.Channel.URL,
		"channel_kind", cfg.Channel.Kind,
		"keywords", len(cfg.Keywords),
		"log_level", logging.LevelString(lc.Level),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mon.Stop(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	stats := reporter.Stats()
	logger.Info("session ended",
		"reported", stats.Reported,
		"sent", stats.Sent,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
		"metrics", m.Snapshot(),
	)
	return nil
}

func buildChannel(cfg *config.Config, sessionID string, logger *slog.Logger, m *metrics.Metrics) channel {
	minBackoff, maxBackoff := cfg.ReconnectBackoff()
	if cfg.Channel.Kind == "webrtc" {
		return transport.NewDataChannel(transport.DataChannelConfig{
			SignalURL:  cfg.Channel.URL,
			Token:      cfg.Channel.Token,
			SessionID:  sessionID,
			ICEServers: cfg.Channel.ICEServers,
			MinBackoff: minBackoff,
			MaxBackoff: maxBackoff,
		}, logger, m)
	}
	return transport.NewWebSocket(transport.WebSocketConfig{
		URL:        cfg.Channel.URL,
		Token:      cfg.Channel.Token,
		SessionID:  sessionID,
		MinBackoff: minBackoff,
		MaxBackoff: maxBackoff,
	}, logger, m)
}

func buildSource(cfg *config.Config, logger *slog.Logger) (capture.Source, error) {
	switch cfg.Scan.Source {
	case "dir":
		return capture.NewDirSource(cfg.Scan.FrameDir, logger), nil
	case "command":
		return capture.NewCommandSource(cfg.Scan.Command, logger), nil
	default:
		return nil, fmt.Errorf("unknown scan source %q", cfg.Scan.Source)
	}
}

func buildEngine(cfg *config.Config, logger *slog.Logger) ocr.Engine {
	return ocr.NewTesseract(ocr.TesseractConfig{
		Binary:    cfg.OCR.Binary,
		Language:  cfg.OCR.Language,
		ExtraArgs: cfg.OCR.ExtraArgs,
	}, logger)
}

func buildTracker(cfg *config.Config, stdin io.Reader, logger *slog.Logger) (gaze.Tracker, error) {
	switch cfg.Gaze.Source {
	case "websocket":
		return gaze.NewSocketTracker(cfg.Gaze.Listen, logger), nil
	case "stdin":
		return gaze.NewReaderTracker(stdin, logger), nil
	default:
		return nil, fmt.Errorf("unknown gaze source %q", cfg.Gaze.Source)
	}
}

func trackUptime(ctx context.Context, m *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		m.UpdateUptime()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
