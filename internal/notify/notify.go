// Package notify surfaces operator-visible notifications, such as a
// monitoring pipeline that could not start.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Urgency follows the freedesktop notification urgency levels.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// String returns the urgency name.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned when the platform has no desktop
// notification service.
var ErrUnsupported = errors.New("notify: desktop notifications not supported")

// Notification is one operator message.
type Notification struct {
	Title   string
	Body    string
	Urgency Urgency
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// Config configures New.
type Config struct {
	Enabled bool
	AppName string
}

// New returns the best notifier for this platform. Every notification is
// logged; when a desktop service is reachable it is shown there as well.
func New(cfg Config, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")
	log := NewLogNotifier(logger)
	if !cfg.Enabled {
		return log
	}
	if cfg.AppName == "" {
		cfg.AppName = "proctord"
	}
	desktop, err := newDesktop(cfg.AppName)
	if err != nil {
		logger.Debug("desktop notifications unavailable", "error", err)
		return log
	}
	return Multi{log, desktop}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Urgency == UrgencyCritical {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Title, "body", n.Body, "urgency", n.Urgency.String())
	return nil
}

// Close implements Notifier.
func (l *LogNotifier) Close() error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Notifier.
func (m Multi) Close() error {
	var errs []error
	for _, nt := range m {
		if err := nt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
