package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ValidateConfig reports every problem in c at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version < 1 || c.Version > Version {
		add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	if c.Scan.IntervalMs <= 0 {
		add("scan.interval_ms", "must be positive")
	}
	switch c.Scan.Source {
	case "dir":
		if c.Scan.FrameDir == "" {
			add("scan.frame_dir", "required when scan.source is dir")
		}
	case "command":
		if len(c.Scan.Command) == 0 {
			add("scan.command", "required when scan.source is command")
		}
	default:
		add("scan.source", "unknown source %q (want dir or command)", c.Scan.Source)
	}

	if c.OCR.Engine != "tesseract" {
		add("ocr.engine", "unknown engine %q", c.OCR.Engine)
	}
	if c.OCR.Binary == "" {
		add("ocr.binary", "must not be empty")
	}

	if c.Gaze.ThresholdMs <= 0 {
		add("gaze.threshold_ms", "must be positive")
	}
	switch c.Gaze.Source {
	case "websocket":
		if _, _, err := net.SplitHostPort(c.Gaze.Listen); err != nil {
			add("gaze.listen", "invalid address %q: %v", c.Gaze.Listen, err)
		}
	case "stdin":
	default:
		add("gaze.source", "unknown source %q (want websocket or stdin)", c.Gaze.Source)
	}
	switch c.Gaze.Viewport {
	case "static", "frame":
	default:
		add("gaze.viewport", "unknown mode %q (want static or frame)", c.Gaze.Viewport)
	}
	if c.Gaze.ViewportWidth <= 0 || c.Gaze.ViewportHeight <= 0 {
		add("gaze.viewport_width", "viewport dimensions must be positive")
	}

	if len(c.Keywords) == 0 {
		add("keywords", "at least one keyword is required")
	}
	for i, k := range c.Keywords {
		if k == "" {
			add(fmt.Sprintf("keywords[%d]", i), "empty keyword matches every text")
		}
	}

	if u, err := url.Parse(c.Channel.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		add("channel.url", "must be a ws:// or wss:// URL, got %q", c.Channel.URL)
	}
	switch c.Channel.Kind {
	case "websocket", "webrtc":
	default:
		add("channel.kind", "unknown kind %q (want websocket or webrtc)", c.Channel.Kind)
	}
	if c.Channel.ReconnectMinMs <= 0 || c.Channel.ReconnectMaxMs < c.Channel.ReconnectMinMs {
		add("channel.reconnect_ms", "need 0 < min <= max, got %d..%d", c.Channel.ReconnectMinMs, c.Channel.ReconnectMaxMs)
	}
	if c.Channel.WriteTimeoutMs <= 0 {
		add("channel.write_timeout_ms", "must be positive")
	}
	if c.Channel.QueueSize <= 0 {
		add("channel.queue_size", "must be positive")
	}
	for i, ice := range c.Channel.ICEServers {
		if !strings.HasPrefix(ice, "stun:") && !strings.HasPrefix(ice, "turn:") && !strings.HasPrefix(ice, "turns:") {
			add(fmt.Sprintf("channel.ice_servers[%d]", i), "must be a stun: or turn: URL, got %q", ice)
		}
	}

	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			add("journal.path", "required when journal is enabled")
		}
		if c.Journal.SecretPath == "" {
			add("journal.secret_path", "required when journal is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format", "unknown format %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	case "file", "both":
		if c.Logging.FilePath == "" {
			add("logging.file_path", "required when output writes a file")
		}
	default:
		add("logging.output", "unknown output %q", c.Logging.Output)
	}

	if c.Status.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Status.Listen); err != nil {
			add("status.listen", "invalid address %q: %v", c.Status.Listen, err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
