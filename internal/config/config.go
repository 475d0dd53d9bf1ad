// Package config handles configuration loading, validation, and defaults for proctord.
package config

import (
	"os"
	"path/filepath"
	"time"

	"proctord/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Scan configures the periodic screen-text scan.
	Scan ScanConfig `toml:"scan" json:"scan" yaml:"scan"`

	// OCR configures the text recognition engine.
	OCR OCRConfig `toml:"ocr" json:"ocr" yaml:"ocr"`

	// Gaze configures the gaze sample source and offscreen detection.
	Gaze GazeConfig `toml:"gaze" json:"gaze" yaml:"gaze"`

	// Keywords is the ordered, case-sensitive forbidden keyword list.
	Keywords []string `toml:"keywords" json:"keywords" yaml:"keywords"`

	// Channel configures the outbound event channel.
	Channel ChannelConfig `toml:"channel" json:"channel" yaml:"channel"`

	// Journal configures the local event journal.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Status configures the local metrics/health endpoint.
	Status StatusConfig `toml:"status" json:"status" yaml:"status"`

	// Notify configures operator notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// PidFile guards against two monitors running for the same user.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// ScanConfig holds screen scanning configuration.
type ScanConfig struct {
	// IntervalMs is the time between scan ticks.
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`

	// Source selects the frame source: "dir" or "command".
	Source string `toml:"source" json:"source" yaml:"source"`

	// FrameDir is the drop directory watched by the "dir" source.
	FrameDir string `toml:"frame_dir" json:"frame_dir" yaml:"frame_dir"`

	// Command is the argv of a screenshot tool writing an image to stdout.
	Command []string `toml:"command" json:"command" yaml:"command"`
}

// OCRConfig holds text recognition configuration.
type OCRConfig struct {
	// Engine is the recognition backend. Only "tesseract" is built in.
	Engine string `toml:"engine" json:"engine" yaml:"engine"`

	// Binary is the tesseract executable.
	Binary string `toml:"binary" json:"binary" yaml:"binary"`

	// Language is the tesseract language pack.
	Language string `toml:"language" json:"language" yaml:"language"`

	// ExtraArgs are appended to the tesseract command line.
	ExtraArgs []string `toml:"extra_args" json:"extra_args" yaml:"extra_args"`
}

// GazeConfig holds gaze tracking configuration.
type GazeConfig struct {
	// ThresholdMs is the offscreen dwell time that raises an alert.
	ThresholdMs int `toml:"threshold_ms" json:"threshold_ms" yaml:"threshold_ms"`

	// Source selects the sample source: "websocket" or "stdin".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Listen is the local address the websocket source binds.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// Viewport is "static" or "frame".
	Viewport string `toml:"viewport" json:"viewport" yaml:"viewport"`

	// ViewportWidth and ViewportHeight are the static bounds in pixels.
	ViewportWidth  float64 `toml:"viewport_width" json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight float64 `toml:"viewport_height" json:"viewport_height" yaml:"viewport_height"`
}

// ChannelConfig holds outbound channel configuration.
type ChannelConfig struct {
	// URL is the observer endpoint (ws:// or wss://).
	URL string `toml:"url" json:"url" yaml:"url"`

	// Kind is "websocket" or "webrtc". For webrtc, URL is the signaling endpoint.
	Kind string `toml:"kind" json:"kind" yaml:"kind"`

	// Token is sent as a bearer token (use env var PROCTORD_CHANNEL_TOKEN).
	Token string `toml:"token" json:"token" yaml:"token"`

	// ReconnectMinMs and ReconnectMaxMs bound the reconnect backoff.
	ReconnectMinMs int `toml:"reconnect_min_ms" json:"reconnect_min_ms" yaml:"reconnect_min_ms"`
	ReconnectMaxMs int `toml:"reconnect_max_ms" json:"reconnect_max_ms" yaml:"reconnect_max_ms"`

	// WriteTimeoutMs bounds a single message write.
	WriteTimeoutMs int `toml:"write_timeout_ms" json:"write_timeout_ms" yaml:"write_timeout_ms"`

	// QueueSize is the reporter queue capacity.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`

	// ICEServers are STUN/TURN URLs for the webrtc kind.
	ICEServers []string `toml:"ice_servers" json:"ice_servers" yaml:"ice_servers"`
}

// JournalConfig holds local journal configuration.
type JournalConfig struct {
	// Enabled turns the journal on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// SecretPath holds the per-install secret the HMAC key is derived from.
	SecretPath string `toml:"secret_path" json:"secret_path" yaml:"secret_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output includes a file).
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// StatusConfig holds the local status endpoint configuration.
type StatusConfig struct {
	// Listen is the HTTP address for /metrics and health probes. Empty disables it.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// NotifyConfig holds operator notification configuration.
type NotifyConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	AppName string `toml:"app_name" json:"app_name" yaml:"app_name"`
}

// DefaultKeywords is the keyword list used when none is configured.
var DefaultKeywords = []string{"ChatGPT", "notepad", ".pdf", "Slack", "Zoom"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Scan: ScanConfig{
			IntervalMs: 10000,
			Source:     "dir",
			FrameDir:   filepath.Join(dir, "frames"),
		},
		OCR: OCRConfig{
			Engine:   "tesseract",
			Binary:   "tesseract",
			Language: "eng",
		},
		Gaze: GazeConfig{
			ThresholdMs:    3000,
			Source:         "websocket",
			Listen:         "127.0.0.1:9478",
			Viewport:       "static",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		Keywords: append([]string(nil), DefaultKeywords...),
		Channel: ChannelConfig{
			URL:            "wss://localhost/integrity",
			Kind:           "websocket",
			ReconnectMinMs: 500,
			ReconnectMaxMs: 30000,
			WriteTimeoutMs: 10000,
			QueueSize:      64,
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
		},
		Journal: JournalConfig{
			Enabled:    true,
			Path:       filepath.Join(dir, "journal.db"),
			SecretPath: filepath.Join(dir, "journal.secret"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "proctord.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:9477",
		},
		Notify: NotifyConfig{
			Enabled: true,
			AppName: "proctord",
		},
		PidFile: filepath.Join(PlatformRuntimeDir(), "proctord.pid"),
	}
}

// DataDir returns the base data directory, honouring PROCTORD_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("PROCTORD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// ScanInterval returns the scan interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.IntervalMs) * time.Millisecond
}

// OffscreenThreshold returns the gaze dwell threshold as a duration.
func (c *Config) OffscreenThreshold() time.Duration {
	return time.Duration(c.Gaze.ThresholdMs) * time.Millisecond
}

// ReconnectBackoff returns the reconnect backoff bounds.
func (c *Config) ReconnectBackoff() (min, max time.Duration) {
	return time.Duration(c.Channel.ReconnectMinMs) * time.Millisecond,
		time.Duration(c.Channel.ReconnectMaxMs) * time.Millisecond
}

// WriteTimeout returns the per-message channel write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Channel.WriteTimeoutMs) * time.Millisecond
}

// LoggingConfig converts the logging section into a logging.Config.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc, nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Journal.Path),
		filepath.Dir(c.Journal.SecretPath),
		filepath.Dir(c.PidFile),
	}
	if c.Scan.Source == "dir" {
		dirs = append(dirs, c.Scan.FrameDir)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnvOverrides applies PROCTORD_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_CHANNEL_URL"); v != "" {
		c.Channel.URL = v
	}
	if v := os.Getenv("PROCTORD_CHANNEL_TOKEN"); v != "" {
		c.Channel.Token = v
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Keywords = append([]string(nil), c.Keywords...)
	clone.Scan.Command = append([]string(nil), c.Scan.Command...)
	clone.OCR.ExtraArgs = append([]string(nil), c.OCR.ExtraArgs...)
	clone.Channel.ICEServers = append([]string(nil), c.Channel.ICEServers...)
	return &clone
}
