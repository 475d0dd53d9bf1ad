package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.ScanInterval() != 10*time.Second {
		t.Errorf("expected scan interval 10s, got %v", cfg.ScanInterval())
	}
	if cfg.OffscreenThreshold() != 3*time.Second {
		t.Errorf("expected threshold 3s, got %v", cfg.OffscreenThreshold())
	}
	if strings.Join(cfg.Keywords, ",") != "ChatGPT,notepad,.pdf,Slack,Zoom" {
		t.Errorf("unexpected default keywords %v", cfg.Keywords)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestDefaultKeywordsNotAliased(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keywords[0] = "changed"
	if DefaultKeywords[0] != "ChatGPT" {
		t.Error("DefaultConfig must copy DefaultKeywords")
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "proctord") {
		t.Errorf("config path should contain proctord: %s", path)
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROCTORD_DATA_DIR", dir)

	if DataDir() != dir {
		t.Errorf("expected %s, got %s", dir, DataDir())
	}
	if !strings.HasPrefix(DefaultConfig().Journal.Path, dir) {
		t.Errorf("journal path should live under %s", dir)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scan.IntervalMs != 10000 {
		t.Errorf("expected default interval, got %d", cfg.Scan.IntervalMs)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
version = 1
keywords = ["Discord", "Copilot"]

[scan]
interval_ms = 5000

[gaze]
threshold_ms = 2000
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"version": 1, "keywords": ["Discord", "Copilot"], "scan": {"interval_ms": 5000}, "gaze": {"threshold_ms": 2000}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
version: 1
keywords: [Discord, Copilot]
scan:
  interval_ms: 5000
gaze:
  threshold_ms: 2000
`,
		},
		{
			name: "autodetect",
			file: "proctord.conf",
			content: `
keywords = ["Discord", "Copilot"]
[scan]
interval_ms = 5000
[gaze]
threshold_ms = 2000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Scan.IntervalMs != 5000 {
				t.Errorf("expected interval 5000, got %d", cfg.Scan.IntervalMs)
			}
			if cfg.Gaze.ThresholdMs != 2000 {
				t.Errorf("expected threshold 2000, got %d", cfg.Gaze.ThresholdMs)
			}
			if strings.Join(cfg.Keywords, ",") != "Discord,Copilot" {
				t.Errorf("keywords should keep configured order, got %v", cfg.Keywords)
			}
			// Untouched sections keep their defaults.
			if cfg.Channel.QueueSize != 64 {
				t.Errorf("expected default queue size, got %d", cfg.Channel.QueueSize)
			}
		})
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("this is = = not toml"), 0600)

	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("keywords = []\n[scan]\ninterval_ms = 0\n"), 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 2 {
		t.Errorf("expected all problems reported, got %v", verrs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_CHANNEL_URL", "ws://observer.test/integrity")
	t.Setenv("PROCTORD_CHANNEL_TOKEN", "tok")
	t.Setenv("PROCTORD_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Channel.URL != "ws://observer.test/integrity" {
		t.Errorf("channel url override not applied: %s", cfg.Channel.URL)
	}
	if cfg.Channel.Token != "tok" {
		t.Error("token override not applied")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override not applied: %s", cfg.Logging.Level)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default config is valid", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.Scan.IntervalMs = 0 }, true},
		{"unknown scan source", func(c *Config) { c.Scan.Source = "camera" }, true},
		{"command source without argv", func(c *Config) { c.Scan.Source = "command" }, true},
		{"command source with argv", func(c *Config) {
			c.Scan.Source = "command"
			c.Scan.Command = []string{"grim", "-"}
		}, false},
		{"negative threshold", func(c *Config) { c.Gaze.ThresholdMs = -1 }, true},
		{"stdin gaze source", func(c *Config) { c.Gaze.Source = "stdin" }, false},
		{"bad gaze listen", func(c *Config) { c.Gaze.Listen = "nope" }, true},
		{"frame viewport", func(c *Config) { c.Gaze.Viewport = "frame" }, false},
		{"empty keyword", func(c *Config) { c.Keywords = []string{"Slack", ""} }, true},
		{"http channel", func(c *Config) { c.Channel.URL = "http://example.com" }, true},
		{"webrtc channel", func(c *Config) { c.Channel.Kind = "webrtc" }, false},
		{"bad ice server", func(c *Config) { c.Channel.ICEServers = []string{"http://stun.example"} }, true},
		{"no ice servers", func(c *Config) { c.Channel.ICEServers = nil }, false},
		{"backoff inverted", func(c *Config) { c.Channel.ReconnectMaxMs = 1 }, true},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, true},
		{"journal disabled without path", func(c *Config) {
			c.Journal.Enabled = false
			c.Journal.Path = ""
		}, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"status disabled", func(c *Config) { c.Status.Listen = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Keywords = []string{"Zoom", "Slack"}

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if strings.Join(loaded.Keywords, ",") != "Zoom,Slack" {
				t.Errorf("keywords lost in round trip: %v", loaded.Keywords)
			}
		})
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Keywords[0] = "other"
	if cfg.Keywords[0] != "ChatGPT" {
		t.Error("Clone must deep-copy keywords")
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	lc, err := cfg.LoggingConfig()
	if err != nil {
		t.Fatalf("LoggingConfig: %v", err)
	}
	if lc.MaxSize != int64(cfg.Logging.MaxSizeMB) {
		t.Errorf("max size not carried over")
	}
}
