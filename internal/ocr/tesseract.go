package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"proctord/internal/capture"
)

// TesseractConfig configures the tesseract command-line engine.
type TesseractConfig struct {
	Binary    string
	Language  string
	ExtraArgs []string
}

// Tesseract runs the tesseract CLI once per frame, feeding the frame as PNG
// on stdin and reading plain text from stdout.
type Tesseract struct {
	config TesseractConfig
	logger *slog.Logger

	mu      sync.RWMutex
	path    string
	version string
}

// NewTesseract creates an engine. Init must be called before Recognize.
func NewTesseract(cfg TesseractConfig, logger *slog.Logger) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{
		config: cfg,
		logger: logger.With("component", "ocr", "engine", "tesseract"),
	}
}

// Init locates the binary and checks that it runs.
func (t *Tesseract) Init(ctx context.Context) error {
	path, err := exec.LookPath(t.config.Binary)
	if err != nil {
		return fmt.Errorf("tesseract binary %q: %w", t.config.Binary, err)
	}

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tesseract --version: %w", err)
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")

	t.mu.Lock()
	t.path = path
	t.version = version
	t.mu.Unlock()

	t.logger.Info("ocr engine ready", "path", path, "version", version, "language", t.config.Language)
	return nil
}

// Version returns the first line of `tesseract --version` after Init.
func (t *Tesseract) Version() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Args returns the argument list used for a recognition run.
func (t *Tesseract) Args() []string {
	args := []string{"stdin", "stdout", "-l", t.config.Language}
	return append(args, t.config.ExtraArgs...)
}

// Recognize encodes frame as PNG and returns tesseract's text output.
func (t *Tesseract) Recognize(ctx context.Context, frame *capture.Frame) (string, error) {
	t.mu.RLock()
	path := t.path
	t.mu.RUnlock()

	if path == "" {
		return "", ErrNotInitialized
	}
	if frame == nil || frame.Image == nil {
		return "", capture.ErrNotReady
	}

	var input bytes.Buffer
	if err := png.Encode(&input, frame.Image); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, t.Args()...)
	cmd.Stdin = &input
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Close implements Engine.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	t.path = ""
	t.mu.Unlock()
	return nil
}
