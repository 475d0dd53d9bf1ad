package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CommandSource runs a screenshot tool that writes one encoded image to
// stdout (for example `grim -` or `screencapture -x -t png /dev/stdout`).
type CommandSource struct {
	argv   []string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	path   string
	closed bool
}

// NewCommandSource creates a source running argv on every capture.
func NewCommandSource(argv []string, logger *slog.Logger) *CommandSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSource{
		argv:   append([]string(nil), argv...),
		logger: logger.With("component", "capture", "source", "command"),
		now:    time.Now,
	}
}

// Open checks that the screenshot tool can be found.
func (s *CommandSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(s.argv) == 0 {
		return fmt.Errorf("capture command is empty")
	}
	path, err := exec.LookPath(s.argv[0])
	if err != nil {
		return fmt.Errorf("capture command %q: %w", s.argv[0], err)
	}
	s.path = path
	s.logger.Info("using capture command", "path", path)
	return nil
}

// Capture runs the command and decodes its output.
func (s *CommandSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	path, closed := s.path, s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if path == "" {
		return nil, ErrNotReady
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, s.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return Decode(stdout.Bytes(), s.now())
}

// Close marks the source closed.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
