package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageFile reports whether name has an extension the decoders accept.
func IsImageFile(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// DirSource serves the newest image written to a drop directory. An
// external screen grabber writes snapshots there; the source watches the
// directory and decodes the latest file when a frame is requested.
type DirSource struct {
	dir    string
	logger *slog.Logger

	fsWatcher *fsnotify.Watcher

	mu        sync.Mutex
	latest    string
	latestMod time.Time
	opened    bool
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDirSource creates a source for dir. Nothing is watched until Open.
func NewDirSource(dir string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{
		dir:    dir,
		logger: logger.With("component", "capture", "source", "dir"),
		done:   make(chan struct{}),
	}
}

// Dir returns the watched directory.
func (s *DirSource) Dir() string {
	return s.dir
}

// Open starts watching the directory and picks up any image already in it.
func (s *DirSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return nil
	}

	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return fmt.Errorf("resolve frame dir: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("frame dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("frame dir %s is not a directory", absDir)
	}
	s.dir = absDir

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", absDir, err)
	}
	s.fsWatcher = fsWatcher

	s.rescanLocked()
	s.opened = true

	s.wg.Add(1)
	go s.eventLoop()

	s.logger.Info("watching frame directory", "dir", absDir)
	return nil
}

// Capture decodes the newest image in the directory.
func (s *DirSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.opened || s.latest == "" {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	path, mod := s.latest, s.latestMod
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return Decode(data, mod)
}

// Close stops watching. It is safe to call more than once.
func (s *DirSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened := s.opened
	s.mu.Unlock()

	if !opened {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.fsWatcher.Close()
}

// Latest returns the path of the file the next Capture will decode.
func (s *DirSource) Latest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *DirSource) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			if !IsImageFile(event.Name) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				info, err := os.Stat(event.Name)
				if err != nil || info.IsDir() {
					continue
				}
				s.mu.Lock()
				s.latest = event.Name
				s.latestMod = info.ModTime()
				s.mu.Unlock()

			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				s.mu.Lock()
				if s.latest == event.Name {
					s.rescanLocked()
				}
				s.mu.Unlock()
			}

		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("frame watcher error", "error", err)
		}
	}
}

// rescanLocked selects the most recently modified image in the directory.
func (s *DirSource) rescanLocked() {
	s.latest = ""
	s.latestMod = time.Time{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("scan frame directory", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if s.latest == "" || info.ModTime().After(s.latestMod) {
			s.latest = filepath.Join(s.dir, entry.Name())
			s.latestMod = info.ModTime()
		}
	}
}
