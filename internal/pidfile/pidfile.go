// Package pidfile keeps a single monitor instance per user by holding an
// exclusive lock on a pid file for the life of the process.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("pidfile: another instance is running")

// File is a held pid file.
type File struct {
	path string
	f    *os.File
	once sync.Once
	err  error
}

// Acquire creates or opens path, takes an exclusive non-blocking lock and
// writes the current pid into it.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			if pid, perr := ReadPID(path); perr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
		}
		return nil, err
	}

	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	f.Sync()

	return &File{path: path, f: f}, nil
}

// Path returns the pid file path.
func (p *File) Path() string {
	return p.path
}

// Release removes the pid file and drops the lock. It is safe to call
// more than once.
func (p *File) Release() error {
	p.once.Do(func() {
		var errs []error
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := unlock(p.f); err != nil {
			errs = append(errs, err)
		}
		if err := p.f.Close(); err != nil {
			errs = append(errs, err)
		}
		p.err = errors.Join(errs...)
	})
	return p.err
}

// ReadPID returns the pid recorded in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}
