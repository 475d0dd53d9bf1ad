// Package capture provides screen frames to the scan pipeline.
//
// The daemon does not grab the screen itself. A Source wraps whatever
// external capability produces images (a screenshot tool, a drop directory
// fed by a browser extension) and hands the scan pipeline one decoded frame
// per request.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	// Registered decoders for captured frames.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotReady means the source is not producing frames yet. The caller
	// skips the tick silently.
	ErrNotReady = errors.New("capture: no frame available")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Frame is a single decoded screen snapshot. It is owned by the scan that
// requested it and discarded after recognition.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
}

// NewFrame wraps img. A zero-sized image yields ErrNotReady.
func NewFrame(img image.Image, ts time.Time) (*Frame, error) {
	if img == nil {
		return nil, ErrNotReady
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrNotReady
	}
	return &Frame{Image: img, Width: b.Dx(), Height: b.Dy(), Timestamp: ts}, nil
}

// Decode decodes an encoded image (png, jpeg, gif, bmp or webp) into a Frame.
func Decode(data []byte, ts time.Time) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrNotReady
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	f, err := NewFrame(img, ts)
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", format, err)
	}
	return f, nil
}

// Source produces frames on demand.
type Source interface {
	// Open acquires the capability. An error means the scan pipeline cannot run.
	Open(ctx context.Context) error

	// Capture returns the current frame, or ErrNotReady.
	Capture(ctx context.Context) (*Frame, error)

	// Close releases the capability. It is safe to call more than once.
	Close() error
}

// Recorder wraps a Source and remembers the size of the last frame it
// returned. The gaze pipeline uses it as a viewport when the monitored
// area is the captured screen.
type Recorder struct {
	Source
	size atomic.Uint64
}

// NewRecorder wraps src.
func NewRecorder(src Source) *Recorder {
	return &Recorder{Source: src}
}

// Capture delegates to the wrapped source and records the frame size.
func (r *Recorder) Capture(ctx context.Context) (*Frame, error) {
	f, err := r.Source.Capture(ctx)
	if err != nil {
		return nil, err
	}
	r.size.Store(uint64(uint32(f.Width))<<32 | uint64(uint32(f.Height)))
	return f, nil
}

// LastSize returns the dimensions of the most recent frame.
func (r *Recorder) LastSize() (width, height int, ok bool) {
	v := r.size.Load()
	if v == 0 {
		return 0, 0, false
	}
	return int(v >> 32), int(uint32(v)), true
}
