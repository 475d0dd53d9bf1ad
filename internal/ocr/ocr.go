// Package ocr adapts external text recognition engines for the scan pipeline.
package ocr

import (
	"context"
	"errors"

	"proctord/internal/capture"
)

// ErrNotInitialized is returned by Recognize before Init succeeded.
var ErrNotInitialized = errors.New("ocr: engine not initialized")

// Engine extracts text from a frame.
type Engine interface {
	// Init makes the engine ready. It may be slow (model loading).
	Init(ctx context.Context) error

	// Recognize returns the text visible in frame. An empty string is a
	// valid result. Recognition is not bounded by a timeout here; callers
	// cancel through ctx.
	Recognize(ctx context.Context, frame *capture.Frame) (string, error)

	// Close releases engine resources.
	Close() error
}

// Func adapts a plain function to an Engine with no initialization.
type Func func(ctx context.Context, frame *capture.Frame) (string, error)

// Init implements Engine.
func (f Func) Init(context.Context) error { return nil }

// Recognize implements Engine.
func (f Func) Recognize(ctx context.Context, frame *capture.Frame) (string, error) {
	return f(ctx, frame)
}

// Close implements Engine.
func (f Func) Close() error { return nil }
