package gaze

// Viewport is the monitored screen area in pixels, origin top-left.
type Viewport struct {
	Width  float64
	Height float64
}

// Contains reports whether (x, y) lies inside the viewport, edges included.
func (v Viewport) Contains(x, y float64) bool {
	return x >= 0 && x <= v.Width && y >= 0 && y <= v.Height
}

// ViewportFunc returns the current viewport. It is called on every sample
// so resizes take effect immediately.
type ViewportFunc func() Viewport

// StaticViewport always returns v.
func StaticViewport(v Viewport) ViewportFunc {
	return func() Viewport { return v }
}

// SizeSource reports the size of the most recent captured frame.
type SizeSource interface {
	LastSize() (width, height int, ok bool)
}

// FrameViewport tracks the captured screen size, using fallback until the
// first frame has been captured.
func FrameViewport(src SizeSource, fallback Viewport) ViewportFunc {
	return func() Viewport {
		if w, h, ok := src.LastSize(); ok {
			return Viewport{Width: float64(w), Height: float64(h)}
		}
		return fallback
	}
}
