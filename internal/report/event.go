// Package report turns detection events into wire messages and delivers
// them to the outbound channel without blocking the detectors.
package report

import "time"

// Wire type tags.
const (
	TypeOverlay       = "overlay"
	TypeGazeOffscreen = "gaze-offscreen"
)

// Event is a detection event. The set of implementations is closed.
type Event interface {
	// Type returns the wire type tag.
	Type() string
	// Time returns when the detection happened.
	Time() time.Time

	event()
}

// OverlayDetected is raised when recognized screen text contains a
// forbidden keyword. MatchedText is the full recognized text.
type OverlayDetected struct {
	Timestamp   time.Time
	MatchedText string
	// Keyword is kept for the local journal; it is not sent on the wire.
	Keyword string
}

// Type implements Event.
func (OverlayDetected) Type() string { return TypeOverlay }

// Time implements Event.
func (e OverlayDetected) Time() time.Time { return e.Timestamp }

func (OverlayDetected) event() {}

// GazeOffscreen is raised when gaze stays outside the viewport beyond the
// threshold.
type GazeOffscreen struct {
	Timestamp time.Time
}

// Type implements Event.
func (GazeOffscreen) Type() string { return TypeGazeOffscreen }

// Time implements Event.
func (e GazeOffscreen) Time() time.Time { return e.Timestamp }

func (GazeOffscreen) event() {}

// Detail returns the wire detail of e, or "" when the type carries none.
func Detail(e Event) string {
	if o, ok := e.(OverlayDetected); ok {
		return o.MatchedText
	}
	return ""
}

// Keyword returns the matched keyword of an overlay event.
func Keyword(e Event) string {
	if o, ok := e.(OverlayDetected); ok {
		return o.Keyword
	}
	return ""
}
