// Package gaze consumes gaze-estimation samples and detects sustained
// attention outside the monitored viewport.
package gaze

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Sample is one gaze estimate in screen pixels. OK is false when the
// estimator saw no face or eyes; X and Y are meaningless then.
type Sample struct {
	X  float64
	Y  float64
	OK bool
}

// At returns a present sample.
func At(x, y float64) Sample {
	return Sample{X: x, Y: y, OK: true}
}

// Absent is the "no information" sample.
var Absent = Sample{}

type wireSample struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ParseSample decodes `{"x":..,"y":..}`. `null`, `{}` and objects missing
// a coordinate decode to Absent.
func ParseSample(data []byte) (Sample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Absent, nil
	}
	var w wireSample
	if err := json.Unmarshal(data, &w); err != nil {
		return Absent, fmt.Errorf("parse gaze sample: %w", err)
	}
	if w.X == nil || w.Y == nil {
		return Absent, nil
	}
	return At(*w.X, *w.Y), nil
}

// MarshalJSON encodes an absent sample as null.
func (s Sample) MarshalJSON() ([]byte, error) {
	if !s.OK {
		return []byte("null"), nil
	}
	return json.Marshal(wireSample{X: &s.X, Y: &s.Y})
}

// UnmarshalJSON implements json.Unmarshaler via ParseSample.
func (s *Sample) UnmarshalJSON(data []byte) error {
	v, err := ParseSample(data)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
