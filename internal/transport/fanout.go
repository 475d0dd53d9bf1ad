package transport

import (
	"context"
	"errors"

	"proctord/internal/report"
)

// Fanout sends every message to all sinks in order and joins their errors.
type Fanout []report.Sink

// Send implements report.Sink.
func (f Fanout) Send(ctx context.Context, data []byte) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
