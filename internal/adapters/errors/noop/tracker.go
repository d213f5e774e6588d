// Package noop is the tracker used when no error-tracking DSN is
// configured.
package noop

import (
	"context"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Tracker discards everything.
type Tracker struct{}

// New creates a no-op tracker.
func New() *Tracker { return &Tracker{} }

// CaptureError discards the error.
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	return nil
}

// CaptureMessage discards the message.
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

// Flush does nothing.
func (t *Tracker) Flush(ctx context.Context) error { return nil }
