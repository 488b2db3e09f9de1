// Package notify defines the Notifier interface for out-of-band alert
// delivery, such as mobile push services or message brokers.
//
// Notification is best-effort. Callers run notifiers detached from the alert
// path and log, but never propagate, their errors.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notifier delivers a short alert message to an external audience.
type Notifier interface {
	// Notify sends message. Implementations must honour ctx cancellation.
	Notify(ctx context.Context, message string) error
}

// Func adapts a plain function to the Notifier interface.
type Func func(ctx context.Context, message string) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, message string) error { return f(ctx, message) }

// Nop is a Notifier that does nothing. It is used when no notifier is
// configured.
type Nop struct{}

// Notify returns nil.
func (Nop) Notify(context.Context, string) error { return nil }

// Named pairs a Notifier with a display name for error messages.
type Named struct {
	Name     string
	Notifier Notifier
}

// Multi delivers each message to every wrapped notifier in order. One
// failing target does not stop the rest; all failures are joined.
type Multi []Named

var _ Notifier = Multi(nil)

// Notify sends message to every target.
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notifier.Notify(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
