// Package mock provides a test double for the notify.Notifier interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/notify"
)

// Notifier is a mock implementation of notify.Notifier.
type Notifier struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every call.
	Err error

	// Delay, if positive, blocks each call until it elapses or ctx is done.
	Delay time.Duration

	// Panic, if true, makes Notify panic. Used to prove callers isolate
	// notifier failures completely.
	Panic bool

	messages []string
	done     chan struct{}
}

var _ notify.Notifier = (*Notifier)(nil)

// Notify records message and returns Err.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	err, delay, panics := n.Err, n.Delay, n.Panic
	if n.done == nil {
		n.done = make(chan struct{}, 64)
	}
	done := n.done
	n.mu.Unlock()

	defer func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}()

	if panics {
		panic("mock notifier panic")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Messages returns a copy of every message received. Thread-safe.
func (n *Notifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

// Done returns a channel that receives one value each time a Notify call
// finishes.
func (n *Notifier) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done == nil {
		n.done = make(chan struct{}, 64)
	}
	return n.done
}
