// Package alert fans emergency alerts out to every live connection and to
// the configured push notifiers.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/provider/notify"
)

// Defaults applied by New.
const (
	DefaultSendTimeout   = 5 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
	DefaultMaxFanout     = 32
)

// Sender is one broadcast target.
type Sender interface {
	// ID identifies the target in logs.
	ID() string

	// Send delivers message. It must return once ctx is done.
	Send(ctx context.Context, message string) error
}

// Source returns the current set of targets. The returned slice must be a
// snapshot the broadcaster may iterate while connections come and go.
type Source interface {
	Snapshot() []Sender
}

// SourceFunc adapts a function to [Source].
type SourceFunc func() []Sender

// Snapshot implements Source.
func (f SourceFunc) Snapshot() []Sender { return f() }

// Report summarises one broadcast.
type Report struct {
	// Targets is the size of the snapshot.
	Targets int
	// Delivered and Failed partition Targets.
	Delivered int
	Failed    int
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithSendTimeout bounds every per-connection send.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Broadcaster) { b.sendTimeout = d }
}

// WithNotifyTimeout bounds the detached notifier call.
func WithNotifyTimeout(d time.Duration) Option {
	return func(b *Broadcaster) { b.notifyTimeout = d }
}

// WithMaxFanout caps concurrent sends within one broadcast.
func WithMaxFanout(n int) Option {
	return func(b *Broadcaster) { b.maxFanout = n }
}

// WithMetrics records sends, alerts and notifier latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithPending counts detached notifications on wg instead of a group private
// to the Broadcaster. Broadcasters built for successive config generations
// share one group this way, and a single wg.Wait covers all of them.
func WithPending(wg *sync.WaitGroup) Option {
	return func(b *Broadcaster) { b.pending = wg }
}

// Broadcaster delivers alerts. It is safe for concurrent use.
type Broadcaster struct {
	src      Source
	notifier notify.Notifier

	sendTimeout   time.Duration
	notifyTimeout time.Duration
	maxFanout     int
	metrics       *observe.Metrics

	// pending tracks detached notifier goroutines.
	pending *sync.WaitGroup
}

// New creates a Broadcaster over src. A nil notifier disables push
// notifications.
func New(src Source, notifier notify.Notifier, opts ...Option) *Broadcaster {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	b := &Broadcaster{
		src:           src,
		notifier:      notifier,
		sendTimeout:   DefaultSendTimeout,
		notifyTimeout: DefaultNotifyTimeout,
		maxFanout:     DefaultMaxFanout,
	}
	for _, o := range opts {
		o(b)
	}
	if b.pending == nil {
		b.pending = new(sync.WaitGroup)
	}
	if b.maxFanout <= 0 {
		b.maxFanout = DefaultMaxFanout
	}
	return b
}

// Broadcast sends message to every connection in the current snapshot and
// starts a detached notification carrying alertContext. It returns when all
// sends have finished; the notification may still be running.
//
// A failing send is logged and counted without affecting the others.
func (b *Broadcaster) Broadcast(ctx context.Context, message, alertContext string) Report {
	ctx, span := observe.StartSpan(ctx, "alert.Broadcast")
	defer span.End()

	b.notify(ctx, alertContext)

	targets := b.src.Snapshot()
	var delivered, failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(b.maxFanout)
	for _, s := range targets {
		g.Go(func() error {
			if err := b.send(ctx, s, message); err != nil {
				failed.Add(1)
				observe.Logger(ctx).Warn("alert: send failed", "target", s.ID(), "err", err)
				b.recordSend(ctx, "error")
				return nil
			}
			delivered.Add(1)
			b.recordSend(ctx, "ok")
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Targets:   len(targets),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
	}
	span.SetAttributes(
		attribute.Int("alert.targets", r.Targets),
		attribute.Int("alert.failed", r.Failed),
	)
	if b.metrics != nil {
		b.metrics.Alerts.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("alert broadcast",
		"targets", r.Targets,
		"delivered", r.Delivered,
		"failed", r.Failed,
	)
	return r
}

// Wait blocks until every detached notification has finished. With
// [WithPending] it waits for the shared group.
func (b *Broadcaster) Wait() {
	b.pending.Wait()
}

func (b *Broadcaster) send(ctx context.Context, s Sender, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert: send panicked: %v", r)
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	return s.Send(sctx, message)
}

// notify runs the notifier on a context detached from ctx so that the
// broadcast returning, or the caller going away, does not cut it short.
func (b *Broadcaster) notify(ctx context.Context, alertContext string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.notifyTimeout)
	link := trace.LinkFromContext(ctx)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("alert: notifier panicked", "panic", r)
			}
		}()

		nctx, span := observe.StartSpan(nctx, "alert.Notify", trace.WithLinks(link))
		defer span.End()

		start := time.Now()
		err := b.notifier.Notify(nctx, alertContext)
		if b.metrics != nil {
			b.metrics.NotifyDuration.Record(nctx, time.Since(start).Seconds())
		}
		if err != nil {
			observe.Logger(nctx).Warn("alert: notifier failed", "err", err)
			if b.metrics != nil {
				b.metrics.RecordProviderError(nctx, "notifier", "notify")
			}
			return
		}
		observe.Logger(nctx).Debug("alert: notifier delivered")
	}()
}

func (b *Broadcaster) recordSend(ctx context.Context, status string) {
	if b.metrics != nil {
		b.metrics.RecordBroadcastSend(ctx, status)
	}
}
