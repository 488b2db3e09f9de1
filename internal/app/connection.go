package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hearken/internal/analysis"
	"github.com/MrWong99/hearken/internal/convo"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/segment"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Analyzer runs the analysis pipeline for one finalized segment.
// [*analysis.Orchestrator] is the production implementation.
type Analyzer interface {
	Analyze(ctx context.Context, conv *convo.Buffer, waveform []float32, sampleRate int) (*analysis.Outcome, error)
}

// Pipeline is the immutable per-connection recipe. A connection captures the
// Pipeline current at accept time and keeps it for its whole life, so a
// config reload never changes the frame size of a live stream.
type Pipeline struct {
	Format          audio.Format
	MaxPendingBytes int
	ReadLimitBytes  int

	Classifier     classifier.Classifier
	SegmentOptions []segment.Option

	Analyzer        Analyzer
	ContextCapacity int
	QueueSize       int
}

// WriteFunc writes one text message to the remote peer.
type WriteFunc func(ctx context.Context, message string) error

// Connection owns the audio chain of one client: a reassembler, a segmenter,
// a conversation buffer and the worker that analyses finalized segments in
// order. Nothing in it is shared with other connections.
//
// HandleAudio and Close must be called from the same goroutine (the read
// loop). Send may be called from any goroutine.
type Connection struct {
	id     string
	remote string
	send   WriteFunc
	log    *slog.Logger

	pipeline  *Pipeline
	reasm     *audio.Reassembler
	segmenter *segment.Segmenter
	conv      *convo.Buffer
	metrics   *observe.Metrics

	queue  chan *segment.Segment
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func newConnection(ctx context.Context, id, remote string, p *Pipeline, send WriteFunc, m *observe.Metrics) (*Connection, error) {
	reasm, err := audio.NewReassembler(p.Format.FrameSamples(), p.MaxPendingBytes)
	if err != nil {
		return nil, fmt.Errorf("app: connection %s: %w", id, err)
	}

	c := &Connection{
		id:       id,
		remote:   remote,
		send:     send,
		log:      slog.With("conn_id", id, "remote", remote),
		pipeline: p,
		reasm:    reasm,
		conv:     convo.NewBuffer(p.ContextCapacity),
		metrics:  m,
		queue:    make(chan *segment.Segment, max(p.QueueSize, 1)),
		done:     make(chan struct{}),
	}

	opts := append([]segment.Option{segment.WithObserver(c.observeFrame)}, p.SegmentOptions...)
	c.segmenter, err = segment.New(p.Classifier, p.Format, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: connection %s: %w", id, err)
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.work(wctx)
	return c, nil
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Send delivers an alert message to the peer.
func (c *Connection) Send(ctx context.Context, message string) error {
	return c.send(ctx, message)
}

// Conversation returns the connection's context buffer.
func (c *Connection) Conversation() *convo.Buffer { return c.conv }

// HandleAudio feeds one binary message through reassembly and segmentation.
// Finalized segments are queued for the analysis worker; when the queue is
// full the segment is dropped.
//
// An [audio.ErrResidualOverflow] error means the connection must be closed.
// Classifier failures are logged and never returned.
func (c *Connection) HandleAudio(ctx context.Context, chunk []byte) error {
	frames, err := c.reasm.Write(chunk)
	if err != nil {
		if errors.Is(err, audio.ErrResidualOverflow) && c.metrics != nil {
			c.metrics.ResidualOverflows.Add(ctx, 1)
		}
		return fmt.Errorf("app: connection %s: %w", c.id, err)
	}
	if len(frames) == 0 {
		return nil
	}
	if c.metrics != nil {
		c.metrics.Frames.Add(ctx, int64(len(frames)))
	}

	for _, f := range frames {
		seg, err := c.segmenter.Process(ctx, f)
		if err != nil {
			c.log.Debug("frame classification failed", "frame", f.Index, "err", err)
		}
		if seg != nil {
			c.enqueue(ctx, seg)
		}
	}
	return nil
}

func (c *Connection) enqueue(ctx context.Context, seg *segment.Segment) {
	if c.metrics != nil {
		c.metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds())
	}
	select {
	case c.queue <- seg:
		c.recordSegment(ctx, "finalized")
		c.log.Debug("segment finalized",
			"first_frame", seg.FirstFrame,
			"last_frame", seg.LastFrame,
			"duration", seg.Duration(),
		)
	default:
		c.recordSegment(ctx, "dropped")
		c.log.Warn("analysis queue full, dropping segment",
			"first_frame", seg.FirstFrame,
			"last_frame", seg.LastFrame,
			"queue_size", cap(c.queue),
		)
	}
}

func (c *Connection) recordSegment(ctx context.Context, status string) {
	if c.metrics != nil {
		c.metrics.RecordSegment(ctx, status)
	}
}

func (c *Connection) observeFrame(label string, speech bool, err error) {
	if err == nil {
		c.log.Debug("frame classified", "label", label, "speech", speech)
	}
}

// work analyses queued segments one at a time in finalize order.
func (c *Connection) work(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-c.queue:
			c.analyze(ctx, seg)
		}
	}
}

func (c *Connection) analyze(ctx context.Context, seg *segment.Segment) {
	start := time.Now()
	out, err := c.pipeline.Analyzer.Analyze(ctx, c.conv, seg.Samples, seg.SampleRate)

	var (
		parseErr *analysis.ParseError
		callErr  *analysis.ExternalCallError
	)
	switch {
	case err == nil:
		c.log.Info("segment analysed",
			"urgency", out.Urgency,
			"alerted", out.Alerted,
			"elapsed", time.Since(start),
		)
		if out.Alerted {
			c.log.Warn("alert broadcast",
				"targets", out.Report.Targets,
				"delivered", out.Report.Delivered,
				"failed", out.Report.Failed,
			)
		}
	case ctx.Err() != nil:
		c.log.Debug("analysis cancelled by disconnect", "err", err)
	case errors.Is(err, analysis.ErrEmptyTranscript):
		c.log.Debug("segment contained no speech")
	case errors.Is(err, stt.ErrUnsupportedFormat):
		c.log.Warn("segment dropped, unsupported audio format", "err", err)
	case errors.As(err, &parseErr):
		c.log.Warn("reply could not be parsed, fallback recorded", "err", err)
	case errors.As(err, &callErr):
		c.log.Error("analysis call failed", "stage", callErr.Stage, "err", err)
	default:
		c.log.Error("analysis failed", "err", err)
	}
}

// Close discards any in-progress segment without finalizing it, stops the
// worker (cancelling in-flight calls) and releases buffers. It blocks until
// the worker has exited. Close is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.segmenter.State() == segment.Collecting {
			c.recordSegment(context.Background(), "discarded")
		}
		c.segmenter.Discard()
		c.reasm.Reset()
		c.cancel()
		<-c.done
	})
}
