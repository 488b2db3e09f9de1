// Package analysis turns finalized speech segments into scene
// classifications and decides when an emergency alert goes out.
//
// For each segment the [Orchestrator] transcribes the waveform, asks the
// reasoning service to classify the scene given the recent conversation,
// records both sides in the connection's context buffer, and broadcasts the
// raw reply when the classified urgency is high.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hearken/internal/alert"
	"github.com/MrWong99/hearken/internal/convo"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultHistoryWindow   = 3
	DefaultFallbackReply   = "unable to generate a reply"
	DefaultTimeout         = 30 * time.Second
	DefaultClassifyTimeout = 5 * time.Second
	DefaultMaxConcurrent   = 8
)

// Alerter receives high urgency results.
type Alerter interface {
	Broadcast(ctx context.Context, message, alertContext string) alert.Report
}

// Config tunes the orchestrator. Zero values select the defaults.
type Config struct {
	// Template is the instruction placed ahead of the history.
	Template string

	// HistoryWindow is how many prior messages are rendered into the prompt.
	HistoryWindow int

	// HighUrgencyToken is the reply urgency value that triggers an alert.
	HighUrgencyToken string

	// FallbackReply is appended as the assistant turn when a reply cannot
	// be parsed.
	FallbackReply string

	// Organization prefixes the notifier context string.
	Organization string

	// Timeout bounds each transcriber and reasoning call.
	Timeout time.Duration

	// ClassifyTimeout bounds the diagnostic whole-segment classification.
	ClassifyTimeout time.Duration

	// DiagnosticClassify enables the whole-segment classification. Its
	// result is only logged.
	DiagnosticClassify bool

	// Temperature and MaxTokens are passed to the reasoning service.
	Temperature float64
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.Template == "" {
		c.Template = DefaultTemplate
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.HighUrgencyToken == "" {
		c.HighUrgencyToken = DefaultHighUrgencyToken
	}
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
	return c
}

// Outcome describes what one Analyze call did.
type Outcome struct {
	// Transcript is the recognised text of the segment.
	Transcript string

	// Reply is the raw reasoning reply.
	Reply string

	// Result is nil when Reply could not be parsed.
	Result *Result

	// Urgency is the normalised urgency of Result.
	Urgency string

	// Alerted reports whether a broadcast was made; Report describes it.
	Alerted bool
	Report  alert.Report
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier enables diagnostic whole-segment classification with c.
func WithClassifier(c classifier.Classifier) Option {
	return func(o *Orchestrator) { o.cls = c }
}

// WithMetrics records latencies and outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMaxConcurrent bounds the number of analyses running at once across
// all connections.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) { o.maxConcurrent = n }
}

// WithProviderNames sets the provider labels used in metrics.
func WithProviderNames(transcriber, reasoner string) Option {
	return func(o *Orchestrator) {
		o.sttName = transcriber
		o.llmName = reasoner
	}
}

// Orchestrator runs the analysis pipeline. One Orchestrator is shared by
// all connections; each call receives the connection's own context buffer.
type Orchestrator struct {
	stt     stt.Transcriber
	llm     llm.Provider
	alerter Alerter
	cls     classifier.Classifier
	cfg     Config

	maxConcurrent int
	sem           *semaphore.Weighted
	metrics       *observe.Metrics

	sttName string
	llmName string
}

// New creates an Orchestrator. transcriber, reasoner and alerter are
// required.
func New(transcriber stt.Transcriber, reasoner llm.Provider, alerter Alerter, cfg Config, opts ...Option) (*Orchestrator, error) {
	if transcriber == nil || reasoner == nil || alerter == nil {
		return nil, errors.New("analysis: transcriber, reasoner and alerter are required")
	}
	o := &Orchestrator{
		stt:           transcriber,
		llm:           reasoner,
		alerter:       alerter,
		cfg:           cfg.withDefaults(),
		maxConcurrent: DefaultMaxConcurrent,
		sttName:       "stt",
		llmName:       "llm",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxConcurrent <= 0 {
		o.maxConcurrent = DefaultMaxConcurrent
	}
	o.sem = semaphore.NewWeighted(int64(o.maxConcurrent))
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Analyze processes one finalized segment for the connection owning conv.
//
// Errors:
//   - an [stt.FormatError] when sampleRate is not accepted; nothing is
//     appended to conv.
//   - [ErrEmptyTranscript] when nothing was recognised.
//   - an [*ExternalCallError] for a failed or timed out call; nothing is
//     appended for the reasoning stage.
//   - a [*ParseError] together with a non-nil Outcome when the reply was
//     malformed. The fallback reply has been appended and no alert was sent.
func (o *Orchestrator) Analyze(ctx context.Context, conv *convo.Buffer, waveform []float32, sampleRate int) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "analysis.Analyze")
	defer func() {
		if err != nil {
			span.RecordError(err)
			if out == nil {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		o.recordOutcome(ctx, out, err, time.Since(start))
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("analysis: wait for slot: %w", err)
	}
	defer o.sem.Release(1)

	log := observe.Logger(ctx)

	if o.cfg.DiagnosticClassify && o.cls != nil {
		o.diagnose(ctx, waveform, sampleRate)
	}

	text, err := o.transcribe(ctx, waveform, sampleRate)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	log.Info("transcribed segment", "text", text)

	history := conv.Recent(o.cfg.HistoryWindow)
	conv.Append(text, true)

	reply, err := o.reason(ctx, BuildPrompt(o.cfg.Template, history, text))
	if err != nil {
		return nil, err
	}
	out = &Outcome{Transcript: text, Reply: reply}

	res, err := ParseReply(reply)
	if err != nil {
		conv.Append(o.cfg.FallbackReply, false)
		return out, err
	}
	conv.Append(reply, false)

	out.Result = res
	out.Urgency = NormalizeUrgency(res.Urgency, o.cfg.HighUrgencyToken)
	span.SetAttributes(
		attribute.String("analysis.scene", res.Scene),
		attribute.String("analysis.urgency", out.Urgency),
	)
	log.Info("scene classified", "scene", res.Scene, "urgency", out.Urgency, "summary", res.Summary)

	if out.Urgency == UrgencyHigh {
		out.Report = o.alerter.Broadcast(context.WithoutCancel(ctx), reply, o.alertContext(res))
		out.Alerted = true
	}
	return out, nil
}

// alertContext renders the notifier message for res.
func (o *Orchestrator) alertContext(res *Result) string {
	s := res.Scene + " - " + res.Summary
	if o.cfg.Organization != "" {
		s = o.cfg.Organization + ": " + s
	}
	return s
}

func (o *Orchestrator) diagnose(ctx context.Context, waveform []float32, sampleRate int) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.cls.Classify(cctx, waveform, sampleRate)
	if o.metrics != nil {
		o.metrics.ClassifierDuration.Record(ctx, time.Since(start).Seconds(), observe.WithScope("segment"))
	}
	if err != nil {
		e := &ExternalCallError{Stage: StageClassify, Err: err}
		observe.Logger(ctx).Warn("segment classification failed", "err", e)
		return
	}
	observe.Logger(ctx).Info("segment classified", "label", res.Label, "confidence", res.Confidence)
}

func (o *Orchestrator) transcribe(ctx context.Context, waveform []float32, sampleRate int) (string, error) {
	if err := stt.CheckFormat(sampleRate); err != nil {
		return "", fmt.Errorf("analysis: transcribe: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := o.stt.Transcribe(tctx, waveform, sampleRate)
	if o.metrics != nil {
		o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		o.recordProvider(ctx, o.sttName, "stt", err)
		if errors.Is(err, stt.ErrUnsupportedFormat) {
			return "", fmt.Errorf("analysis: transcribe: %w", err)
		}
		return "", &ExternalCallError{Stage: StageTranscribe, Err: err}
	}
	o.recordProvider(ctx, o.sttName, "stt", nil)
	return text, nil
}

func (o *Orchestrator) reason(ctx context.Context, prompt string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req := llm.UserPrompt(prompt)
	req.Temperature = o.cfg.Temperature
	req.MaxTokens = o.cfg.MaxTokens

	start := time.Now()
	resp, err := o.llm.Complete(rctx, req)
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = ErrEmptyReply
	}
	o.recordProvider(ctx, o.llmName, "llm", err)
	if err != nil {
		return "", &ExternalCallError{Stage: StageReason, Err: err}
	}
	if o.metrics != nil {
		o.metrics.RecordTokens(ctx, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return resp.Content, nil
}

func (o *Orchestrator) recordProvider(ctx context.Context, name, kind string, err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, name, kind, "error")
		o.metrics.RecordProviderError(ctx, name, kind)
		return
	}
	o.metrics.RecordProviderRequest(ctx, name, kind, "ok")
}

func (o *Orchestrator) recordOutcome(ctx context.Context, out *Outcome, err error, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordAnalysis(ctx, Classify(out, err), d.Seconds())
}

// Classify maps the result of Analyze to one of the observe outcome labels.
func Classify(out *Outcome, err error) string {
	var pe *ParseError
	switch {
	case err == nil && out != nil && out.Alerted:
		return observe.OutcomeAlerted
	case err == nil:
		return observe.OutcomeNoAlert
	case errors.As(err, &pe):
		return observe.OutcomeParseError
	case errors.Is(err, ErrEmptyTranscript):
		return observe.OutcomeEmpty
	case errors.Is(err, stt.ErrUnsupportedFormat):
		return observe.OutcomeBadFormat
	default:
		return observe.OutcomeCallFailure
	}
}
