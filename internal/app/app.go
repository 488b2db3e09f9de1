// Package app wires the Hearken subsystems into a running server.
//
// The App owns the full lifecycle: New builds the shared broadcaster, the
// analysis orchestrator and the HTTP surface; Run serves websocket audio
// streams until the context is cancelled; Shutdown drains connections and
// waits for detached notifications.
//
// Every accepted stream gets its own [Connection]. Pipeline settings are
// captured per connection, so a hot reload through [App.ApplyConfig] only
// affects streams accepted afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hearken/internal/alert"
	"github.com/MrWong99/hearken/internal/analysis"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/segment"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/notify"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Providers holds the external collaborators. Populated by main.go via the
// config registry. Classifier, STT and LLM are required; a nil Notifier
// disables push notifications.
type Providers struct {
	Classifier classifier.Classifier
	STT        stt.Transcriber
	LLM        llm.Provider
	Notifier   notify.Notifier
}

// healthReporter is implemented by the resilience fallback wrappers.
type healthReporter interface {
	Healthy() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	metrics   *observe.Metrics

	conns    *ConnManager
	pipeline atomic.Pointer[Pipeline]
	health   *health.Handler
	handler  http.Handler

	originPatterns []string
	extraChecks    []health.Checker

	mu       sync.Mutex
	draining bool
	handlers sync.WaitGroup
	srv      *http.Server
	serving  atomic.Bool

	// notifications counts detached notifier calls of every pipeline
	// generation.
	notifications sync.WaitGroup

	// ctx is cancelled by Shutdown to end every stream.
	ctx  context.Context
	stop context.CancelFunc

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOriginPatterns sets the websocket origin patterns accepted in addition
// to same-origin requests. The default accepts any origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(a *App) { a.originPatterns = patterns }
}

// WithHealthCheckers adds readiness checks.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.extraChecks = append(a.extraChecks, checkers...) }
}

// WithCloser registers fn to run during Shutdown, after all streams ended.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg. cfg must have defaults applied and be valid.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Classifier == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: classifier, stt and llm providers are required")
	}
	a := &App{
		providers:      providers,
		originPatterns: []string{"*"},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.stop = context.WithCancel(context.Background())
	a.conns = NewConnManager(a.metrics)

	p, err := a.buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	a.pipeline.Store(p)
	a.cfg.Store(cfg)

	a.health = health.New(a.checkers()...)
	a.handler = a.routes(cfg.Observe.MetricsPath)
	return a, nil
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "listener",
		Check: func(context.Context) error {
			if !a.serving.Load() {
				return errors.New("not accepting connections")
			}
			return nil
		},
	}}
	if h, ok := a.providers.STT.(healthReporter); ok {
		checks = append(checks, health.HealthyFunc("stt", h.Healthy))
	}
	if h, ok := a.providers.LLM.(healthReporter); ok {
		checks = append(checks, health.HealthyFunc("llm", h.Healthy))
	}
	return append(checks, a.extraChecks...)
}

func (a *App) routes(metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleStream)
	mux.HandleFunc("GET /ws", a.handleStream)
	a.health.Register(mux)
	mux.Handle("GET "+metricsPath, promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// buildPipeline creates a broadcaster, an orchestrator and the segmenter
// settings for cfg.
func (a *App) buildPipeline(cfg *config.Config) (*Pipeline, error) {
	b := alert.New(a.conns, a.providers.Notifier,
		alert.WithSendTimeout(cfg.Alert.SendTimeout),
		alert.WithNotifyTimeout(cfg.Alert.NotifyTimeout),
		alert.WithMaxFanout(cfg.Alert.MaxFanout),
		alert.WithMetrics(a.metrics),
		alert.WithPending(&a.notifications),
	)

	an := cfg.Analysis
	orchOpts := []analysis.Option{
		analysis.WithMetrics(a.metrics),
		analysis.WithMaxConcurrent(an.MaxConcurrent),
		analysis.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name),
	}
	if an.DiagnosticClassifyEnabled() {
		orchOpts = append(orchOpts, analysis.WithClassifier(a.providers.Classifier))
	}
	orch, err := analysis.New(a.providers.STT, a.providers.LLM, b, analysis.Config{
		Template:           an.PromptTemplate,
		HistoryWindow:      an.HistoryWindow,
		HighUrgencyToken:   an.HighUrgencyToken,
		FallbackReply:      an.FallbackReply,
		Organization:       cfg.Alert.Organization,
		Timeout:            an.Timeout,
		ClassifyTimeout:    an.ClassifyTimeout,
		DiagnosticClassify: an.DiagnosticClassifyEnabled(),
		Temperature:        an.Temperature,
		MaxTokens:          an.MaxTokens,
	}, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: build orchestrator: %w", err)
	}

	seg := cfg.Segment
	segOpts := []segment.Option{
		segment.WithPreSpeech(seg.PreSpeech),
		segment.WithSilenceTimeout(seg.SilenceTimeout),
		segment.WithGain(seg.Gain),
		segment.WithSpeechLabels(seg.SpeechLabels...),
		segment.WithClassifyTimeout(seg.ClassifyTimeout),
	}
	if seg.Clock == config.ClockWall {
		segOpts = append(segOpts, segment.WithClock(time.Now))
	}

	return &Pipeline{
		Format:          cfg.Audio.Format(),
		MaxPendingBytes: cfg.Audio.MaxPendingBytes,
		ReadLimitBytes:  cfg.Audio.ReadLimitBytes,
		Classifier:      a.providers.Classifier,
		SegmentOptions:  segOpts,
		Analyzer:        orch,
		ContextCapacity: an.ContextCapacity,
		QueueSize:       an.QueueSize,
	}, nil
}

// Handler returns the HTTP handler serving streams, health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Conns returns the live connection set.
func (a *App) Conns() *ConnManager { return a.conns }

// Config returns the config the current pipeline was built from.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ApplyConfig installs the pipeline settings of next for connections
// accepted from now on. Live connections keep the pipeline they started
// with. It is meant to be used as a [config.ChangeFunc].
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if !d.PipelineChanged() {
		return
	}
	p, err := a.buildPipeline(next)
	if err != nil {
		slog.Error("config reload: keeping previous pipeline", "err", err)
		return
	}
	a.pipeline.Store(p)
	a.cfg.Store(next)
	slog.Info("config reload: pipeline updated for new connections",
		"segment", d.SegmentChanged,
		"analysis", d.AnalysisChanged,
		"alert", d.AlertChanged,
		"live_connections", a.conns.Len(),
	)
}

// track registers a stream handler unless the App is draining.
func (a *App) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return false
	}
	a.handlers.Add(1)
	return true
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down within the configured shutdown timeout. A listener
// failure is returned immediately.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Load()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.cfg.Load()
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.srv = srv
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		a.serving.Store(true)
		slog.Info("listening for audio streams", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		a.serving.Store(false)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting streams, closes every live connection, and waits
// for detached notifications. It respects the context deadline: once ctx
// expires the remaining steps are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.draining = true
		srv := a.srv
		a.mu.Unlock()
		a.health.SetDraining()

		slog.Info("shutting down", "connections", a.conns.Len())

		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("app: stop http server: %w", err)
			}
		}

		a.stop()
		if err := waitCtx(ctx, a.handlers.Wait); err != nil {
			slog.Warn("shutdown deadline exceeded while closing streams", "remaining", a.conns.Len())
			shutdownErr = errors.Join(shutdownErr, err)
			return
		}
		if err := waitCtx(ctx, a.notifications.Wait); err != nil {
			slog.Warn("shutdown deadline exceeded while waiting for notifications")
			shutdownErr = errors.Join(shutdownErr, err)
			return
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining_closers", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// waitCtx runs wait and returns when it finishes or ctx is done.
func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
