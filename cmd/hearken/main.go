// Command hearken is the main entry point for the Hearken audio alert server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/classifier/energy"
	"github.com/MrWong99/hearken/pkg/provider/classifier/yamnet"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/llm/anyllm"
	"github.com/MrWong99/hearken/pkg/provider/llm/openai"
	"github.com/MrWong99/hearken/pkg/provider/notify"
	"github.com/MrWong99/hearken/pkg/provider/notify/bark"
	"github.com/MrWong99/hearken/pkg/provider/notify/mqtt"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload pipeline settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearken: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearken: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("hearken starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Observe.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Observe.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return otelShutdown(sctx)
		}),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(old, next, d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the reasoning backends served through any-llm-go.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Frame classifiers ─────────────────────────────────────────────────────

	reg.RegisterClassifier("energy", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		var opts []energy.Option
		if th, ok := entry.FloatOption("threshold"); ok {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterClassifier("yamnet", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		var opts []yamnet.Option
		if path, ok := entry.StringOption("endpoint"); ok {
			opts = append(opts, yamnet.WithEndpoint(path))
		}
		return yamnet.New(entry.BaseURL, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath, _ = entry.StringOption("model_path")
		}
		var opts []whisper.NativeOption
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := entry.IntOption("max_concurrent"); ok {
			opts = append(opts, whisper.WithNativeMaxConcurrent(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai and fastgpt both speak the chat completions API; fastgpt is
	// always reached through its own base URL.
	for _, name := range []string{"openai", "fastgpt"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			if name == "fastgpt" && entry.BaseURL == "" {
				return nil, errors.New("fastgpt: base_url is required")
			}
			var opts []openai.Option
			if entry.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(entry.BaseURL))
			}
			if org, ok := entry.StringOption("organization"); ok {
				opts = append(opts, openai.WithOrganization(org))
			}
			if n, ok := entry.IntOption("max_retries"); ok {
				opts = append(opts, openai.WithMaxRetries(n))
			}
			return openai.New(entry.APIKey, entry.Model, opts...)
		})
	}

	for _, name := range anyllmProviders {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── Notifiers ─────────────────────────────────────────────────────────────

	reg.RegisterNotifier("bark", func(entry config.ProviderEntry) (notify.Notifier, error) {
		var opts []bark.Option
		if entry.BaseURL != "" {
			opts = append(opts, bark.WithBaseURL(entry.BaseURL))
		}
		if title, ok := entry.StringOption("title"); ok {
			opts = append(opts, bark.WithTitle(title))
		}
		if level, ok := entry.StringOption("level"); ok {
			opts = append(opts, bark.WithLevel(level))
		}
		return bark.New(entry.APIKey, opts...)
	})

	reg.RegisterNotifier("mqtt", func(entry config.ProviderEntry) (notify.Notifier, error) {
		cfg := mqtt.Config{Broker: entry.BaseURL}
		cfg.Topic, _ = entry.StringOption("topic")
		cfg.ClientID, _ = entry.StringOption("client_id")
		cfg.Username, _ = entry.StringOption("username")
		cfg.Password = entry.APIKey
		if qos, ok := entry.IntOption("qos"); ok {
			if qos < 0 || qos > 2 {
				return nil, fmt.Errorf("mqtt: invalid qos %d", qos)
			}
			cfg.QoS = byte(qos)
		}
		cfg.Retained, _ = entry.BoolOption("retained")
		return mqtt.New(cfg)
	})

	reg.RegisterNotifier("log", func(config.ProviderEntry) (notify.Notifier, error) {
		return notify.Func(func(_ context.Context, message string) error {
			slog.Warn("alert notification", "message", message)
			return nil
		}), nil
	})
}

// connector is implemented by notifiers that hold a broker connection.
type connector interface {
	Connect(ctx context.Context) error
}

// buildProviders instantiates every provider named in cfg. The returned
// closers release provider resources and run during shutdown.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}

	ps := &app.Providers{}
	breaker := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
			HalfOpenMax:  cfg.Resilience.HalfOpenMax,
		},
	}

	cls, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, nil, fmt.Errorf("create classifier %q: %w", cfg.Providers.Classifier.Name, err)
	}
	ps.Classifier = cls
	slog.Info("provider created", "kind", "classifier", "name", cfg.Providers.Classifier.Name)

	// ── STT with fallbacks ────────────────────────────────────────────────────
	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(primarySTT)
	sttGroup := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, breaker)
	for _, entry := range cfg.Providers.STTFallbacks {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		track(t)
		sttGroup.AddFallback(entry.Name, t)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "fallbacks", len(cfg.Providers.STTFallbacks))

	// ── LLM with fallbacks ────────────────────────────────────────────────────
	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, breaker)
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		llmGroup.AddFallback(entry.Name, p)
	}
	ps.LLM = llmGroup
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))

	// ── Notifiers ─────────────────────────────────────────────────────────────
	var targets notify.Multi
	for _, entry := range cfg.Providers.Notifiers {
		n, err := reg.CreateNotifier(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create notifier %q: %w", entry.Name, err)
		}
		if c, ok := n.(connector); ok {
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := c.Connect(cctx); err != nil {
				slog.Warn("notifier not connected yet, retrying in background", "name", entry.Name, "err", err)
			}
			cancel()
		}
		track(n)
		targets = append(targets, notify.Named{Name: entry.Name, Notifier: n})
		slog.Info("provider created", "kind", "notifier", "name", entry.Name)
	}
	if len(targets) > 0 {
		ps.Notifier = targets
	}

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Hearken: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Classifier", cfg.Providers.Classifier.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  Notifiers       : %-19d ║\n", len(cfg.Providers.Notifiers))
	fmt.Printf("║  Frame           : %-19s ║\n", cfg.Audio.FrameDuration)
	fmt.Printf("║  Silence timeout : %-19s ║\n", cfg.Segment.SilenceTimeout)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
