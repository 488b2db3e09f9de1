package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"classifier": {"energy", "yamnet"},
	"stt":        {"whisper", "whisper-native"},
	"llm":        {"openai", "fastgpt", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"notifier":   {"bark", "mqtt", "log"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	} else if a.SampleRate != DefaultSampleRate {
		slog.Warn("audio.sample_rate differs from the transcriber's required rate; every segment will be rejected",
			"sample_rate", a.SampleRate, "required", DefaultSampleRate)
	}
	if a.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s must be positive", a.FrameDuration))
	}
	if a.SampleRate > 0 && a.FrameDuration > 0 {
		frameBytes := a.Format().FrameBytes()
		if a.MaxPendingBytes < frameBytes {
			errs = append(errs, fmt.Errorf("audio.max_pending_bytes %d is smaller than one frame (%d bytes)", a.MaxPendingBytes, frameBytes))
		}
	}
	switch {
	case a.ReadLimitBytes <= 0:
		errs = append(errs, fmt.Errorf("audio.read_limit_bytes %d must be positive", a.ReadLimitBytes))
	case a.SampleRate > 0 && a.FrameDuration > 0 && a.ReadLimitBytes > a.MaxReadLimit():
		errs = append(errs, fmt.Errorf("audio.read_limit_bytes %d must not exceed max_pending_bytes minus one frame plus one byte (%d)",
			a.ReadLimitBytes, a.MaxReadLimit()))
	}

	// Segment
	s := cfg.Segment
	if s.PreSpeech < 0 {
		errs = append(errs, fmt.Errorf("segment.pre_speech %s must not be negative", s.PreSpeech))
	}
	if s.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("segment.silence_timeout %s must not be negative", s.SilenceTimeout))
	}
	if s.Gain <= 0 {
		errs = append(errs, fmt.Errorf("segment.gain %.2f must be positive", s.Gain))
	}
	if !s.Clock.IsValid() {
		errs = append(errs, fmt.Errorf("segment.clock %q is invalid; valid values: stream, wall", s.Clock))
	}

	// Analysis
	n := cfg.Analysis
	if n.ContextCapacity <= 0 {
		errs = append(errs, fmt.Errorf("analysis.context_capacity %d must be positive", n.ContextCapacity))
	}
	if n.HistoryWindow < 0 || n.HistoryWindow > n.ContextCapacity {
		errs = append(errs, fmt.Errorf("analysis.history_window %d must be in [0, context_capacity]", n.HistoryWindow))
	}
	if n.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("analysis.max_concurrent %d must be positive", n.MaxConcurrent))
	}
	if n.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("analysis.queue_size %d must be positive", n.QueueSize))
	}
	if n.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %s must be positive", n.Timeout))
	}
	if n.Temperature < 0 || n.Temperature > 2 {
		errs = append(errs, fmt.Errorf("analysis.temperature %.2f is out of range [0, 2]", n.Temperature))
	}
	if n.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_tokens %d must not be negative", n.MaxTokens))
	}

	// Alert
	if cfg.Alert.MaxFanout <= 0 {
		errs = append(errs, fmt.Errorf("alert.max_fanout %d must be positive", cfg.Alert.MaxFanout))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("classifier", p.Classifier.Name)
	if p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", p.STT.Name)
	if p.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", p.LLM.Name)
	for i, e := range p.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range p.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range p.Notifiers {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.notifiers[%d].name is required", i))
		}
		validateProviderName("notifier", e.Name)
	}
	if len(p.Notifiers) == 0 {
		slog.Warn("no notifiers configured; alerts will reach websocket clients only")
	}

	// Resilience
	r := cfg.Resilience
	if r.MaxFailures < 0 || r.HalfOpenMax < 0 || r.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
