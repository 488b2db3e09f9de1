// Package config provides the configuration schema, loader, and provider registry
// for the Hearken audio guard service.
package config

import (
	"slices"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// LogLevel controls log verbosity for the Hearken server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// ClockMode selects the segmenter's notion of time.
type ClockMode string

const (
	// ClockStream advances one frame duration per processed frame.
	ClockStream ClockMode = "stream"

	// ClockWall uses the wall clock at processing time.
	ClockWall ClockMode = "wall"
)

// IsValid reports whether c is a recognised clock mode.
func (c ClockMode) IsValid() bool {
	return c == ClockStream || c == ClockWall
}

// Config is the root configuration structure for Hearken.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Segment    SegmentConfig    `yaml:"segment"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Alert      AlertConfig      `yaml:"alert"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// ServerConfig holds network and logging settings for the Hearken server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8765".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or json output. Default text.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the inbound PCM stream.
type AudioConfig struct {
	// SampleRate of the wire PCM. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDuration is the segmentation unit. Default 500ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// MaxPendingBytes bounds the per-connection residual buffer. A chunk that
	// would exceed it closes the connection. Default 1 MiB.
	MaxPendingBytes int `yaml:"max_pending_bytes"`

	// ReadLimitBytes caps a single websocket message. It must leave room for
	// a partial frame in the residual buffer, see [AudioConfig.MaxReadLimit].
	// Default 512 KiB.
	ReadLimitBytes int `yaml:"read_limit_bytes"`
}

// MaxReadLimit is the largest message size that can never overflow the
// residual buffer. Up to one frame minus a byte may be held over from the
// previous message, so a full-size message must fit beside it.
func (a AudioConfig) MaxReadLimit() int {
	return a.MaxPendingBytes - a.Format().FrameBytes() + 1
}

// Format returns the wire audio format.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, FrameDuration: a.FrameDuration}
}

// SegmentConfig tunes the voice activity segmenter.
type SegmentConfig struct {
	PreSpeech      time.Duration `yaml:"pre_speech"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	Gain           float64       `yaml:"gain"`

	// SpeechLabels are the classifier labels treated as speech,
	// case-insensitively.
	SpeechLabels []string `yaml:"speech_labels"`

	// ClassifyTimeout bounds each per-frame classifier call. Default 5s.
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`

	Clock ClockMode `yaml:"clock"`
}

// AnalysisConfig tunes transcription, reasoning and the context buffer.
type AnalysisConfig struct {
	ContextCapacity  int    `yaml:"context_capacity"`
	HistoryWindow    int    `yaml:"history_window"`
	PromptTemplate   string `yaml:"prompt_template"`
	HighUrgencyToken string `yaml:"high_urgency_token"`
	FallbackReply    string `yaml:"fallback_reply"`

	// Timeout bounds each transcriber and reasoning call. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// ClassifyTimeout bounds the diagnostic whole-segment classification.
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`

	// MaxConcurrent bounds analyses across all connections. Default 8.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueSize is the per-connection backlog of finalized segments. When it
	// is full new segments are dropped. Default 4.
	QueueSize int `yaml:"queue_size"`

	// DiagnosticClassify logs a classification of every whole segment.
	// Default true.
	DiagnosticClassify *bool `yaml:"diagnostic_classify"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AlertConfig tunes the alert broadcaster.
type AlertConfig struct {
	// Organization prefixes push notification messages.
	Organization string `yaml:"organization"`

	SendTimeout   time.Duration `yaml:"send_timeout"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	MaxFanout     int           `yaml:"max_fanout"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Classifier ProviderEntry `yaml:"classifier"`
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`

	// Notifiers all receive every alert.
	Notifiers []ProviderEntry `yaml:"notifiers"`

	// LLMFallbacks and STTFallbacks are tried in order when the primary
	// fails or its circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. For
	// the bark notifier it is the device key.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.0-flash").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	s, ok := e.Options[key].(string)
	return s, ok
}

// IntOption returns Options[key] when it is an integer.
func (e ProviderEntry) IntOption(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// FloatOption returns Options[key] when it is numeric.
func (e ProviderEntry) FloatOption(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// BoolOption returns Options[key] when it is a bool.
func (e ProviderEntry) BoolOption(key string) (bool, bool) {
	b, ok := e.Options[key].(bool)
	return b, ok
}

// ResilienceConfig tunes the circuit breakers guarding each provider.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	// ServiceName is reported in telemetry. Default "hearken".
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where Prometheus metrics are served. Default "/metrics".
	MetricsPath string `yaml:"metrics_path"`

	// TraceSampleRatio is the fraction of analyses traced, in [0, 1].
	// Zero traces every analysis.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults.
const (
	DefaultListenAddr      = ":8765"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSampleRate      = 16000
	DefaultFrameDuration   = 500 * time.Millisecond
	DefaultMaxPendingBytes = 1 << 20
	DefaultReadLimitBytes  = 512 << 10

	DefaultPreSpeech       = time.Second
	DefaultSilenceTimeout  = 2 * time.Second
	DefaultGain            = 2.0
	DefaultFrameClassify   = 5 * time.Second
	DefaultContextCapacity = 10
	DefaultHistoryWindow   = 3
	DefaultAnalysisTimeout = 30 * time.Second
	DefaultMaxConcurrent   = 8
	DefaultQueueSize       = 4

	DefaultSendTimeout   = 5 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
	DefaultMaxFanout     = 32

	DefaultClassifier  = "energy"
	DefaultServiceName = "hearken"
	DefaultMetricsPath = "/metrics"
)

// ApplyDefaults fills every zero value with its default. It is idempotent.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &c.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.FrameDuration == 0 {
		a.FrameDuration = DefaultFrameDuration
	}
	if a.MaxPendingBytes == 0 {
		a.MaxPendingBytes = DefaultMaxPendingBytes
	}
	if a.ReadLimitBytes == 0 {
		a.ReadLimitBytes = max(min(DefaultReadLimitBytes, a.MaxReadLimit()), 0)
	}

	g := &c.Segment
	if g.PreSpeech == 0 {
		g.PreSpeech = DefaultPreSpeech
	}
	if g.SilenceTimeout == 0 {
		g.SilenceTimeout = DefaultSilenceTimeout
	}
	if g.Gain == 0 {
		g.Gain = DefaultGain
	}
	if len(g.SpeechLabels) == 0 {
		g.SpeechLabels = slices.Clone(classifier.DefaultSpeechLabels)
	}
	if g.ClassifyTimeout == 0 {
		g.ClassifyTimeout = DefaultFrameClassify
	}
	if g.Clock == "" {
		g.Clock = ClockStream
	}

	n := &c.Analysis
	if n.ContextCapacity == 0 {
		n.ContextCapacity = DefaultContextCapacity
	}
	if n.HistoryWindow == 0 {
		n.HistoryWindow = DefaultHistoryWindow
	}
	if n.Timeout == 0 {
		n.Timeout = DefaultAnalysisTimeout
	}
	if n.ClassifyTimeout == 0 {
		n.ClassifyTimeout = DefaultFrameClassify
	}
	if n.MaxConcurrent == 0 {
		n.MaxConcurrent = DefaultMaxConcurrent
	}
	if n.QueueSize == 0 {
		n.QueueSize = DefaultQueueSize
	}
	if n.DiagnosticClassify == nil {
		on := true
		n.DiagnosticClassify = &on
	}

	l := &c.Alert
	if l.SendTimeout == 0 {
		l.SendTimeout = DefaultSendTimeout
	}
	if l.NotifyTimeout == 0 {
		l.NotifyTimeout = DefaultNotifyTimeout
	}
	if l.MaxFanout == 0 {
		l.MaxFanout = DefaultMaxFanout
	}

	if c.Providers.Classifier.Name == "" {
		c.Providers.Classifier.Name = DefaultClassifier
	}

	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = DefaultServiceName
	}
	if c.Observe.MetricsPath == "" {
		c.Observe.MetricsPath = DefaultMetricsPath
	}
}

// DiagnosticClassifyEnabled reports the effective diagnostic_classify value.
func (a AnalysisConfig) DiagnosticClassifyEnabled() bool {
	return a.DiagnosticClassify == nil || *a.DiagnosticClassify
}
