package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked. Everything else
// (listen address, audio format, providers) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SegmentChanged, AnalysisChanged and AlertChanged report changes to the
	// pipeline settings applied to connections accepted after the reload.
	SegmentChanged  bool
	AnalysisChanged bool
	AlertChanged    bool

	// RestartRequired lists the top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// PipelineChanged reports whether any per-connection pipeline setting changed.
func (d ConfigDiff) PipelineChanged() bool {
	return d.SegmentChanged || d.AnalysisChanged || d.AlertChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.SegmentChanged = !segmentEqual(old.Segment, new.Segment)
	d.AnalysisChanged = !analysisEqual(old.Analysis, new.Analysis)
	d.AlertChanged = old.Alert != new.Alert

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	a.LogLevel, b.LogLevel = "", ""
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	if a.TLS != nil && *a.TLS != *b.TLS {
		return false
	}
	a.TLS, b.TLS = nil, nil
	return a == b
}

func segmentEqual(a, b SegmentConfig) bool {
	return a.PreSpeech == b.PreSpeech &&
		a.SilenceTimeout == b.SilenceTimeout &&
		a.Gain == b.Gain &&
		a.ClassifyTimeout == b.ClassifyTimeout &&
		a.Clock == b.Clock &&
		slices.Equal(a.SpeechLabels, b.SpeechLabels)
}

func analysisEqual(a, b AnalysisConfig) bool {
	if a.DiagnosticClassifyEnabled() != b.DiagnosticClassifyEnabled() {
		return false
	}
	a.DiagnosticClassify, b.DiagnosticClassify = nil, nil
	return a == b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Classifier, b.Classifier) &&
		entryEqual(a.STT, b.STT) &&
		entryEqual(a.LLM, b.LLM) &&
		slices.EqualFunc(a.Notifiers, b.Notifiers, entryEqual) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}
