package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
//
// [stt.ErrUnsupportedFormat] is permanent: every backend would reject the
// same waveform, so it is returned at once and never trips a breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	userPermanent := cfg.Permanent
	cfg.Permanent = func(err error) bool {
		if errors.Is(err, stt.ErrUnsupportedFormat) {
			return true
		}
		return userPermanent != nil && userPermanent(err)
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe runs the first healthy transcriber. If it fails, subsequent
// fallbacks are tried.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, samples, sampleRate)
	})
}

// Healthy reports whether any backend's breaker is not open.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }
