// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup and shared across calls; each
// call creates its own inference context.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string

	// sem bounds concurrent inference contexts, which are memory hungry.
	sem chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the language code for transcription
// (e.g., "zh", "en"). Defaults to "zh".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// WithNativeMaxConcurrent caps the number of simultaneous inference
// contexts. Defaults to 1.
func WithNativeMaxConcurrent(n int) NativeOption {
	return func(t *NativeTranscriber) {
		if n > 0 {
			t.sem = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model from
// modelPath. The caller must call Close when the transcriber is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &NativeTranscriber{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (t *NativeTranscriber) Close() error {
	t.closeOnce.Do(func() {
		if t.model != nil {
			t.closeErr = t.model.Close()
		}
	})
	return t.closeErr
}

// Transcribe runs whisper.cpp inference on samples and returns the
// concatenated segment text. The CGO call itself cannot be interrupted; ctx
// is honoured while waiting for a free inference slot.
func (t *NativeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := stt.CheckFormat(sampleRate); err != nil {
		return "", err
	}

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("whisper: wait for inference slot: %w", ctx.Err())
	}
	defer func() { <-t.sem }()

	// Contexts are NOT thread-safe, but the model can be shared.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", t.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
