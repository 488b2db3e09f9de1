// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber wraps a batch transcription engine (a local whisper.cpp
// server, the whisper.cpp CGO bindings, or any compatible service) and turns
// one finalized speech segment into text. Hearken never streams audio to the
// transcriber; segments are complete when they arrive.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// RequiredSampleRate is the only sample rate accepted by Hearken's
// transcribers.
const RequiredSampleRate = 16000

// ErrUnsupportedFormat is returned when the audio handed to Transcribe is not
// in a format the backend accepts. Callers drop the segment.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in samples, which are normalised
	// mono float32 values recorded at sampleRate. An empty string with a nil
	// error means nothing intelligible was heard.
	//
	// Implementations return an error wrapping ErrUnsupportedFormat when
	// sampleRate is not RequiredSampleRate.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// CheckFormat returns an error wrapping ErrUnsupportedFormat unless
// sampleRate equals RequiredSampleRate.
func CheckFormat(sampleRate int) error {
	if sampleRate != RequiredSampleRate {
		return &FormatError{SampleRate: sampleRate}
	}
	return nil
}

// FormatError describes a rejected sample rate.
type FormatError struct {
	SampleRate int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("stt: unsupported audio format: sample rate %d Hz, want %d Hz", e.SampleRate, RequiredSampleRate)
}

// Unwrap lets errors.Is match ErrUnsupportedFormat.
func (e *FormatError) Unwrap() error { return ErrUnsupportedFormat }
