// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "help, there is a fire"}
//	text, _ := tr.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber. Like real
// backends it rejects sample rates other than stt.RequiredSampleRate.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every successful call.
	Text string

	// Err, if non-nil, is returned from every call.
	Err error

	// Delay, if positive, blocks each call until it elapses or ctx is done.
	Delay time.Duration

	// Calls records every invocation in order.
	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Text or Err.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	m.Calls = append(m.Calls, TranscribeCall{Samples: cp, SampleRate: sampleRate})
	text, err, delay := m.Text, m.Err, m.Delay
	m.mu.Unlock()

	if err := stt.CheckFormat(sampleRate); err != nil {
		return "", err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
