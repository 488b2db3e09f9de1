// Package mock provides a test double for the classifier.Classifier interface.
//
// Results are served from a script in call order; once the script is
// exhausted Default is returned. Every call is recorded.
//
// Example:
//
//	c := &mock.Classifier{Script: []classifier.Result{{Label: "Silence"}, {Label: "Speech"}}}
//	res, _ := c.Classify(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// ClassifyCall records a single invocation of Classify.
type ClassifyCall struct {
	// Samples is the length of the sample slice passed to Classify.
	Samples int
	// SampleRate is the rate passed to Classify.
	SampleRate int
}

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script is consumed one entry per call, in order.
	Script []classifier.Result

	// Default is returned once Script is exhausted.
	Default classifier.Result

	// Err, if non-nil, is returned from every call instead of a result.
	Err error

	// Calls records every invocation in order.
	Calls []ClassifyCall

	next int
}

var _ classifier.Classifier = (*Classifier)(nil)

// Classify records the call and returns the next scripted result.
func (c *Classifier) Classify(_ context.Context, samples []float32, sampleRate int) (classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, ClassifyCall{Samples: len(samples), SampleRate: sampleRate})
	if c.Err != nil {
		return classifier.Result{}, c.Err
	}
	if c.next < len(c.Script) {
		r := c.Script[c.next]
		c.next++
		return r, nil
	}
	return c.Default, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
