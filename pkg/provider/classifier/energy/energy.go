// Package energy provides a dependency-free classifier that labels audio by
// RMS energy alone. It cannot tell speech from other loud sounds, but keeps
// the pipeline usable when no model server is available.
package energy

import (
	"context"
	"fmt"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

const (
	// LabelSpeech is returned for windows at or above the threshold.
	LabelSpeech = "Speech"

	// LabelSilence is returned for windows below the threshold.
	LabelSilence = "Silence"

	// defaultThreshold is the RMS level (normalised units) at which a window
	// counts as speech. 0.02 is roughly -34 dBFS.
	defaultThreshold = 0.02
)

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold overrides the RMS speech threshold. Non-positive values are
// ignored.
func WithThreshold(th float64) Option {
	return func(c *Classifier) {
		if th > 0 {
			c.threshold = th
		}
	}
}

// Classifier implements classifier.Classifier with an RMS threshold. It is
// stateless and safe for concurrent use.
type Classifier struct {
	threshold float64
}

var _ classifier.Classifier = (*Classifier)(nil)

// New returns an energy Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{threshold: defaultThreshold}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify labels samples as [LabelSpeech] or [LabelSilence]. Confidence
// grows with the distance from the threshold.
func (c *Classifier) Classify(ctx context.Context, samples []float32, _ int) (classifier.Result, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Result{}, fmt.Errorf("energy: %w", err)
	}
	level := audio.RMS(samples)
	dist := (level - c.threshold) / (2 * c.threshold)
	if level >= c.threshold {
		return classifier.Result{Label: LabelSpeech, Confidence: min(1, 0.5+dist)}, nil
	}
	return classifier.Result{Label: LabelSilence, Confidence: min(1, 0.5-dist)}, nil
}
