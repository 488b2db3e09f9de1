// Package classifier defines the Classifier interface for acoustic event
// classification backends.
//
// A classifier receives a window of normalised mono samples and returns the
// most likely event label (for example "Speech", "Music", "Silence") together
// with a confidence score. Hearken calls it once per frame to drive voice
// activity segmentation and once more per finalized segment for diagnostics.
//
// Implementations must be safe for concurrent use: one instance is shared by
// every connection.
package classifier

import (
	"context"
	"slices"
	"strings"
)

// Result is the outcome of a single classification.
type Result struct {
	// Label is the top-1 event class name. Empty means "unknown" and is
	// treated as non-speech by callers.
	Label string

	// Confidence is the score of Label in the range [0, 1].
	Confidence float64
}

// Classifier is the abstraction over any acoustic event classifier.
type Classifier interface {
	// Classify returns the top label for samples recorded at sampleRate.
	// It should honour ctx cancellation; callers apply per-call timeouts.
	Classify(ctx context.Context, samples []float32, sampleRate int) (Result, error)
}

// DefaultSpeechLabels is the label set that counts as human speech. Labels
// follow the AudioSet ontology used by YAMNet.
var DefaultSpeechLabels = []string{"speech", "conversation", "narration", "speech synthesizer"}

// LabelSet matches classifier labels case-insensitively.
type LabelSet struct {
	labels []string
}

// NewLabelSet builds a LabelSet from labels. Matching ignores case and
// surrounding whitespace.
func NewLabelSet(labels ...string) LabelSet {
	norm := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			norm = append(norm, l)
		}
	}
	return LabelSet{labels: norm}
}

// Contains reports whether label is a member of the set. The empty label is
// never a member.
func (s LabelSet) Contains(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	return slices.Contains(s.labels, label)
}
