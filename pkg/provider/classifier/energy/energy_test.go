package energy_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/classifier/energy"
)

func sine(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := energy.New()
	speechSet := classifier.NewLabelSet(classifier.DefaultSpeechLabels...)

	tests := []struct {
		name       string
		samples    []float32
		wantLabel  string
		wantSpeech bool
	}{
		{"silence", make([]float32, 8000), energy.LabelSilence, false},
		{"quiet hum", sine(8000, 0.005), energy.LabelSilence, false},
		{"loud tone", sine(8000, 0.5), energy.LabelSpeech, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := c.Classify(context.Background(), tt.samples, 16000)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if res.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", res.Label, tt.wantLabel)
			}
			if res.Confidence < 0.5 || res.Confidence > 1 {
				t.Errorf("confidence = %v, want within [0.5, 1]", res.Confidence)
			}
			if got := speechSet.Contains(res.Label); got != tt.wantSpeech {
				t.Errorf("speech set membership = %v, want %v", got, tt.wantSpeech)
			}
		})
	}
}

func TestClassify_CustomThreshold(t *testing.T) {
	t.Parallel()

	c := energy.New(energy.WithThreshold(0.5))
	res, err := c.Classify(context.Background(), sine(8000, 0.3), 16000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Label != energy.LabelSilence {
		t.Errorf("label = %q, want %q", res.Label, energy.LabelSilence)
	}
}

func TestClassify_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := energy.New().Classify(ctx, sine(10, 1), 16000); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
