// Package segment implements the voice activity state machine that cuts
// spoken utterances out of a continuous frame stream.
//
// Every frame is pushed into a short pre-speech ring and classified. The
// first speech frame moves the segmenter from [Idle] to [Collecting] and
// back-fills the ring (minus the frame itself) so the utterance keeps its
// acoustic lead-in. While collecting, every frame is kept, including trailing
// silence. Once no speech has been seen for the silence timeout, the segment
// is concatenated, amplified, clipped and returned.
//
// A Segmenter belongs to exactly one connection and is not safe for
// concurrent use.
package segment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// Defaults applied by New.
const (
	DefaultPreSpeech       = time.Second
	DefaultSilenceTimeout  = 2 * time.Second
	DefaultGain            = 2.0
	DefaultClassifyTimeout = 5 * time.Second
)

// State is the segmenter state.
type State int

const (
	// Idle means no utterance is in progress.
	Idle State = iota
	// Collecting means frames are being accumulated into a segment.
	Collecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Segment is a finalized utterance.
type Segment struct {
	// Samples is the amplified and clipped waveform.
	Samples []float32

	// SampleRate of Samples.
	SampleRate int

	// FirstFrame and LastFrame are the arrival indices of the first and last
	// frame in the segment, inclusive.
	FirstFrame int
	LastFrame  int

	// Frames is the number of frames concatenated.
	Frames int
}

// Duration returns the audio length of the segment.
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithPreSpeech sets how much audio before the speech onset is kept. The
// ring holds ceil(d / frameDuration) frames.
func WithPreSpeech(d time.Duration) Option {
	return func(s *Segmenter) { s.preSpeech = d }
}

// WithSilenceTimeout sets how long speech must be absent before a segment
// is finalized.
func WithSilenceTimeout(d time.Duration) Option {
	return func(s *Segmenter) { s.silenceTimeout = d }
}

// WithGain sets the amplification applied to finalized segments.
func WithGain(g float64) Option {
	return func(s *Segmenter) { s.gain = g }
}

// WithSpeechLabels replaces the classifier labels that count as speech.
func WithSpeechLabels(labels ...string) Option {
	return func(s *Segmenter) { s.speech = classifier.NewLabelSet(labels...) }
}

// WithClassifyTimeout bounds each per-frame classifier call.
func WithClassifyTimeout(d time.Duration) Option {
	return func(s *Segmenter) { s.classifyTimeout = d }
}

// WithClock makes endpointing use now instead of stream time. Stream time
// advances by one frame duration per frame and is the default.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.clock = now }
}

// WithObserver registers a callback invoked after every classification with
// the label (empty on error) and whether it counted as speech.
func WithObserver(fn func(label string, speech bool, err error)) Option {
	return func(s *Segmenter) { s.observe = fn }
}

// Segmenter is the per-connection voice activity state machine.
type Segmenter struct {
	cls    classifier.Classifier
	format audio.Format

	preSpeech       time.Duration
	silenceTimeout  time.Duration
	gain            float64
	classifyTimeout time.Duration
	speech          classifier.LabelSet
	clock           func() time.Time
	observe         func(label string, speech bool, err error)

	ring       *Ring[audio.Frame]
	state      State
	frames     []audio.Frame
	lastSpeech time.Time
}

// New creates a Segmenter that classifies frames of the given format with
// cls.
func New(cls classifier.Classifier, format audio.Format, opts ...Option) (*Segmenter, error) {
	if cls == nil {
		return nil, errors.New("segment: classifier must not be nil")
	}
	if format.SampleRate <= 0 || format.FrameDuration <= 0 {
		return nil, fmt.Errorf("segment: invalid format %+v", format)
	}
	s := &Segmenter{
		cls:             cls,
		format:          format,
		preSpeech:       DefaultPreSpeech,
		silenceTimeout:  DefaultSilenceTimeout,
		gain:            DefaultGain,
		classifyTimeout: DefaultClassifyTimeout,
		speech:          classifier.NewLabelSet(classifier.DefaultSpeechLabels...),
	}
	for _, o := range opts {
		o(s)
	}
	if s.silenceTimeout < 0 {
		return nil, fmt.Errorf("segment: negative silence timeout %s", s.silenceTimeout)
	}
	s.ring = NewRing[audio.Frame](RingSize(s.preSpeech, format.FrameDuration))
	return s, nil
}

// RingSize returns ceil(preSpeech / frameDuration), at least one.
func RingSize(preSpeech, frameDuration time.Duration) int {
	if frameDuration <= 0 {
		return 1
	}
	k := int(math.Ceil(float64(preSpeech) / float64(frameDuration)))
	return max(k, 1)
}

// State reports the current state.
func (s *Segmenter) State() State { return s.state }

// Pending reports the number of frames in the in-progress segment.
func (s *Segmenter) Pending() int { return len(s.frames) }

// RingCap reports the pre-speech ring capacity.
func (s *Segmenter) RingCap() int { return s.ring.Cap() }

// Process feeds one frame through the state machine and returns the
// finalized segment, if this frame completed one.
//
// A classifier failure is treated as a non-speech label. The error is still
// returned for logging, possibly alongside a segment the frame finalized.
func (s *Segmenter) Process(ctx context.Context, f audio.Frame) (*Segment, error) {
	s.ring.Push(f)

	label, cerr := s.classify(ctx, f)
	speech := cerr == nil && s.speech.Contains(label)
	if s.observe != nil {
		s.observe(label, speech, cerr)
	}
	now := s.now(f)

	if speech {
		if s.state == Idle {
			s.state = Collecting
			items := s.ring.Items()
			s.frames = append(s.frames, items[:len(items)-1]...)
		}
		s.frames = append(s.frames, f)
		s.lastSpeech = now
		return nil, cerr
	}

	if s.state != Collecting {
		return nil, cerr
	}
	s.frames = append(s.frames, f)
	if now.Sub(s.lastSpeech) < s.silenceTimeout {
		return nil, cerr
	}
	return s.finalize(), cerr
}

// Discard drops any in-progress segment without finalizing it and returns
// to Idle. The pre-speech ring is cleared as well.
func (s *Segmenter) Discard() {
	s.frames = nil
	s.lastSpeech = time.Time{}
	s.state = Idle
	s.ring.Reset()
}

func (s *Segmenter) classify(ctx context.Context, f audio.Frame) (string, error) {
	cctx := ctx
	if s.classifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.classifyTimeout)
		defer cancel()
	}
	res, err := s.cls.Classify(cctx, f.Samples, s.format.SampleRate)
	if err != nil {
		return "", fmt.Errorf("segment: classify frame %d: %w", f.Index, err)
	}
	return res.Label, nil
}

// now returns the endpointing time for f. Stream time is the end of the
// frame measured from the start of the connection.
func (s *Segmenter) now(f audio.Frame) time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Time{}.Add(time.Duration(f.Index+1) * s.format.FrameDuration)
}

func (s *Segmenter) finalize() *Segment {
	seg := &Segment{
		Samples:    audio.ApplyGain(audio.Concat(s.frames), float32(s.gain)),
		SampleRate: s.format.SampleRate,
		FirstFrame: s.frames[0].Index,
		LastFrame:  s.frames[len(s.frames)-1].Index,
		Frames:     len(s.frames),
	}
	s.frames = nil
	s.lastSpeech = time.Time{}
	s.state = Idle
	return seg
}
