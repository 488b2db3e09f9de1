// Package audio holds the PCM primitives shared by the Hearken pipeline:
// the [Frame] type, the byte-stream [Reassembler] that produces frames from
// arbitrarily chunked network deliveries, and the sample conversion helpers
// used by the segmenter and by provider adapters.
//
// All PCM handled here is 16-bit signed little-endian mono. Float samples are
// normalised to [-1, 1] by dividing by 32768.
package audio

import "time"

// DefaultSampleRate is the only sample rate accepted on the wire.
const DefaultSampleRate = 16000

// bytesPerSample is fixed for 16-bit PCM.
const bytesPerSample = 2

// Frame is a fixed-duration slice of normalised audio samples. Frames are the
// atomic unit of the pipeline and must not be mutated once emitted.
type Frame struct {
	// Index is the zero-based arrival index of the frame on its connection.
	Index int

	// Samples holds the normalised mono samples.
	Samples []float32
}

// Format describes the fixed framing of a stream.
type Format struct {
	SampleRate    int
	FrameDuration time.Duration
}

// FrameSamples returns the number of samples per frame for f.
func (f Format) FrameSamples() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// FrameBytes returns the number of PCM bytes that make up one frame.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * bytesPerSample
}
