package audio

import (
	"errors"
	"fmt"
)

// ErrResidualOverflow is returned by [Reassembler.Write] when the residual
// bytes plus the incoming chunk exceed the configured bound. The chunk is
// rejected as a whole and the reassembler state is left untouched.
var ErrResidualOverflow = errors.New("audio: residual buffer overflow")

// Reassembler turns an arbitrarily chunked PCM byte stream into an ordered
// sequence of fixed-size [Frame] values. Leftover bytes that do not yet form
// a whole frame are kept for the next call; they are never dropped and never
// duplicated, so the emitted frame sequence is independent of how the input
// was split.
//
// A Reassembler belongs to exactly one connection and is not safe for
// concurrent use.
type Reassembler struct {
	frameSamples int
	frameBytes   int
	maxPending   int

	residual []byte
	next     int
}

// NewReassembler creates a Reassembler emitting frames of frameSamples
// samples. maxPending bounds the bytes a single [Reassembler.Write] may hold
// (residual plus chunk); values below one frame are raised to one frame.
func NewReassembler(frameSamples, maxPending int) (*Reassembler, error) {
	if frameSamples <= 0 {
		return nil, fmt.Errorf("audio: frameSamples must be positive, got %d", frameSamples)
	}
	frameBytes := frameSamples * bytesPerSample
	if maxPending < frameBytes {
		maxPending = frameBytes
	}
	return &Reassembler{
		frameSamples: frameSamples,
		frameBytes:   frameBytes,
		maxPending:   maxPending,
		residual:     make([]byte, 0, frameBytes),
	}, nil
}

// Write appends chunk to the residual buffer and returns every complete frame
// now available, in arrival order.
//
// If the residual plus chunk would exceed the bound, Write returns
// [ErrResidualOverflow] and consumes nothing: a sender is never allowed to
// grow the buffer without limit, and a chunk is never partially accepted.
func (r *Reassembler) Write(chunk []byte) ([]Frame, error) {
	total := len(r.residual) + len(chunk)
	if total > r.maxPending {
		return nil, fmt.Errorf("%w: %d bytes pending, limit %d", ErrResidualOverflow, total, r.maxPending)
	}
	if total < r.frameBytes {
		r.residual = append(r.residual, chunk...)
		return nil, nil
	}

	n := total / r.frameBytes
	frames := make([]Frame, 0, n)

	buf := make([]byte, 0, r.frameBytes)
	for range n {
		buf = buf[:0]
		need := r.frameBytes
		// Only the first frame can straddle residual and chunk.
		if len(r.residual) > 0 {
			take := min(len(r.residual), need)
			buf = append(buf, r.residual[:take]...)
			r.residual = r.residual[take:]
			need -= take
		}
		buf = append(buf, chunk[:need]...)
		chunk = chunk[need:]

		frames = append(frames, Frame{Index: r.next, Samples: PCMToFloat32(buf)})
		r.next++
	}

	// Copy the tail so the caller's chunk is never retained.
	rest := make([]byte, 0, r.frameBytes)
	rest = append(rest, r.residual...)
	rest = append(rest, chunk...)
	r.residual = rest

	return frames, nil
}

// Buffered returns the number of leftover bytes waiting for the next frame.
func (r *Reassembler) Buffered() int { return len(r.residual) }

// FrameSamples returns the configured frame size in samples.
func (r *Reassembler) FrameSamples() int { return r.frameSamples }

// Reset discards the residual buffer and releases its memory.
func (r *Reassembler) Reset() {
	r.residual = nil
}
