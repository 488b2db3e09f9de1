package audio

import (
	"encoding/binary"
	"math"
)

// PCMToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised by 32768. A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / bytesPerSample
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// Float32ToPCM converts normalised samples back to 16-bit signed
// little-endian PCM. Values outside [-1, 1] are clipped.
func Float32ToPCM(samples []float32) []byte {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := float64(clip(s)) * 32768.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

// Concat joins the samples of frames in order into a single new slice.
func Concat(frames []Frame) []float32 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}

// ApplyGain multiplies every sample by gain and clips the result to [-1, 1]
// in place. It returns samples for chaining.
func ApplyGain(samples []float32, gain float32) []float32 {
	for i, s := range samples {
		samples[i] = clip(s * gain)
	}
	return samples
}

// RMS returns the root-mean-square level of samples in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clip(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}

// EncodeWAV wraps normalised mono samples in a 16-bit PCM RIFF/WAV container
// suitable for multipart uploads to HTTP inference servers.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const channels = 1
	pcm := Float32ToPCM(samples)
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
