package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in PCM sample units (0–32 767). Returns 0 for
// buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// NormalizedRMS returns the RMS energy of pcm scaled to [0, 1], where 1
// corresponds to a full-scale 16-bit signal.
func NormalizedRMS(pcm []byte) float64 {
	return RMS(pcm) / 32768.0
}

// VoiceRatio splits pcm into chunks of chunkSize bytes, computes the
// normalized RMS of each complete chunk, and returns the fraction of chunks
// whose energy exceeds threshold. The trailing partial chunk is ignored.
//
// The second return value reports whether at least one complete chunk was
// measured; callers use it to distinguish "no voice" from "nothing to
// measure".
func VoiceRatio(pcm []byte, chunkSize int, threshold float64) (float64, bool) {
	if chunkSize <= 0 || len(pcm) < chunkSize {
		return 0, false
	}
	var voiced, total int
	for i := 0; i+chunkSize <= len(pcm); i += chunkSize {
		if NormalizedRMS(pcm[i:i+chunkSize]) > threshold {
			voiced++
		}
		total++
	}
	if total == 0 {
		return 0, false
	}
	return float64(voiced) / float64(total), true
}
