// Package audio holds the shared audio data model for the voicewire pipeline:
// frames, utterances, PCM energy helpers, and the capture Device interface.
//
// All PCM in this package is 16-bit signed little-endian, the format produced
// by capture devices and consumed by the STT and VAD stages.
package audio

import "time"

// BitsPerSample is fixed at 16 for the signed little-endian PCM flowing
// through the pipeline.
const BitsPerSample = 16

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono (the capture and STT default).
	Channels int
}

// DefaultFormat is the capture format used when none is configured:
// 16 kHz mono, the rate expected by whisper-style transcription backends.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate of the format, or 0 when the
// format is invalid.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * (BitsPerSample / 8)
}

// Utterance is one voice-bounded segment of captured audio, from detected
// speech onset to detected speech end. The capture loop owns the buffer
// exclusively until it hands the Utterance off to the transcription stage;
// after hand-off, ownership transfers to the single consumer.
type Utterance struct {
	// PCM is the concatenated frame data of the whole segment.
	PCM []byte

	// Format describes PCM's sample rate and channel count.
	Format Format

	// Start marks when the first frame of the segment was captured.
	Start time.Time
}

// Duration returns the play length of the utterance derived from the PCM
// byte count, or 0 when the format is invalid.
func (u Utterance) Duration() time.Duration {
	bps := u.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(u.PCM)) * time.Second / time.Duration(bps)
}
