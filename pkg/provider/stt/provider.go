// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Groq's hosted Whisper
// or a local whisper server) behind a single batch call: the transcription
// worker hands over one complete utterance and receives the recognised text.
// Streaming partials are deliberately out of scope — the pipeline segments
// audio with its own voice activity detector and only ever submits finished
// utterances.
//
// Implementations must be safe for concurrent use and must tolerate empty or
// garbled audio by returning an empty Transcript rather than an error for
// ordinary "no speech" cases; errors are reserved for transport and API
// failures.
package stt

import (
	"context"

	"github.com/voicewire/voicewire/pkg/audio"
)

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognised text. Empty when the audio contained no speech.
	Text string

	// Confidence is the provider's overall confidence in Text, in [0, 1].
	// Providers that do not report confidence leave it at 0.
	Confidence float64
}

// Provider is the abstraction over any batch transcription backend.
//
// Implementations must be safe for concurrent use; the transcription worker
// may overlap calls when utterances queue up.
type Provider interface {
	// Transcribe converts one utterance of raw 16-bit little-endian PCM in
	// the given format into text. Returns an error only for transport or API
	// failures; silence and unintelligible audio yield an empty Transcript.
	Transcribe(ctx context.Context, pcm []byte, format audio.Format) (Transcript, error)
}
