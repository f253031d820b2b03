// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) behind a
// single blocking call: Synthesize accepts a complete text and returns the
// fully rendered audio. Workers that want parallelism run multiple Synthesize
// calls concurrently rather than streaming within one call.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice identifies a synthesis voice offered by a provider.
type Voice struct {
	// ID is the provider-assigned voice identifier used in synthesis requests.
	ID string
	// Name is the human-readable voice name (e.g., "Neerja").
	Name string
	// Language is the BCP-47 style language tag the voice is tuned for
	// (e.g., "en-IN", "hi-IN"). May be empty if the provider does not report it.
	Language string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use: the synthesis worker pool
// issues several Synthesize calls in parallel.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// encoded audio (format is implementation-defined, typically MP3).
	//
	// A synthesis failure is reported through a non-nil error, never through
	// an empty byte slice: callers treat (nil, nil) for non-empty text as a
	// provider bug. Blocks until the audio is complete or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error)
}
