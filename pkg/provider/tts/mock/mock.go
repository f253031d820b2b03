// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio from Synthesize and to verify the
// text and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{SynthesizeResult: []byte("mp3-bytes")}
//	audio, err := p.Synthesize(ctx, "hello", "voice-1")
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// VoiceID is the voice identifier passed to Synthesize.
	VoiceID string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is the audio returned by Synthesize when SynthesizeErr
	// and SynthesizeFunc are unset.
	SynthesizeResult []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, fully overrides Synthesize behaviour. The
	// call is still recorded. Useful for per-call results or for blocking
	// until a signal in concurrency tests.
	SynthesizeFunc func(ctx context.Context, text, voiceID string) ([]byte, error)

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, VoiceID: voiceID})
	fn := p.SynthesizeFunc
	result := p.SynthesizeResult
	errv := p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voiceID)
	}
	if errv != nil {
		return nil, errv
	}
	out := make([]byte, len(result))
	copy(out, result)
	return out, nil
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
