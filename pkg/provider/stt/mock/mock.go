// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to inject Transcript responses and inspect the audio that was
// submitted for transcription.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResult: stt.Transcript{Text: "hello", Confidence: 0.9},
//	}
//	tr, _ := p.Transcribe(ctx, pcm, audio.DefaultFormat)
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes passed to Transcribe.
	PCM []byte

	// Format is the audio format passed to Transcribe.
	Format audio.Format
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by every Transcribe call.
	TranscribeResult stt.Transcript

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeFunc, if non-nil, overrides TranscribeResult/TranscribeErr
	// entirely. The call is still recorded first.
	TranscribeFunc func(ctx context.Context, pcm []byte, format audio.Format) (stt.Transcript, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (stt.Transcript, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, Format: format})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, format)
	}
	if p.TranscribeErr != nil {
		return stt.Transcript{}, p.TranscribeErr
	}
	return p.TranscribeResult, nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
