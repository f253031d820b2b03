package resilience

import (
	"context"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// LLM implements [llm.Provider] over a failover chain of LLM backends.
type LLM struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM creates a failover LLM provider with primary as the preferred
// backend.
func NewLLM(name string, primary llm.Provider, opts ...BreakerOption) *LLM {
	return &LLM{chain: NewChain(name, primary, opts...)}
}

// Add registers an additional LLM backend tried after the primary.
func (f *LLM) Add(name string, p llm.Provider) { f.chain.Add(name, p) }

// Complete forwards the request to the first healthy backend.
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STT implements [stt.Provider] over a failover chain of transcription
// backends.
type STT struct {
	chain *Chain[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates a failover STT provider with primary as the preferred
// backend.
func NewSTT(name string, primary stt.Provider, opts ...BreakerOption) *STT {
	return &STT{chain: NewChain(name, primary, opts...)}
}

// Add registers an additional STT backend tried after the primary.
func (f *STT) Add(name string, p stt.Provider) { f.chain.Add(name, p) }

// Transcribe forwards the utterance to the first healthy backend.
func (f *STT) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (stt.Transcript, error) {
	return Do(f.chain, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, format)
	})
}

// TTS implements [tts.Provider] over a failover chain of synthesis backends.
type TTS struct {
	chain *Chain[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a failover TTS provider with primary as the preferred
// backend.
func NewTTS(name string, primary tts.Provider, opts ...BreakerOption) *TTS {
	return &TTS{chain: NewChain(name, primary, opts...)}
}

// Add registers an additional TTS backend tried after the primary.
func (f *TTS) Add(name string, p tts.Provider) { f.chain.Add(name, p) }

// Synthesize renders text with the first healthy backend. Voice IDs are
// provider specific, so chains should only mix backends of the same service
// or accept the default voice mapping of whichever backend answers.
func (f *TTS) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	return Do(f.chain, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voiceID)
	})
}
