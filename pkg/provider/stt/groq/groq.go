// Package groq provides an stt.Provider backed by Groq's hosted Whisper
// models, reached through Groq's OpenAI-compatible API.
//
// The provider wraps each utterance in a RIFF/WAV container and submits it as
// a batch transcription request. Groq returns an empty text field for audio
// without recognisable speech, which maps directly onto the stt contract.
package groq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/stt"
)

const (
	// defaultBaseURL is Groq's OpenAI-compatible endpoint.
	defaultBaseURL = "https://api.groq.com/openai/v1"

	// defaultModel is the hosted Whisper variant used when none is configured.
	defaultModel = "whisper-large-v3-turbo"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using Groq's audio transcription API.
type Provider struct {
	client      oai.Client
	model       string
	language    string
	temperature float64
}

// config holds optional construction settings for the provider.
type config struct {
	baseURL     string
	model       string
	language    string
	temperature float64
	timeout     time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Groq API base URL. Useful for tests and
// for pointing at any other OpenAI-compatible transcription endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the Whisper model identifier. Defaults to
// "whisper-large-v3-turbo".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets a fixed ISO-639-1 language hint (e.g., "en", "hi").
// Empty lets the model auto-detect.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTemperature sets the sampling temperature forwarded to the model.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Groq transcription Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("groq: apiKey must not be empty")
	}

	cfg := &config{
		baseURL: defaultBaseURL,
		model:   defaultModel,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:      oai.NewClient(reqOpts...),
		model:       cfg.model,
		language:    cfg.language,
		temperature: cfg.temperature,
	}, nil
}

// Transcribe implements stt.Provider. The PCM utterance is wrapped in a WAV
// container and posted to the transcription endpoint; whitespace-only results
// are reported as an empty Transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, nil
	}

	wav := audio.EncodeWAV(pcm, format.SampleRate, format.Channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.temperature > 0 {
		params.Temperature = oai.Float(p.temperature)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("groq: transcription request: %w", err)
	}

	return stt.Transcript{Text: strings.TrimSpace(resp.Text)}, nil
}
