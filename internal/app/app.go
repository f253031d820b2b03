// Package app wires all voicewire subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture-to-speech pipeline, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithProcessor, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/assistant"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/health"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/speech/capture"
	"github.com/voicewire/voicewire/internal/speech/correct"
	"github.com/voicewire/voicewire/internal/speech/dispatch"
	"github.com/voicewire/voicewire/internal/speech/synth"
	"github.com/voicewire/voicewire/internal/speech/transcribe"
	"github.com/voicewire/voicewire/internal/understand"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/audio/vad"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/search"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// utteranceBuffer is the capacity of the capture → transcription channel.
// Capture drops utterances rather than block when the consumer lags.
const utteranceBuffer = 16

// Providers holds one interface value per provider slot. LLM, STT, and TTS
// are required; Search and Device are optional. Populated by main.go via the
// config registry.
type Providers struct {
	LLM    llm.Provider
	STT    stt.Provider
	TTS    tts.Provider
	Search search.Provider

	// Device is the audio input source. When nil the app runs without a
	// capture loop; transcripts can still be submitted directly through
	// [App.Assistant].
	Device audio.Device
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store      session.Store
	processor  assistant.Processor
	manager    *synth.Manager
	queue      *dispatch.Queue
	orch       *assistant.Assistant
	worker     *transcribe.Worker
	capturer   *capture.Capturer
	utterances chan audio.Utterance

	// storeOwned marks whether Shutdown closes the store.
	storeOwned bool

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from
// config. The caller keeps ownership; Shutdown will not close it.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProcessor injects a query processor instead of building the language
// processor from the providers.
func WithProcessor(p assistant.Processor) Option {
	return func(a *App) { a.processor = p }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.processor == nil && providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.STT == nil && providers.Device != nil {
		return nil, errors.New("app: an STT provider is required when a capture device is configured")
	}
	if providers.TTS == nil {
		return nil, errors.New("app: a TTS provider is required")
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init session store: %w", err)
	}
	if err := a.initProcessor(); err != nil {
		return nil, fmt.Errorf("app: init processor: %w", err)
	}
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}
	if err := a.initAssistant(); err != nil {
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}
	a.initCapture()

	return a, nil
}

// initStore builds the session store selected by config unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Session.Backend {
	case config.SessionPostgres:
		s, err := session.NewPostgresStore(ctx, a.cfg.Session.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.SessionRedis:
		var opts []session.RedisOption
		if h := a.cfg.Session.RedisTTLHours; h > 0 {
			opts = append(opts, session.WithTTL(time.Duration(h)*time.Hour))
		}
		s, err := session.NewRedisStore(ctx, a.cfg.Session.RedisAddr, opts...)
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = session.NewMemStore()
	}
	a.storeOwned = true
	return nil
}

// initProcessor builds the language processor unless one was injected.
func (a *App) initProcessor() error {
	if a.processor != nil {
		return nil
	}

	var opts []understand.Option
	if a.providers.Search != nil {
		opts = append(opts, understand.WithSearcher(a.providers.Search))
	}
	p, err := understand.New(a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.processor = p
	return nil
}

// initSpeech builds the synthesis manager and the priority speech queue.
func (a *App) initSpeech() error {
	var mOpts []synth.Option
	if w := a.cfg.Synthesis.Workers; w > 0 {
		mOpts = append(mOpts, synth.WithWorkers(w))
	}
	if dir := a.cfg.Synthesis.ArtifactsDir; dir != "" {
		mOpts = append(mOpts, synth.WithArtifactsDir(dir))
	}
	if s := a.cfg.Synthesis.RetentionSeconds; s > 0 {
		mOpts = append(mOpts, synth.WithRetention(time.Duration(s)*time.Second))
	}
	if lang := a.cfg.Synthesis.DefaultLanguage; lang != "" {
		mOpts = append(mOpts, synth.WithDefaultLanguage(lang))
	}
	if sp := a.cfg.Synthesis.DefaultSpeaker; sp != "" {
		mOpts = append(mOpts, synth.WithDefaultSpeaker(sp))
	}

	m, err := synth.New(a.providers.TTS, mOpts...)
	if err != nil {
		return err
	}
	a.manager = m

	var qOpts []dispatch.Option
	if n := a.cfg.Synthesis.QueueSize; n > 0 {
		qOpts = append(qOpts, dispatch.WithMaxSize(n))
	}
	a.queue = dispatch.New(m, qOpts...)
	return nil
}

// initAssistant builds the request orchestrator over the processor and the
// speech queue.
func (a *App) initAssistant() error {
	var opts []assistant.Option
	if n := a.cfg.Assistant.MaxConcurrent; n > 0 {
		opts = append(opts, assistant.WithMaxConcurrent(n))
	}
	if r := a.cfg.Assistant.RatePerSecond; r > 0 {
		burst := a.cfg.Assistant.RateBurst
		if burst <= 0 {
			burst = int(r) + 1
		}
		opts = append(opts, assistant.WithRateLimit(r, burst))
	}
	if s := a.cfg.Assistant.SpeakTimeoutSeconds; s > 0 {
		opts = append(opts, assistant.WithSpeakTimeout(time.Duration(s)*time.Second))
	}
	opts = append(opts, assistant.WithStore(a.store))

	orch, err := assistant.New(a.processor, a.queue, opts...)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// initCapture builds the capture loop and transcription worker when an
// audio device and STT provider are available.
func (a *App) initCapture() {
	if a.providers.STT == nil {
		return
	}

	var corrector *correct.Corrector
	if len(a.cfg.Correction.Vocabulary) > 0 {
		var cOpts []correct.Option
		if t := a.cfg.Correction.PhoneticThreshold; t > 0 {
			cOpts = append(cOpts, correct.WithPhoneticThreshold(t))
		}
		if t := a.cfg.Correction.FuzzyThreshold; t > 0 {
			cOpts = append(cOpts, correct.WithFuzzyThreshold(t))
		}
		corrector = correct.New(a.cfg.Correction.Vocabulary, cOpts...)
	}

	a.utterances = make(chan audio.Utterance, utteranceBuffer)
	a.worker = transcribe.New(a.providers.STT, a.utterances)
	a.worker.OnTranscript(func(text string, _ audio.Utterance) {
		if corrector != nil {
			corrected, changes := corrector.Correct(text)
			if len(changes) > 0 {
				slog.Debug("transcript corrected", "replacements", len(changes))
				text = corrected
			}
		}
		id, err := a.orch.HandleTranscription(context.Background(), text, true)
		if err != nil {
			slog.Warn("transcript dropped", "error", err)
			return
		}
		slog.Debug("transcript submitted", "request_id", id)
	})

	if a.providers.Device == nil {
		return
	}

	var det *vad.Detector
	if a.cfg.Audio.UseVAD {
		var vOpts []vad.Option
		if t := a.cfg.Audio.VAD.Threshold; t > 0 {
			vOpts = append(vOpts, vad.WithThreshold(t))
		}
		if ms := a.cfg.Audio.VAD.MinDurationMs; ms > 0 {
			vOpts = append(vOpts, vad.WithMinDuration(time.Duration(ms)*time.Millisecond))
		}
		if ms := a.cfg.Audio.VAD.SilenceDurationMs; ms > 0 {
			vOpts = append(vOpts, vad.WithSilenceDuration(time.Duration(ms)*time.Millisecond))
		}
		det = vad.New(vOpts...)
	}

	var cOpts []capture.Option
	if s := a.cfg.Audio.WindowSeconds; s > 0 {
		cOpts = append(cOpts, capture.WithWindowSeconds(s))
	}
	a.capturer = capture.New(a.providers.Device, det, a.utterances, cOpts...)
}

// Assistant exposes the request orchestrator for direct transcript
// submission (HTTP front ends, tests).
func (a *App) Assistant() *assistant.Assistant { return a.orch }

// Reconfigure applies the hot-reloadable parts of cfg to the running
// pipeline: assistant admission rate and synthesis voice defaults. Fields
// outside that set require a restart and are ignored here.
func (a *App) Reconfigure(cfg *config.Config) {
	if r := cfg.Assistant.RatePerSecond; r > 0 {
		burst := cfg.Assistant.RateBurst
		if burst <= 0 {
			burst = int(r) + 1
		}
		a.orch.SetRateLimit(r, burst)
	}
	a.manager.SetDefaultVoice(cfg.Synthesis.DefaultLanguage, cfg.Synthesis.DefaultSpeaker)
}

// Health returns a handler serving liveness, readiness, and pipeline status
// endpoints for this app.
func (a *App) Health() *health.Handler {
	checkers := []health.Checker{
		{Name: "session_store", Check: func(ctx context.Context) error {
			_, err := a.store.Exists(ctx, "healthcheck")
			return err
		}},
	}
	return health.New(checkers...).WithStats(a.snapshot)
}

// snapshot collects pipeline activity for the status endpoint.
func (a *App) snapshot() health.PipelineStats {
	aStats := a.orch.Stats()
	tStats := a.manager.Stats()
	return health.PipelineStats{
		Running:         !aStats.Shutdown,
		QueueLen:        a.queue.QueueLen(),
		ActiveSyntheses: a.queue.ActiveCount(),
		Requests: health.RequestStats{
			Processed: aStats.Processed,
			Failed:    aStats.Failed,
			Cancelled: aStats.Cancelled,
			Active:    aStats.Active,
		},
		Tasks: health.TaskStats{
			Total:      tStats.Total,
			Pending:    tStats.Pending,
			Processing: tStats.Processing,
			Completed:  tStats.Completed,
			Failed:     tStats.Failed,
			Cancelled:  tStats.Cancelled,
		},
	}
}

// Run starts the pipeline stages and blocks until ctx is cancelled. The
// caller is expected to invoke [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start()
	if a.worker != nil {
		a.worker.Start()
	}
	if a.capturer != nil {
		a.capturer.Start()
	}

	slog.Info("voicewire running",
		"capture", a.capturer != nil,
		"vad", a.cfg.Audio.UseVAD,
		"workers", a.cfg.Synthesis.Workers,
	)

	<-ctx.Done()
	return ctx.Err()
}

// Shutdown tears the pipeline down in dependency order: capture stops
// feeding first, then transcription, then the orchestrator (which stops the
// speech queue and drains its pool), then synthesis, then the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.capturer != nil {
			a.capturer.Stop()
		}
		if a.worker != nil {
			a.worker.Stop()
		}
		if err := a.orch.Shutdown(ctx); err != nil {
			a.stopErr = err
		}
		a.manager.Close()
		if a.storeOwned {
			if err := a.store.Close(); err != nil {
				slog.Warn("session store close failed", "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return a.stopErr
}
