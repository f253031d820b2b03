// Package transcribe runs the transcription stage of the pipeline: it
// consumes captured utterances, filters out segments unlikely to contain
// usable speech, transcribes the remainder through an stt.Provider, and fans
// the resulting text out to registered handlers.
//
// The worker runs on a single goroutine so utterances are transcribed in
// arrival order. Handlers are invoked synchronously in registration order; a
// panicking handler is recovered and logged so one bad consumer cannot stop
// the feed for the others.
package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/stt"
)

const (
	// DefaultMinDuration is the shortest utterance worth transcribing.
	DefaultMinDuration = time.Second

	// DefaultVoiceRatio is the minimum fraction of energetic chunks an
	// utterance must contain to be sent to the transcription API.
	DefaultVoiceRatio = 0.30

	// DefaultVoiceThreshold is the normalized RMS level above which a chunk
	// counts as voiced for the ratio gate.
	DefaultVoiceThreshold = 0.02

	// DefaultRequestTimeout bounds a single transcription API call.
	DefaultRequestTimeout = 30 * time.Second

	// gateChunkBytes is the chunk size the voice-ratio gate inspects.
	gateChunkBytes = 2048
)

// Handler receives the text of a successfully transcribed utterance.
type Handler func(text string, u audio.Utterance)

// Worker consumes utterances from a channel and transcribes them.
type Worker struct {
	stt     stt.Provider
	in      <-chan audio.Utterance
	metrics *observe.Metrics

	minDuration    time.Duration
	voiceRatio     float64
	voiceThreshold float64
	requestTimeout time.Duration

	mu       sync.Mutex
	handlers []Handler
	paused   bool

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Worker during construction.
type Option func(*Worker)

// WithMinDuration sets the minimum utterance duration gate.
func WithMinDuration(d time.Duration) Option {
	return func(w *Worker) { w.minDuration = d }
}

// WithVoiceGate sets the voice-ratio gate: utterances whose fraction of
// chunks above threshold falls below ratio are skipped without an API call.
func WithVoiceGate(ratio, threshold float64) Option {
	return func(w *Worker) {
		w.voiceRatio = ratio
		w.voiceThreshold = threshold
	}
}

// WithRequestTimeout bounds each transcription API call.
func WithRequestTimeout(d time.Duration) Option {
	return func(w *Worker) { w.requestTimeout = d }
}

// WithMetrics attaches a metrics recorder. Defaults to
// [observe.DefaultMetrics] when unset.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New creates a Worker reading utterances from in and transcribing them with
// provider.
func New(provider stt.Provider, in <-chan audio.Utterance, opts ...Option) *Worker {
	w := &Worker{
		stt:            provider,
		in:             in,
		minDuration:    DefaultMinDuration,
		voiceRatio:     DefaultVoiceRatio,
		voiceThreshold: DefaultVoiceThreshold,
		requestTimeout: DefaultRequestTimeout,
		stopped:        make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// OnTranscript registers a handler invoked for every accepted transcript.
// Handlers run synchronously on the worker goroutine in registration order.
func (w *Worker) OnTranscript(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Pause makes the worker discard incoming utterances without transcribing
// them. Useful while the assistant is speaking, so the pipeline does not
// transcribe its own output.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
}

// Resume re-enables transcription after a Pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
}

// Paused reports whether the worker is currently discarding utterances.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Start launches the worker goroutine. Call at most once.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// Stop terminates the worker. Safe to call multiple times; blocks until the
// worker goroutine has exited.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
	w.wg.Wait()
}

func (w *Worker) run() {
	for {
		select {
		case <-w.stopped:
			return
		case u := <-w.in:
			w.handle(u)
		}
	}
}

func (w *Worker) handle(u audio.Utterance) {
	ctx := context.Background()

	if w.Paused() {
		slog.Debug("transcribe: paused, discarding utterance",
			"duration", u.Duration())
		return
	}

	// An invalid format makes the duration unmeasurable; like the ratio
	// gate below, an unmeasurable utterance still goes to the API.
	if u.Format.BytesPerSecond() > 0 && u.Duration() < w.minDuration {
		slog.Debug("transcribe: utterance below minimum duration",
			"duration", u.Duration(), "min", w.minDuration)
		w.metrics.RecordUtterance(ctx, "too_short")
		return
	}

	// The ratio gate fails open: audio too short to measure still goes to
	// the API, which tolerates garbled input.
	if ratio, ok := audio.VoiceRatio(u.PCM, gateChunkBytes, w.voiceThreshold); ok && ratio < w.voiceRatio {
		slog.Debug("transcribe: utterance below voice ratio",
			"ratio", ratio, "min", w.voiceRatio)
		w.metrics.RecordUtterance(ctx, "low_voice")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()

	start := time.Now()
	tr, err := w.stt.Transcribe(reqCtx, u.PCM, u.Format)
	w.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Error("transcribe: transcription failed", "error", err)
		w.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return
	}
	if tr.Text == "" {
		w.metrics.RecordUtterance(ctx, "empty")
		return
	}

	w.metrics.RecordUtterance(ctx, "accepted")
	slog.Info("transcribe: utterance transcribed",
		"chars", len(tr.Text), "duration", u.Duration())

	w.mu.Lock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for i, h := range handlers {
		w.dispatch(i, h, tr.Text, u)
	}
}

// dispatch invokes a single handler, recovering panics so one consumer
// cannot take down the worker loop.
func (w *Worker) dispatch(idx int, h Handler, text string, u audio.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("transcribe: handler panicked",
				"handler", idx, "panic", r)
		}
	}()
	h(text, u)
}
