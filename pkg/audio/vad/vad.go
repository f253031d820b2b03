// Package vad implements energy-based voice activity detection for the
// capture pipeline.
//
// The detector computes the normalized RMS energy of each PCM frame, smooths
// it over a fixed-length rolling window, and tracks utterance boundaries:
// speech onset when the smoothed energy crosses the threshold, and speech end
// once silence has persisted for the configured duration. A debounce rule
// (at least 2 of the last 3 samples individually above threshold) guards
// against transient spikes flipping the state.
//
// VAD is synchronous by design: Detect returns immediately with a decision,
// making it suitable for the low-latency frame loop that gates STT input.
//
// A Detector maintains per-stream state and must not be shared across
// goroutines; create one detector per capture loop and call Reset when the
// stream is reused for a new session.
package vad

import (
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
)

const (
	// DefaultThreshold is the normalized RMS level above which a frame is
	// considered voiced. Full-scale 16-bit audio normalizes to 1.0; typical
	// speech at conversational microphone gain sits well above 0.02.
	DefaultThreshold = 0.02

	// DefaultMinDuration is the minimum voiced-segment length required
	// before the segment is worth finalizing. Shorter bursts (coughs, desk
	// knocks) are discarded silently.
	DefaultMinDuration = time.Second

	// DefaultSilenceDuration is how long silence must persist after speech
	// before the segment is finalized.
	DefaultSilenceDuration = 2 * time.Second

	// windowSize is the length of the rolling energy window.
	windowSize = 10

	// debounceSpan and debounceRequired implement the spike guard: of the
	// last debounceSpan samples, at least debounceRequired must individually
	// exceed the threshold for the frame to count as voiced.
	debounceSpan     = 3
	debounceRequired = 2
)

// Decision is the result of examining one audio frame.
type Decision struct {
	// HasVoice reports whether the frame is part of an active voiced segment.
	HasVoice bool

	// Finalize is set exactly once per voiced segment: on the frame where
	// trailing silence has persisted past the silence duration and the
	// segment met the minimum length. The caller should close out the
	// accumulated utterance when it sees Finalize.
	Finalize bool
}

// Detector tracks voice activity across a stream of audio frames.
type Detector struct {
	threshold       float64
	minDuration     time.Duration
	silenceDuration time.Duration

	window []float64

	active        bool
	segmentStart  time.Time
	lastVoiceTime time.Time

	now func() time.Time
}

// Option configures a Detector during construction.
type Option func(*Detector)

// WithThreshold overrides the normalized RMS voice threshold.
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithMinDuration overrides the minimum voiced-segment length.
func WithMinDuration(min time.Duration) Option {
	return func(d *Detector) { d.minDuration = min }
}

// WithSilenceDuration overrides the trailing-silence length that ends a segment.
func WithSilenceDuration(s time.Duration) Option {
	return func(d *Detector) { d.silenceDuration = s }
}

// WithClock injects the time source used for segment bookkeeping. Tests use
// this to drive silence timeouts deterministically.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector with the default thresholds, adjusted by opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:       DefaultThreshold,
		minDuration:     DefaultMinDuration,
		silenceDuration: DefaultSilenceDuration,
		window:          make([]float64, 0, windowSize),
		now:             time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect examines one PCM frame and returns the voice decision.
//
// Malformed frames (empty, or an odd byte count that cannot hold complete
// 16-bit samples) report HasVoice=true so that no speech is dropped because
// of a decode glitch; the rolling window is left untouched in that case.
func (d *Detector) Detect(frame []byte) Decision {
	if len(frame) < 2 || len(frame)%2 != 0 {
		// Fail open: a frame we cannot measure is treated as voiced.
		return Decision{HasVoice: true}
	}

	energy := audio.NormalizedRMS(frame)
	d.window = append(d.window, energy)
	if len(d.window) > windowSize {
		d.window = d.window[1:]
	}

	var sum float64
	for _, e := range d.window {
		sum += e
	}
	avg := sum / float64(len(d.window))

	hasVoice := avg > d.threshold
	if hasVoice && len(d.window) >= debounceSpan {
		above := 0
		for _, e := range d.window[len(d.window)-debounceSpan:] {
			if e > d.threshold {
				above++
			}
		}
		hasVoice = above >= debounceRequired
	}

	nowT := d.now()
	if hasVoice {
		if !d.active {
			d.active = true
			d.segmentStart = nowT
		}
		d.lastVoiceTime = nowT
		return Decision{HasVoice: true}
	}

	if !d.active {
		return Decision{}
	}

	if nowT.Sub(d.lastVoiceTime) <= d.silenceDuration {
		return Decision{}
	}

	// Silence has persisted past the limit; the segment is over either way.
	d.active = false
	if d.lastVoiceTime.Sub(d.segmentStart) >= d.minDuration {
		return Decision{Finalize: true}
	}
	return Decision{}
}

// Active reports whether the detector currently considers speech in progress.
func (d *Detector) Active() bool {
	return d.active
}

// Reset clears all accumulated detection state (rolling window, segment
// bookkeeping) so the detector can be reused for a new session.
func (d *Detector) Reset() {
	d.active = false
	d.segmentStart = time.Time{}
	d.lastVoiceTime = time.Time{}
	d.window = d.window[:0]
}
