// Package capture runs the audio ingestion loop: it reads frames from an
// input device, consults the voice activity detector to find utterance
// boundaries, and hands completed utterances to the transcription stage.
//
// The loop runs on its own goroutine so frame cadence stays independent of
// request load elsewhere in the pipeline. Hand-off is non-blocking: when the
// downstream queue is full the utterance is dropped with a warning rather
// than stalling the device read loop.
//
// This package lives under internal/ because it encapsulates
// application-private pipeline logic.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/audio/vad"
)

// DefaultWindowSeconds is the fixed accumulation window used when voice
// activity detection is disabled.
const DefaultWindowSeconds = 3

// Capturer reads audio frames from a [audio.Device] and segments them into
// utterances.
//
// With a detector configured, segmentation follows voice boundaries: frames
// are buffered while speech is active and flushed when the detector
// finalizes the segment. Without a detector, frames are accumulated into
// fixed-duration windows regardless of voice presence.
//
// Start launches the read loop; Stop is idempotent and closes the device so
// a loop blocked mid-read terminates deterministically.
type Capturer struct {
	dev audio.Device
	det *vad.Detector
	out chan<- audio.Utterance

	windowSeconds int

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Capturer during construction.
type Option func(*Capturer)

// WithWindowSeconds sets the fixed-window length used when no detector is
// configured. The default is DefaultWindowSeconds.
func WithWindowSeconds(s int) Option {
	return func(c *Capturer) { c.windowSeconds = s }
}

// New creates a Capturer reading from dev and delivering utterances to out.
// Pass a nil detector to disable voice activity detection and fall back to
// fixed-duration windowing.
func New(dev audio.Device, det *vad.Detector, out chan<- audio.Utterance, opts ...Option) *Capturer {
	c := &Capturer{
		dev:           dev,
		det:           det,
		out:           out,
		windowSeconds: DefaultWindowSeconds,
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the capture loop goroutine. Call at most once.
func (c *Capturer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
}

// Stop terminates the capture loop and closes the device. It is safe to call
// multiple times and from multiple goroutines; it blocks until the loop has
// exited.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if err := c.dev.Close(); err != nil {
			slog.Warn("capture: device close failed", "error", err)
		}
	})
	c.wg.Wait()
}

func (c *Capturer) run() {
	format := c.dev.Format()
	var (
		buffer       []byte
		accumulating bool
		segmentStart time.Time
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		u := audio.Utterance{PCM: buffer, Format: format, Start: segmentStart}
		select {
		case c.out <- u:
		default:
			slog.Warn("capture: utterance queue full, dropping segment",
				"bytes", len(buffer),
				"duration", u.Duration(),
			)
		}
		buffer = nil
	}

	for {
		select {
		case <-c.stopped:
			return
		default:
		}

		frame, err := c.dev.ReadFrame()
		if err != nil {
			select {
			case <-c.stopped:
				// Expected: Stop closed the device mid-read.
			default:
				slog.Error("capture: device read failed, stopping loop", "error", err)
			}
			return
		}

		if c.det == nil {
			// Fixed-duration windowing.
			if len(buffer) == 0 {
				segmentStart = time.Now()
			}
			buffer = append(buffer, frame...)
			if len(buffer) >= c.windowSeconds*format.BytesPerSecond() {
				flush()
			}
			continue
		}

		dec := c.det.Detect(frame)
		switch {
		case dec.HasVoice:
			if !accumulating {
				accumulating = true
				buffer = buffer[:0]
				segmentStart = time.Now()
				slog.Debug("capture: voice detected, recording")
			}
			buffer = append(buffer, frame...)

		case accumulating:
			// Trailing silence is part of the segment until the detector
			// rules on it.
			buffer = append(buffer, frame...)
			if dec.Finalize {
				slog.Debug("capture: voice ended, handing off",
					"bytes", len(buffer))
				flush()
				accumulating = false
			} else if !c.det.Active() {
				// Segment ended below the minimum duration: discard.
				buffer = nil
				accumulating = false
			}
		}
	}
}
