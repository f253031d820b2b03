// Package mock provides an in-memory mock implementation of the
// [audio.Device] interface for use in unit tests.
//
// The mock is safe for concurrent use. Frames are served from a queue that
// the test fills before (or during) the run; once the queue is exhausted,
// ReadFrame blocks until more frames are queued or the device is closed.
//
// Typical usage:
//
//	dev := mock.NewDevice(audio.DefaultFormat)
//	dev.QueueFrames(voicedFrame, voicedFrame, silentFrame)
//	cap := capture.New(dev, detector, out)
package mock

import (
	"errors"
	"sync"

	"github.com/voicewire/voicewire/pkg/audio"
)

// ErrClosed is returned by [Device.ReadFrame] after the device was closed.
var ErrClosed = errors.New("mock device: closed")

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu     sync.Mutex
	cond   *sync.Cond
	format audio.Format
	frames [][]byte
	closed bool

	// ReadFrameCount records how many frames have been served.
	ReadFrameCount int

	// CloseCallCount records how many times Close was called.
	CloseCallCount int

	// BlockWhenEmpty controls behaviour when the frame queue runs dry.
	// When true (the default from NewDevice), ReadFrame blocks until more
	// frames arrive or Close is called. When false, ReadFrame returns
	// ErrClosed immediately on an empty queue — handy for loops that should
	// terminate once the scripted audio has been consumed.
	BlockWhenEmpty bool
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// NewDevice creates a mock device producing frames in the given format.
func NewDevice(format audio.Format) *Device {
	d := &Device{format: format, BlockWhenEmpty: true}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// QueueFrames appends frames to the serve queue and wakes any blocked reader.
func (d *Device) QueueFrames(frames ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frames...)
	d.cond.Broadcast()
}

// ReadFrame serves the next queued frame. See [Device.BlockWhenEmpty] for
// the empty-queue behaviour. Returns ErrClosed after Close.
func (d *Device) ReadFrame() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.frames) == 0 {
		if d.closed || !d.BlockWhenEmpty {
			return nil, ErrClosed
		}
		d.cond.Wait()
	}
	if d.closed {
		return nil, ErrClosed
	}
	frame := d.frames[0]
	d.frames = d.frames[1:]
	d.ReadFrameCount++
	return frame, nil
}

// Format returns the format given to NewDevice.
func (d *Device) Format() audio.Format {
	return d.format
}

// Close marks the device closed and unblocks any in-flight ReadFrame.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	d.closed = true
	d.cond.Broadcast()
	return nil
}
