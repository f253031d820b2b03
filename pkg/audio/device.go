package audio

// Device abstracts an audio input source the capture loop reads from — a
// microphone, a network stream, or a test double. The interface is
// intentionally narrow so the capture stage stays decoupled from the
// underlying I/O.
//
// ReadFrame blocks until one frame is available. Implementations must make
// ReadFrame return an error promptly after Close so a capture loop blocked
// mid-read can observe the shutdown.
//
// This package lives under pkg/ because external code (platform-specific
// capture adapters) is expected to implement [Device].
type Device interface {
	// ReadFrame returns the next PCM frame from the source. The returned
	// slice is owned by the caller; implementations must not reuse it.
	ReadFrame() ([]byte, error)

	// Format reports the sample rate and channel count of the frames this
	// device produces. It must be constant for the lifetime of the device.
	Format() Format

	// Close releases the underlying source and unblocks any in-flight
	// ReadFrame. Calling Close more than once is safe and returns nil.
	Close() error
}
