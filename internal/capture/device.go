// Package capture implements the microphone side of the audio pipeline.
//
// A capture [Device] pushes raw sample batches as the hardware delivers them.
// The [Pipeline] reassembles those batches into fixed-size frames, measures
// the input level, encodes each frame to wire format, and dispatches it to
// the live session without ever blocking the device callback.
package capture

// FrameCallback receives one batch of mono float32 samples in [-1, 1].
// Implementations must not retain the slice past the call.
type FrameCallback func(samples []float32)

// DeviceInfo identifies a capture device on the host.
type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Device abstracts a microphone input. Sample batches arrive on the callback
// registered at Start in whatever granularity the hardware delivers them.
type Device interface {
	// Start begins capturing and pushing samples to cb.
	Start(cb FrameCallback) error

	// Stop halts capture. After Stop returns, no further callbacks fire.
	Stop() error

	// SampleRate returns the capture rate in Hz.
	SampleRate() int
}
