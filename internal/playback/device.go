// Package playback implements gapless scheduling of agent audio onto an
// output device.
//
// The device exposes a monotonic clock in stream time. The [Scheduler] keeps
// a cursor one position past the end of the last scheduled chunk; each new
// chunk starts at the later of that cursor and the device clock, so saturated
// streams play back-to-back with no gaps and idle streams resume immediately
// instead of in the past.
package playback

import "time"

// Device abstracts an audio output with a scheduling clock.
type Device interface {
	// Now returns the device clock: elapsed stream time since the device
	// was opened. It never goes backwards.
	Now() time.Duration

	// Play schedules mono float32 samples at the given rate to start at the
	// given stream time. Scheduling in the past is allowed; the device plays
	// the remaining portion.
	Play(start time.Duration, samples []float32, sampleRate int) error

	// Close releases the device.
	Close() error
}
