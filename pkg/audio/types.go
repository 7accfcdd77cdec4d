// Package audio provides the sample codec and frame types shared by the
// capture and playback pipelines.
//
// Two representations of audio coexist and must never be confused:
//
//   - native: float32 samples in [-1.0, 1.0], the representation used by the
//     local capture/playback hardware abstraction.
//   - wire: packed little-endian int16 PCM bytes, base64-wrapped with a MIME
//     rate tag for transport.
//
// All conversions between the two go through [EncodePCM16] and [DecodePCM16];
// there is deliberately no other byte-level access path.
package audio

import "time"

// Chunk is one discrete unit of wire-format audio as delivered by or to the
// transport: packed little-endian int16 PCM mono at the given sample rate.
type Chunk struct {
	// Data holds packed little-endian int16 PCM samples.
	Data []byte

	// SampleRate in Hz. For inbound chunks this comes from the transport's
	// MIME rate tag, never from an assumed constant.
	SampleRate int
}

// Samples returns the number of int16 samples in the chunk. A trailing odd
// byte (malformed input) is not counted.
func (c Chunk) Samples() int {
	return len(c.Data) / 2
}

// Duration returns the playback duration of the chunk at its sample rate.
// Returns 0 for a zero or negative sample rate.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when tearing down a session while a
// streaming channel still has buffered chunks.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
