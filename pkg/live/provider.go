// Package live defines the Provider interface for realtime conversational
// audio backends.
//
// A live provider wraps a hosted voice agent that accepts a continuous stream
// of raw PCM input and returns synthesised audio replies over a single
// persistent, message-oriented connection. The central abstraction is
// SessionHandle: a bidirectional, multiplexed channel carrying audio, turn
// markers, and captions concurrently. Sessions are long-lived (seconds to
// minutes) and are not resumable — a dropped connection means a new session.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"time"

	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the agent's prebuilt voice (provider-specific ID).
	Voice string

	// Instructions is the system-level prompt defining the co-host's persona
	// and behavioural constraints.
	Instructions string

	// InputSampleRate is the sample rate of outbound PCM in Hz. Zero means
	// the provider default (16000).
	InputSampleRate int
}

// Capabilities describes static properties of a live provider. The values are
// assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// OutputSampleRate is the nominal sample rate of the agent's synthesised
	// audio in Hz. Inbound chunks still carry their own rate tag; this value
	// is advisory (e.g. for pre-allocating playback buffers).
	OutputSampleRate int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice IDs available for this provider.
	Voices []string
}

// TurnEvent marks the completion of one of the agent's conversational turns.
// Turns are a conversational concept layered over the continuous audio
// stream; they are recorded for observability and never influence playback
// scheduling.
type TurnEvent struct {
	// Interrupted is true when the agent's turn was cut short (e.g. by the
	// user speaking over it) rather than completing naturally.
	Interrupted bool

	// Timestamp is when the marker was received.
	Timestamp time.Time
}

// TranscriptEntry is a live caption emitted by the agent: either a recognition
// of the user's speech or the text form of the agent's spoken reply.
type TranscriptEntry struct {
	// Speaker is "user" or "agent".
	Speaker string

	// Text is the caption text.
	Text string

	// Timestamp is when the caption was received.
	Timestamp time.Time
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// The session is the hot path of the audio pipeline — every method must
// return quickly. Audio I/O is channel-based to keep the caller's audio
// callbacks non-blocking. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a wire-format PCM chunk to the agent. Fire and
	// forget: the provider does not acknowledge individual chunks. Returns
	// an error if the session is closed or the connection cannot accept the
	// chunk.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting the agent's synthesised
	// audio as rate-tagged wire chunks, in arrival order. The channel is
	// closed when the session ends; after it closes, call Err to check
	// whether the session ended cleanly. Consumers must drain this channel
	// promptly to keep the provider's receive loop from stalling.
	Audio() <-chan audio.Chunk

	// Turns returns a read-only channel emitting turn-completion markers.
	// Closed when the session ends.
	Turns() <-chan TurnEvent

	// Transcripts returns a read-only channel emitting live captions for
	// both user speech and agent replies. Closed when the session ends.
	Transcripts() <-chan TranscriptEntry

	// OnError registers a callback for non-fatal, in-protocol error events.
	// Fatal connection errors surface through Err instead. Only one handler
	// is active at a time; passing nil clears it.
	OnError(handler func(error))

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly (or is still running). Check after the Audio channel closes.
	Err() error

	// Close terminates the session and closes all channels. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime conversational backend.
//
// Implementations must be safe for concurrent use, though the application
// opens at most one session at a time.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle accepts audio immediately. The caller owns
	// the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the underlying agent.
	Capabilities() Capabilities
}
