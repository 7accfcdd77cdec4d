// Package transcript persists the live captions produced during a session so
// the dashboard can show a rolling conversation history after the audio is
// gone.
package transcript

import (
	"context"

	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// Store persists transcript entries for a session.
//
// All methods must be safe for concurrent use. Audio is never persisted,
// only the caption text.
type Store interface {
	// Append adds one entry under sessionID.
	Append(ctx context.Context, sessionID string, entry live.TranscriptEntry) error

	// Recent returns up to limit entries for sessionID, newest last.
	// limit <= 0 means no limit.
	Recent(ctx context.Context, sessionID string, limit int) ([]live.TranscriptEntry, error)
}
