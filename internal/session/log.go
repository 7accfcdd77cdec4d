package session

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the in-memory session log.
const DefaultLogCapacity = 256

// LogEntry is one line of the session's bounded activity log, surfaced to
// the dashboard alongside the state and transcripts.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"` // "info" or "error"
	Message string    `json:"message"`
}

// logRing is a fixed-capacity ring of LogEntry. When full, appending evicts
// the oldest entry. Safe for concurrent use.
type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
	start   int
	size    int
}

// newLogRing creates a ring with the given capacity, or DefaultLogCapacity
// when capacity <= 0.
func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &logRing{entries: make([]LogEntry, capacity)}
}

// append adds an entry, evicting the oldest when full.
func (r *logRing) append(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.size) % len(r.entries)
	r.entries[idx] = LogEntry{Time: time.Now(), Level: level, Message: message}
	if r.size < len(r.entries) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.entries)
	}
}

// snapshot returns the entries in append order, oldest first.
func (r *logRing) snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, r.size)
	for i := range r.size {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}
