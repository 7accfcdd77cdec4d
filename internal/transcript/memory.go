package transcript

import (
	"context"
	"sync"

	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]live.TranscriptEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]live.TranscriptEntry)}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, sessionID string, entry live.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]live.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]live.TranscriptEntry, len(all))
	copy(out, all)
	return out, nil
}
