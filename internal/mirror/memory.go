package mirror

import (
	"context"
	"sync"

	"mediavault/internal/vault"
)

// MemoryMirror keeps snapshots in memory. Useful for testing.
// Safe for concurrent use.
type MemoryMirror struct {
	mu        sync.RWMutex
	snapshots map[string][]byte // token -> snapshot
}

var _ vault.Mirror = (*MemoryMirror)(nil)

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{snapshots: make(map[string][]byte)}
}

func (m *MemoryMirror) PutSnapshot(_ context.Context, token string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	m.snapshots[token] = cp
	return nil
}

// GetSnapshot returns the stored snapshot for a token, or nil.
func (m *MemoryMirror) GetSnapshot(token string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[token]
}

// Len returns the number of stored snapshots.
func (m *MemoryMirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
