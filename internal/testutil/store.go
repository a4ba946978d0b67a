package testutil

import (
	"mediavault/internal/store"
	"mediavault/internal/vault"
)

// NewTestStore creates a new in-memory store for testing.
func NewTestStore() vault.Store {
	return store.NewMemoryStore()
}
