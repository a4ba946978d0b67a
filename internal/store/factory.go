package store

import (
	"fmt"
	"path/filepath"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// NewStoreFromConfig creates a Store implementation based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig) (vault.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "mediavault.db"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
