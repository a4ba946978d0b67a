package ledger

import (
	"fmt"
	"time"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// NewLedgerFromConfig creates a Ledger implementation based on the ledger config type.
func NewLedgerFromConfig(cfg config.LedgerConfig, window time.Duration) (vault.Ledger, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLedger(window), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr required for redis ledger")
		}
		return NewRedisLedger(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, window)
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
