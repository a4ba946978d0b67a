package mirror

import (
	"context"
	"fmt"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// NewMirrorFromConfig creates a Mirror based on the mirror config type.
// "none" returns nil: the resolver skips mirroring entirely.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig, encryptor vault.Encryptor) (vault.Mirror, error) {
	if !cfg.Encrypt {
		encryptor = nil
	}

	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryMirror(), nil
	case "s3":
		if cfg.Encrypt && encryptor == nil {
			return nil, fmt.Errorf("mirror encryption requested but no encryptor configured")
		}
		return NewS3Mirror(ctx, cfg, encryptor)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
