package shortener

import (
	"fmt"
	"time"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// NewShortenerFromConfig creates a Shortener based on the shortener config
// type. "none" returns nil: the resolver skips shortening entirely.
func NewShortenerFromConfig(cfg config.ShortenerConfig) (vault.Shortener, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("endpoint required for http shortener")
		}
		return NewHTTPShortener(cfg.Endpoint, cfg.APIKey, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown shortener type: %s", cfg.Type)
	}
}
