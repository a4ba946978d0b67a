package transport

import (
	"context"
	"fmt"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// NewTransportFromConfig creates the transport bridge based on the
// transport config type.
func NewTransportFromConfig(ctx context.Context, cfg config.TransportConfig, idgen vault.IDGenerator, logger vault.Logger) (*AMQPTransport, error) {
	switch cfg.Type {
	case "", "amqp":
		return NewAMQPTransport(ctx, cfg, idgen, logger)
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}
