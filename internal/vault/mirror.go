package vault

import "context"

// Mirror receives fire-and-forget snapshots of ingested records for durable
// backing storage. A mirror failure is logged and never blocks token
// creation.
type Mirror interface {
	// PutSnapshot stores a serialized snapshot of a record, keyed by token.
	PutSnapshot(ctx context.Context, token string, snapshot []byte) error
}
