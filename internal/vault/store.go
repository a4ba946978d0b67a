package vault

import (
	"context"
	"time"
)

// Store provides an interface for record and event persistence.
// Implementations must be safe for concurrent use; Put and IncrementView
// must be atomic with respect to concurrent calls on the same token.
type Store interface {
	// Record operations

	// Put persists a new record and returns it with ID and Token assigned.
	// The write is all-or-nothing: on error nothing was saved.
	Put(ctx context.Context, rec *MediaRecord) error

	// Get returns the record for a token, or ErrNotFound.
	Get(ctx context.Context, token string) (*MediaRecord, error)

	// GetByID returns the record for a legacy integer id, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*MediaRecord, error)

	// IncrementView bumps the view counter for a token. A missing token is
	// not an error: the increment must never block delivery of an already
	// fetched record.
	IncrementView(ctx context.Context, token string) error

	// Group operations

	// PutGroup persists a group record together with its ordered items.
	PutGroup(ctx context.Context, rec *MediaRecord, items []*GroupItem) error

	// GetGroupItems returns the items of a group token in insertion order.
	GetGroupItems(ctx context.Context, token string) ([]*GroupItem, error)

	// Event operations

	// AppendEvent records one redemption. Events are append-only.
	AppendEvent(ctx context.Context, ev *ViewEvent) error

	// CountEvents returns the number of events referencing a token.
	CountEvents(ctx context.Context, token string) (int64, error)

	// Reporting (read-only, no side effects)

	// TopByViews returns up to n records ordered by view count descending.
	TopByViews(ctx context.Context, n int) ([]*MediaRecord, error)

	// CountByKind returns record counts per kind.
	CountByKind(ctx context.Context) (map[Kind]int64, error)

	// Totals returns the total record and view counts.
	Totals(ctx context.Context) (records int64, views int64, err error)

	// ActivitySince returns view and unique-viewer counts for events at or
	// after the given instant.
	ActivitySince(ctx context.Context, since time.Time) (views int64, viewers int64, err error)

	// Close closes the underlying connection.
	Close() error
}
