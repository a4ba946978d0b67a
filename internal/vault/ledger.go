package vault

import (
	"context"
	"time"
)

// SessionOutcome is the result of checking a redemption against the
// per-user session window.
type SessionOutcome int

const (
	// SessionNew means no live session existed; a fresh one was created
	// for this token and the redemption consumes a grant.
	SessionNew SessionOutcome = iota

	// SessionReuse means the same token was redeemed again inside the live
	// window; serve from cache without consuming a fresh grant.
	SessionReuse

	// SessionThrottled means a different token was requested inside the
	// live window; the redemption is refused.
	SessionThrottled
)

// Session is the per-user redemption window state.
type Session struct {
	UserID      int64
	LastToken   string
	FirstUsedAt time.Time
}

// Ledger enforces the per-user re-use window. Implementations must
// serialize the read-then-write session check per user key so concurrent
// redemptions by the same user cannot create divergent sessions.
type Ledger interface {
	// Touch applies the session state machine for one redemption request:
	// no live session creates one (SessionNew); the same token inside the
	// window is SessionReuse; a different token inside the window is
	// SessionThrottled; an expired session is overwritten (SessionNew).
	Touch(ctx context.Context, userID int64, token string, now time.Time) (SessionOutcome, error)

	// Get returns the current session for a user, or nil if none exists.
	// Expiry is not applied here; callers inspect FirstUsedAt themselves.
	Get(ctx context.Context, userID int64) (*Session, error)
}
