package ledger

import (
	"context"
	"sync"
	"time"

	"mediavault/internal/vault"
)

const shardCount = 64

type shard struct {
	mu       sync.Mutex // held across the read-then-write session check
	sessions map[int64]*vault.Session
}

// MemoryLedger keeps redemption sessions in memory, sharded by user id so
// unrelated users never contend on the same lock while a single user's
// read-then-write check stays serialized.
type MemoryLedger struct {
	window time.Duration
	shards [shardCount]*shard
}

var _ vault.Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger enforcing the given re-use window.
func NewMemoryLedger(window time.Duration) *MemoryLedger {
	l := &MemoryLedger{window: window}
	for i := range l.shards {
		l.shards[i] = &shard{sessions: make(map[int64]*vault.Session)}
	}
	return l
}

func (l *MemoryLedger) shardFor(userID int64) *shard {
	idx := userID % shardCount
	if idx < 0 {
		idx += shardCount
	}
	return l.shards[idx]
}

func (l *MemoryLedger) Touch(_ context.Context, userID int64, token string, now time.Time) (vault.SessionOutcome, error) {
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || now.Sub(sess.FirstUsedAt) > l.window {
		// No session, or the window elapsed: start fresh on this token.
		s.sessions[userID] = &vault.Session{
			UserID:      userID,
			LastToken:   token,
			FirstUsedAt: now,
		}
		return vault.SessionNew, nil
	}

	if sess.LastToken == token {
		return vault.SessionReuse, nil
	}
	return vault.SessionThrottled, nil
}

func (l *MemoryLedger) Get(_ context.Context, userID int64) (*vault.Session, error) {
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}
