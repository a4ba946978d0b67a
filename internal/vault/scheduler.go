package vault

import (
	"context"
	"sync"
	"time"
)

// DeleteScheduler runs the ephemeral-delivery cleanup: after a fixed
// timeout it removes the delivered copy from the recipient's view. The
// stored record is untouched. Timers are keyed by delivered-message
// identity and individually cancellable; deletion failures (the copy may
// already be gone) are swallowed.
type DeleteScheduler struct {
	transport Transport
	logger    Logger
	timeout   time.Duration // per-delete transport deadline

	mu     sync.Mutex
	timers map[MessageRef]*time.Timer
}

// NewDeleteScheduler creates a scheduler deleting through the given
// transport. timeout bounds each delete call.
func NewDeleteScheduler(transport Transport, logger Logger, timeout time.Duration) *DeleteScheduler {
	return &DeleteScheduler{
		transport: transport,
		logger:    logger,
		timeout:   timeout,
		timers:    make(map[MessageRef]*time.Timer),
	}
}

// Schedule arms a deletion of ref after ttl. Scheduling the same ref again
// resets its timer.
func (s *DeleteScheduler) Schedule(ref MessageRef, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[ref]; ok {
		t.Stop()
	}
	s.timers[ref] = time.AfterFunc(ttl, func() { s.fire(ref) })
}

// Cancel disarms a pending deletion. Unknown refs are a no-op.
func (s *DeleteScheduler) Cancel(ref MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[ref]; ok {
		t.Stop()
		delete(s.timers, ref)
	}
}

// Pending returns the number of armed timers.
func (s *DeleteScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms all pending deletions.
func (s *DeleteScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, t := range s.timers {
		t.Stop()
		delete(s.timers, ref)
	}
}

func (s *DeleteScheduler) fire(ref MessageRef) {
	s.mu.Lock()
	delete(s.timers, ref)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.transport.DeleteMessage(ctx, ref); err != nil {
		// The delivered copy may already be gone; either way this must
		// not surface.
		s.logger.Debug("ephemeral delete failed", "chat", ref.ChatID, "message", ref.MessageID, "error", err)
	}
}
