package ledger

import (
	"context"
	"testing"
	"time"

	"mediavault/internal/vault"
)

var (
	t0     = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	tokenA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestMemoryLedger_Touch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first touch creates a session", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		got, err := l.Touch(ctx, 1, tokenA, t0)
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionNew {
			t.Errorf("Touch() = %v, want SessionNew", got)
		}
	})

	t.Run("same token inside window is reuse", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		l.Touch(ctx, 1, tokenA, t0)
		got, err := l.Touch(ctx, 1, tokenA, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionReuse {
			t.Errorf("Touch() = %v, want SessionReuse", got)
		}
	})

	t.Run("different token inside window throttles", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		l.Touch(ctx, 1, tokenA, t0)
		got, err := l.Touch(ctx, 1, tokenB, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionThrottled {
			t.Errorf("Touch() = %v, want SessionThrottled", got)
		}
	})

	t.Run("expired session is replaced", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		l.Touch(ctx, 1, tokenA, t0)
		got, err := l.Touch(ctx, 1, tokenB, t0.Add(24*time.Hour+time.Second))
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionNew {
			t.Errorf("Touch() = %v, want SessionNew after expiry", got)
		}

		// The replacement session now pins tokenB.
		got, _ = l.Touch(ctx, 1, tokenA, t0.Add(25*time.Hour))
		if got != vault.SessionThrottled {
			t.Errorf("Touch() = %v, want SessionThrottled against the new session", got)
		}
	})

	t.Run("users do not share sessions", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		l.Touch(ctx, 1, tokenA, t0)
		got, err := l.Touch(ctx, 2, tokenB, t0)
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionNew {
			t.Errorf("Touch() = %v, want SessionNew for a different user", got)
		}
	})

	t.Run("negative user ids", func(t *testing.T) {
		t.Parallel()
		l := NewMemoryLedger(24 * time.Hour)

		got, err := l.Touch(ctx, -42, tokenA, t0)
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if got != vault.SessionNew {
			t.Errorf("Touch() = %v, want SessionNew", got)
		}
	})
}

func TestMemoryLedger_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLedger(24 * time.Hour)

	if s, err := l.Get(ctx, 1); err != nil || s != nil {
		t.Fatalf("Get() = %v, %v; want nil, nil", s, err)
	}

	l.Touch(ctx, 1, tokenA, t0)

	s, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s == nil || s.LastToken != tokenA || !s.FirstUsedAt.Equal(t0) {
		t.Errorf("Get() = %+v, want session for %s at %v", s, tokenA, t0)
	}

	// The returned session is a copy.
	s.LastToken = tokenB
	s2, _ := l.Get(ctx, 1)
	if s2.LastToken != tokenA {
		t.Error("Get() leaked internal session state")
	}
}
