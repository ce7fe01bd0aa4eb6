package recorder

import (
	"context"
	"time"
)

// Backoff decides how long to wait before retry attempt n (1-based).
// Injected so tests run without sleeping and callers can tune contention
// behavior without touching the retry loop.
type Backoff interface {
	Wait(ctx context.Context, attempt int) error
}

// Linear waits attempt * Base, honoring context cancellation.
type Linear struct {
	Base time.Duration
}

func (b Linear) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * b.Base)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// None never waits. Used in tests.
type None struct{}

func (None) Wait(ctx context.Context, attempt int) error {
	return ctx.Err()
}
