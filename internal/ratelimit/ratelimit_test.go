package ratelimit

import (
	"context"
	"testing"
	"time"

	"topstepx-engine/internal/result"
)

func TestAcquireSucceedsWithinBurst(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx, ClassGeneral); err != nil {
			t.Fatalf("unexpected error on acquire %d: %v", i, err)
		}
	}
}

func TestAcquireDeadlineExceeded(t *testing.T) {
	l := New()
	// Drain the history bucket's burst, then expect the next call against a
	// near-immediate deadline to time out rather than hang.
	drainCtx := context.Background()
	for i := 0; i < 50; i++ {
		_ = l.Acquire(drainCtx, ClassHistory)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, ClassHistory)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	rerr, ok := err.(*result.Error)
	if !ok || rerr.Kind != result.KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}
