// Package ratelimit implements a token-bucket limiter per broker endpoint
// class, grounded in the teacher's per-IP limiter (golang.org/x/time/rate)
// and its explicit usage-weight tracking idiom.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"topstepx-engine/internal/result"
)

// Class identifies a broker endpoint class with its own budget.
type Class string

const (
	ClassGeneral Class = "general" // 200 requests / 60s
	ClassHistory Class = "history" // 50 requests / 30s
)

// Limiter serializes FIFO acquisition of tokens per endpoint class. Callers
// never block forever: Acquire respects ctx's deadline and fails TIMEOUT on
// expiry rather than hanging.
type Limiter struct {
	mu      sync.Mutex
	buckets map[Class]*rate.Limiter
}

// New builds a Limiter with the spec's default budgets.
func New() *Limiter {
	l := &Limiter{buckets: make(map[Class]*rate.Limiter)}
	l.buckets[ClassGeneral] = rate.NewLimiter(perWindow(200, 60), 200)
	l.buckets[ClassHistory] = rate.NewLimiter(perWindow(50, 30), 50)
	return l
}

// perWindow converts "count per windowSeconds" into an events/sec rate.Limit.
func perWindow(count, windowSeconds int) rate.Limit {
	return rate.Limit(float64(count) / float64(windowSeconds))
}

// Acquire blocks until a token for class c is available or ctx is done.
// A context deadline exceeded or cancellation surfaces as TIMEOUT/CANCELLED
// rather than a bare context error, so HTTP callers get the normal envelope.
func (l *Limiter) Acquire(ctx context.Context, c Class) error {
	l.mu.Lock()
	b, ok := l.buckets[c]
	if !ok {
		b = rate.NewLimiter(perWindow(100, 60), 100)
		l.buckets[c] = b
	}
	l.mu.Unlock()

	if err := b.Wait(ctx); err != nil {
		// Wait fails up front, before ctx is done, when the token would only
		// arrive after ctx's deadline; that case is a TIMEOUT too.
		if ctx.Err() == context.Canceled {
			return result.Err(result.KindCancelled, "rate limiter wait cancelled for class %s", c)
		}
		return result.Err(result.KindTimeout, "rate limiter wait exceeded deadline for class %s", c)
	}
	return nil
}
