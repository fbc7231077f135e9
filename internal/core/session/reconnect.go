package session

import (
	"context"
	"sync"
)

// DefaultMaxReconnectAttempts bounds consecutive failed reconnects.
const DefaultMaxReconnectAttempts = 3

// Reconnector authorizes rebuild attempts against a fixed budget. A
// successful attempt refills the budget.
type Reconnector struct {
	mu       sync.Mutex
	max      int
	attempts int
}

func NewReconnector(max int) *Reconnector {
	if max <= 0 {
		max = DefaultMaxReconnectAttempts
	}
	return &Reconnector{max: max}
}

// Attempt runs rebuild unless the budget is exhausted. Attempts are
// serialized.
func (r *Reconnector) Attempt(ctx context.Context, rebuild func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts >= r.max {
		return ErrReconnectExhausted
	}
	r.attempts++

	if err := rebuild(ctx); err != nil {
		return err
	}
	r.attempts = 0
	return nil
}

func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) Max() int {
	return r.max
}
