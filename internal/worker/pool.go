package worker

import (
	"context"
	"fmt"
)

// Pool is a bounded-concurrency executor shared by the update scheduler and
// ad hoc clustering runs. Bounding both on the same pool keeps a burst of
// clustering requests from starving scheduled reconciliation, and vice
// versa.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool allowing size concurrent tasks.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn inline once a slot is available. It returns early with the
// context error if ctx is cancelled while waiting.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker slot: %w", ctx.Err())
	}
	defer func() { <-p.sem }()
	fn()
	return nil
}
