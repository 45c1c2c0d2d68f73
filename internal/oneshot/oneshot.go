// Package oneshot provides a result cell that is resolved once and read by
// many waiters.
package oneshot

import (
	"context"
	"sync"
)

// Cell holds a single result. The first call to Complete or Fail resolves it
// and wakes every waiter, later calls are dropped.
type Cell[T any] struct {
	mu   sync.Mutex
	set  bool
	val  T
	err  error
	done chan struct{}
}

// New returns an unresolved cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Complete resolves the cell with a value, reporting whether this call won.
func (c *Cell[T]) Complete(val T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return false
	}
	c.set = true
	c.val = val
	close(c.done)
	return true
}

// Fail resolves the cell with an error, reporting whether this call won.
func (c *Cell[T]) Fail(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return false
	}
	c.set = true
	c.err = err
	close(c.done)
	return true
}

// Done returns a channel that is closed when the cell resolves.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Resolved indicates the cell holds a result.
func (c *Cell[T]) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result blocks until the cell resolves and returns the stored result.
func (c *Cell[T]) Result() (T, error) {
	<-c.done
	return c.val, c.err
}

// Wait blocks until the cell resolves or the context ends. A context error
// does not consume or disturb the result, other waiters are unaffected.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
