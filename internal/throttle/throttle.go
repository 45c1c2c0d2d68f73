// Package throttle bounds how many jobs run concurrently.
package throttle

import (
	"context"
	"fmt"
)

// Throttle tracks a fixed number of slots. A nil throttle never blocks.
type Throttle struct {
	ch chan struct{}
}

// New creates a throttle with the requested number of slots. Requesting less
// than one slot returns a nil throttle that does not limit anything.
func New(slots int) *Throttle {
	if slots < 1 {
		return nil
	}
	return &Throttle{ch: make(chan struct{}, slots)}
}

// Acquire blocks until a slot is available or the context ends.
func (t *Throttle) Acquire(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case t.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot if one is available without blocking.
func (t *Throttle) TryAcquire(ctx context.Context) (bool, error) {
	if t == nil {
		return true, nil
	}
	select {
	case t.ch <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (t *Throttle) Release(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case <-t.ch:
		return nil
	default:
		return fmt.Errorf("release without an acquired slot")
	}
}
