package oneshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCompleteBroadcast(t *testing.T) {
	t.Parallel()
	c := New[int]()
	if c.Resolved() {
		t.Errorf("new cell reported resolved")
	}
	waiters := 5
	results := make([]int, waiters)
	wg := sync.WaitGroup{}
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.Wait(context.Background())
			if err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
			}
			results[i] = v
		}(i)
	}
	if !c.Complete(42) {
		t.Errorf("first complete reported lost")
	}
	wg.Wait()
	for i, v := range results {
		if v != 42 {
			t.Errorf("waiter %d received %d, expected 42", i, v)
		}
	}
	if !c.Resolved() {
		t.Errorf("resolved cell reported unresolved")
	}
}

func TestFirstResolutionWins(t *testing.T) {
	t.Parallel()
	c := New[string]()
	if !c.Complete("first") {
		t.Errorf("first complete reported lost")
	}
	if c.Complete("second") {
		t.Errorf("second complete reported won")
	}
	if c.Fail(errors.New("late failure")) {
		t.Errorf("late fail reported won")
	}
	v, err := c.Result()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if v != "first" {
		t.Errorf("value mismatch, expected first, received %s", v)
	}
}

func TestFail(t *testing.T) {
	t.Parallel()
	boom := errors.New("fetch failed")
	c := New[int]()
	if !c.Fail(boom) {
		t.Errorf("fail reported lost")
	}
	_, err := c.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("unexpected error, expected %v, received %v", boom, err)
	}
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()
	c := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error, expected %v, received %v", context.DeadlineExceeded, err)
	}
	// a canceled wait must not disturb the eventual result
	c.Complete(7)
	v, err := c.Wait(context.Background())
	if err != nil || v != 7 {
		t.Errorf("result disturbed by canceled wait, received %d, %v", v, err)
	}
}

func TestDoneSelect(t *testing.T) {
	t.Parallel()
	c := New[int]()
	select {
	case <-c.Done():
		t.Errorf("done closed before resolution")
	default:
	}
	c.Complete(1)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Errorf("done not closed after resolution")
	}
}
