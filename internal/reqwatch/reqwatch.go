// Package reqwatch tracks in-flight requests so pending counts and ages can
// be reported while imports are outstanding.
package reqwatch

import (
	"sync"
	"time"
)

// List holds the scopes of requests that have started and not yet stopped.
type List struct {
	mu     sync.Mutex
	active map[*Scope]struct{}
}

// Scope marks one request as pending from Start until Stop.
type Scope struct {
	list    *List
	started time.Time
	stop    sync.Once
}

// NewList returns an empty watch list.
func NewList() *List {
	return &List{active: map[*Scope]struct{}{}}
}

// Start registers a pending request. Start on a nil list returns a nil scope,
// which Stop accepts, so tracking is optional for callers.
func (l *List) Start() *Scope {
	if l == nil {
		return nil
	}
	s := &Scope{list: l, started: time.Now()}
	l.mu.Lock()
	l.active[s] = struct{}{}
	l.mu.Unlock()
	return s
}

// Stop removes the request from its list. Stop may be called more than once
// and on a nil scope.
func (s *Scope) Stop() {
	if s == nil {
		return
	}
	s.stop.Do(func() {
		s.list.mu.Lock()
		delete(s.list.active, s)
		s.list.mu.Unlock()
	})
}

// Count returns the number of pending requests.
func (l *List) Count() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// MaxAge returns the age of the oldest pending request, zero when idle.
func (l *List) MaxAge(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	oldest := time.Duration(0)
	for s := range l.active {
		if age := now.Sub(s.started); age > oldest {
			oldest = age
		}
	}
	return oldest
}
