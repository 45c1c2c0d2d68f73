// Package importq coalesces and orders content import requests.
//
// Concurrent requests for the same content share one pending entry and one
// result. Dequeue blocks until work is available and returns the most urgent
// requests batched by kind for transport friendly fetching. A single mutex
// guards two indices over the same entries, a hash map for deduplication and
// a heap for priority order.
package importq

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/internal/reqwatch"
	"github.com/revclient/revclient/types"
)

type requestKey struct {
	kind types.Kind
	hash digest.Digest
}

// slot tracks one pending request and its position in the priority index.
type slot struct {
	req   *Request
	index int
}

// Queue is the import request queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	byKey   map[requestKey]*slot
	order   slotHeap
	conf    *config.Reloadable
	watches map[types.Kind]*reqwatch.List
}

type queueOpts struct {
	conf    *config.Reloadable
	watches map[types.Kind]*reqwatch.List
}

// Opts adjusts the queue configuration.
type Opts func(*queueOpts)

// WithConfig sets the reloadable config the queue reads batch tunables from.
func WithConfig(conf *config.Reloadable) Opts {
	return func(o *queueOpts) {
		o.conf = conf
	}
}

// WithWatchList registers the watch list that tracks pending requests of a
// kind created through FindOrCreate.
func WithWatchList(kind types.Kind, l *reqwatch.List) Opts {
	return func(o *queueOpts) {
		o.watches[kind] = l
	}
}

// New creates an empty queue. Without WithConfig the default tunables apply.
func New(opts ...Opts) *Queue {
	qo := queueOpts{
		watches: map[types.Kind]*reqwatch.List{},
	}
	for _, opt := range opts {
		opt(&qo)
	}
	if qo.conf == nil {
		qo.conf = config.NewReloadable(nil)
	}
	q := Queue{
		byKey:   map[requestKey]*slot{},
		order:   slotHeap{},
		conf:    qo.conf,
		watches: qo.watches,
	}
	q.cond = sync.NewCond(&q.mu)
	return &q
}

// CheckImportInProgress returns a handle to the pending request for the
// given content, promoting its priority when pri is more urgent. It returns
// a nil handle and nil error when nothing is pending, the caller should
// construct and enqueue a request.
func (q *Queue) CheckImportInProgress(kind types.Kind, hash digest.Digest, pri Priority) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("check %s %s: %w", kind, hash, types.ErrQueueClosed)
	}
	s, ok := q.byKey[requestKey{kind: kind, hash: hash}]
	if !ok {
		return nil, nil
	}
	q.promote(s, pri)
	return &Handle{req: s.req}, nil
}

// Enqueue adds a new request and returns the producer handle. Enqueueing
// content that is already pending is a bug in the caller and panics, use
// CheckImportInProgress or FindOrCreate to coalesce.
func (q *Queue) Enqueue(req *Request) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		req.Fail(types.ErrQueueClosed)
		return nil, fmt.Errorf("enqueue %s %s: %w", req.kind, req.hash, types.ErrQueueClosed)
	}
	key := requestKey{kind: req.kind, hash: req.hash}
	if _, ok := q.byKey[key]; ok {
		panic(fmt.Sprintf("duplicate import request enqueued for %s %s", req.kind, req.hash))
	}
	q.insert(key, req)
	return &Handle{req: req}, nil
}

// FindOrCreate returns a handle for pending content, promoting its priority,
// or creates and enqueues a new request when nothing is pending. The bool
// reports whether a new request was created. Check and insert share one
// critical section so no concurrent duplicate can slip between them.
func (q *Queue) FindOrCreate(kind types.Kind, hash digest.Digest, proxy types.ProxyRef, pri Priority) (*Handle, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false, fmt.Errorf("import %s %s: %w", kind, hash, types.ErrQueueClosed)
	}
	key := requestKey{kind: kind, hash: hash}
	if s, ok := q.byKey[key]; ok {
		q.promote(s, pri)
		return &Handle{req: s.req}, false, nil
	}
	req := newRequest(kind, hash, proxy, pri, q.watches[kind])
	q.insert(key, req)
	return &Handle{req: req}, true, nil
}

// insert adds a request to both indices and wakes one consumer. Callers hold
// the queue lock.
func (q *Queue) insert(key requestKey, req *Request) {
	s := &slot{req: req}
	q.byKey[key] = s
	heap.Push(&q.order, s)
	q.cond.Signal()
}

// promote raises a pending request's priority, reseating it in the heap when
// the effective priority changed. A less urgent pri is ignored, priorities
// never decrease. Callers hold the queue lock.
func (q *Queue) promote(s *slot, pri Priority) {
	next := Max(s.req.priority, pri)
	if next == s.req.priority {
		return
	}
	s.req.priority = next
	heap.Fix(&q.order, s.index)
}

// Dequeue blocks until requests are available or the queue is closed. It
// returns the most urgent request plus any further requests of the same
// kind, bounded by max and by the configured batch size for that kind. A nil
// return is terminal, the queue is closed and no more work will arrive.
// Returned requests are removed from the queue and owned by the caller,
// which must resolve each one with Complete or Fail.
func (q *Queue) Dequeue(max int) []*Request {
	if max < 1 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.order.Len() == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	first := q.pop()
	limit := q.conf.Get().Import.BatchSizeFor(first.kind)
	if limit > max {
		limit = max
	}
	batch := make([]*Request, 1, limit)
	batch[0] = first
	for len(batch) < limit && q.order.Len() > 0 && q.order[0].req.kind == first.kind {
		batch = append(batch, q.pop())
	}
	return batch
}

// pop removes the most urgent request from both indices. Callers hold the
// queue lock.
func (q *Queue) pop() *Request {
	s := heap.Pop(&q.order).(*slot)
	delete(q.byKey, requestKey{kind: s.req.kind, hash: s.req.hash})
	return s.req
}

// Close shuts the queue down. Requests still queued fail with ErrQueueClosed
// so attached waiters do not hang, blocked Dequeue calls wake and return
// nil, and later producer calls fail fast. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := make([]*Request, 0, len(q.byKey))
	for _, s := range q.byKey {
		pending = append(pending, s.req)
	}
	q.byKey = map[requestKey]*slot{}
	q.order = q.order[:0]
	q.cond.Broadcast()
	q.mu.Unlock()
	for _, req := range pending {
		req.Fail(types.ErrQueueClosed)
	}
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// IsEmpty indicates no requests are pending.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
