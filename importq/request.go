package importq

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/revclient/revclient/internal/oneshot"
	"github.com/revclient/revclient/internal/reqwatch"
	"github.com/revclient/revclient/types"
)

// Request is one pending import. The priority may be promoted under the
// queue lock while the request is queued, everything else is immutable.
type Request struct {
	kind     types.Kind
	hash     digest.Digest
	proxy    types.ProxyRef
	priority Priority
	created  time.Time
	cell     *oneshot.Cell[types.Object]
	scope    *reqwatch.Scope
}

// NewBlobRequest creates a pending blob import and registers it on the watch
// list. The watch list may be nil.
func NewBlobRequest(hash digest.Digest, proxy types.ProxyRef, pri Priority, watches *reqwatch.List) *Request {
	return newRequest(types.KindBlob, hash, proxy, pri, watches)
}

// NewTreeRequest creates a pending tree import and registers it on the watch
// list. The watch list may be nil.
func NewTreeRequest(hash digest.Digest, proxy types.ProxyRef, pri Priority, watches *reqwatch.List) *Request {
	return newRequest(types.KindTree, hash, proxy, pri, watches)
}

func newRequest(kind types.Kind, hash digest.Digest, proxy types.ProxyRef, pri Priority, watches *reqwatch.List) *Request {
	return &Request{
		kind:     kind,
		hash:     hash,
		proxy:    proxy,
		priority: pri,
		created:  time.Now(),
		cell:     oneshot.New[types.Object](),
		scope:    watches.Start(),
	}
}

// Kind returns the content kind being imported.
func (r *Request) Kind() types.Kind {
	return r.kind
}

// Hash returns the content hash being imported.
func (r *Request) Hash() digest.Digest {
	return r.hash
}

// Proxy returns the backing store locator for the content.
func (r *Request) Proxy() types.ProxyRef {
	return r.proxy
}

// Priority returns the request priority. It is only stable while the caller
// owns the request, before Enqueue or after Dequeue.
func (r *Request) Priority() Priority {
	return r.priority
}

// Created returns the request creation time.
func (r *Request) Created() time.Time {
	return r.created
}

// Complete resolves the request with a fetched object, waking every waiter.
// Only the first resolution counts.
func (r *Request) Complete(obj types.Object) {
	if r.cell.Complete(obj) {
		r.scope.Stop()
	}
}

// Fail resolves the request with an error, waking every waiter. Only the
// first resolution counts.
func (r *Request) Fail(err error) {
	if r.cell.Fail(err) {
		r.scope.Stop()
	}
}

// Handle gives a producer access to the shared result of a pending request.
// Every producer coalesced onto one request holds a handle to the same
// result.
type Handle struct {
	req *Request
}

// Kind returns the content kind being imported.
func (h *Handle) Kind() types.Kind {
	return h.req.kind
}

// Hash returns the content hash being imported.
func (h *Handle) Hash() digest.Digest {
	return h.req.hash
}

// Wait blocks until the import resolves or the context ends. A context error
// leaves the pending import and other waiters untouched.
func (h *Handle) Wait(ctx context.Context) (types.Object, error) {
	return h.req.cell.Wait(ctx)
}

// Done returns a channel that is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.req.cell.Done()
}

// Result returns the result, blocking until it is available.
func (h *Handle) Result() (types.Object, error) {
	return h.req.cell.Result()
}
