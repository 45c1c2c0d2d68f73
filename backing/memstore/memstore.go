// Package memstore is an in-memory backing store used by tests and the
// benchmark tool. It supports seeded content, fetch latency, and failure
// injection.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/revclient/revclient/backing"
	"github.com/revclient/revclient/types"
)

type memConfig struct {
	latency time.Duration
}

// Opts adjusts the store.
type Opts func(*memConfig)

// WithLatency delays every round trip by d.
func WithLatency(d time.Duration) Opts {
	return func(c *memConfig) {
		c.latency = d
	}
}

// Mem holds seeded content keyed by content hash.
type Mem struct {
	mu         sync.Mutex
	conf       memConfig
	objects    map[digest.Digest]types.Object
	objErrs    map[digest.Digest]error
	failTrips  int
	failErr    error
	roundTrips int64
	fetched    map[digest.Digest]int
	closed     bool
}

// New creates an empty store.
func New(opts ...Opts) *Mem {
	c := memConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	return &Mem{
		conf:    c,
		objects: map[digest.Digest]types.Object{},
		objErrs: map[digest.Digest]error{},
		fetched: map[digest.Digest]int{},
	}
}

// SeedBlob registers file content for a reference and returns its hash.
func (m *Mem) SeedBlob(proxy types.ProxyRef, data []byte) digest.Digest {
	hash := proxy.ContentHash()
	m.mu.Lock()
	m.objects[hash] = types.Object{Kind: types.KindBlob, Hash: hash, Data: data}
	m.mu.Unlock()
	return hash
}

// SeedTree registers a directory listing for a reference and returns its
// hash.
func (m *Mem) SeedTree(proxy types.ProxyRef, tree types.Tree) (digest.Digest, error) {
	data, err := tree.Marshal()
	if err != nil {
		return "", err
	}
	hash := proxy.ContentHash()
	m.mu.Lock()
	m.objects[hash] = types.Object{Kind: types.KindTree, Hash: hash, Data: data}
	m.mu.Unlock()
	return hash, nil
}

// SetError makes fetches of one reference fail with err.
func (m *Mem) SetError(proxy types.ProxyRef, err error) {
	m.mu.Lock()
	m.objErrs[proxy.ContentHash()] = err
	m.mu.Unlock()
}

// FailRoundTrips makes the next n round trips fail with err before producing
// any result, used to exercise retry handling.
func (m *Mem) FailRoundTrips(n int, err error) {
	m.mu.Lock()
	m.failTrips = n
	m.failErr = err
	m.mu.Unlock()
}

// RoundTrips reports how many fetch calls reached the store.
func (m *Mem) RoundTrips() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundTrips
}

// FetchCount reports how often one object was served.
func (m *Mem) FetchCount(hash digest.Digest) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[hash]
}

// FetchBlob retrieves one file's content.
func (m *Mem) FetchBlob(ctx context.Context, proxy types.ProxyRef) (types.Object, error) {
	return m.fetchOne(ctx, types.KindBlob, proxy)
}

// FetchTree retrieves one directory listing.
func (m *Mem) FetchTree(ctx context.Context, proxy types.ProxyRef) (types.Object, error) {
	return m.fetchOne(ctx, types.KindTree, proxy)
}

// FetchBlobBatch retrieves a group of files in one round trip.
func (m *Mem) FetchBlobBatch(ctx context.Context, proxies []types.ProxyRef) ([]backing.Result, error) {
	return m.fetchBatch(ctx, types.KindBlob, proxies)
}

// FetchTreeBatch retrieves a group of directory listings in one round trip.
func (m *Mem) FetchTreeBatch(ctx context.Context, proxies []types.ProxyRef) ([]backing.Result, error) {
	return m.fetchBatch(ctx, types.KindTree, proxies)
}

// Close releases the store.
func (m *Mem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Mem) fetchOne(ctx context.Context, kind types.Kind, proxy types.ProxyRef) (types.Object, error) {
	results, err := m.fetchBatch(ctx, kind, []types.ProxyRef{proxy})
	if err != nil {
		return types.Object{}, err
	}
	return results[0].Object, results[0].Err
}

func (m *Mem) fetchBatch(ctx context.Context, kind types.Kind, proxies []types.ProxyRef) ([]backing.Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("backing store: %w", types.ErrStoreClosed)
	}
	m.roundTrips++
	if m.failTrips > 0 {
		m.failTrips--
		return nil, m.failErr
	}
	results := make([]backing.Result, len(proxies))
	for i, proxy := range proxies {
		hash := proxy.ContentHash()
		if err, ok := m.objErrs[hash]; ok {
			results[i].Err = err
			continue
		}
		obj, ok := m.objects[hash]
		if !ok || obj.Kind != kind {
			results[i].Err = fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, proxy)
			continue
		}
		m.fetched[hash]++
		results[i].Object = obj
	}
	return results, nil
}

// wait simulates transport latency, honoring cancellation.
func (m *Mem) wait(ctx context.Context) error {
	if m.conf.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.conf.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
