// Package store is the producer facing object store. Reads are answered
// from the cache tiers, misses resolve their proxy reference and coalesce
// through the import queue, so any number of concurrent callers asking for
// the same content trigger at most one fetch.
package store

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/internal/cache"
	"github.com/revclient/revclient/internal/localstore"
	"github.com/revclient/revclient/internal/reqwatch"
	"github.com/revclient/revclient/internal/throttle"
	"github.com/revclient/revclient/types"
)

// RemoteCache is an optional shared cache tier between the local tiers and
// the import queue.
type RemoteCache interface {
	Get(ctx context.Context, kind types.Kind, hash digest.Digest) ([]byte, error)
	Set(ctx context.Context, kind types.Kind, hash digest.Digest, data []byte) error
	Close() error
}

type memKey struct {
	kind types.Kind
	hash digest.Digest
}

// Store answers object reads.
type Store struct {
	queue    *importq.Queue
	conf     *config.Reloadable
	log      *logrus.Logger
	mem      *cache.Cache[memKey, types.Object]
	proxies  *cache.Cache[digest.Digest, types.ProxyRef]
	local    *localstore.Store
	remote   RemoteCache
	watches  map[types.Kind]*reqwatch.List
	prefetch *throttle.Throttle
	closed   atomic.Bool

	memHits    atomic.Int64
	localHits  atomic.Int64
	remoteHits atomic.Int64
	imports    atomic.Int64
	coalesced  atomic.Int64
	prefetches atomic.Int64
}

type storeOpts struct {
	conf    *config.Reloadable
	log     *logrus.Logger
	local   *localstore.Store
	remote  RemoteCache
	watches map[types.Kind]*reqwatch.List
}

// Opts adjusts the store configuration.
type Opts func(*storeOpts)

// WithConfig sets the reloadable config.
func WithConfig(conf *config.Reloadable) Opts {
	return func(o *storeOpts) {
		o.conf = conf
	}
}

// WithLog sets the logger.
func WithLog(log *logrus.Logger) Opts {
	return func(o *storeOpts) {
		o.log = log
	}
}

// WithLocalStore enables the persistent local tier.
func WithLocalStore(local *localstore.Store) Opts {
	return func(o *storeOpts) {
		o.local = local
	}
}

// WithRemoteCache enables the shared remote tier.
func WithRemoteCache(remote RemoteCache) Opts {
	return func(o *storeOpts) {
		o.remote = remote
	}
}

// WithWatchList registers the pending watch list for a kind, shared with the
// queue so coalesced requests are tracked once.
func WithWatchList(kind types.Kind, l *reqwatch.List) Opts {
	return func(o *storeOpts) {
		o.watches[kind] = l
	}
}

// New creates a store importing misses through queue.
func New(queue *importq.Queue, opts ...Opts) *Store {
	so := storeOpts{
		log:     &logrus.Logger{Out: io.Discard},
		watches: map[types.Kind]*reqwatch.List{},
	}
	for _, opt := range opts {
		opt(&so)
	}
	if so.conf == nil {
		so.conf = config.NewReloadable(nil)
	}
	c := so.conf.Get().Cache
	imp := so.conf.Get().Import
	return &Store{
		queue:    queue,
		conf:     so.conf,
		log:      so.log,
		mem:      cache.New[memKey, types.Object](cache.WithAge(c.MemAge), cache.WithCount(c.MemCount)),
		proxies:  cache.New[digest.Digest, types.ProxyRef](),
		local:    so.local,
		remote:   so.remote,
		watches:  so.watches,
		prefetch: throttle.New(imp.PrefetchParallel),
	}
}

type getOpts struct {
	class importq.Class
}

// GetOpts adjusts one read.
type GetOpts func(*getOpts)

// WithPriority sets the priority class for the read, normal by default.
func WithPriority(class importq.Class) GetOpts {
	return func(o *getOpts) {
		o.class = class
	}
}

// GetBlob returns file content by hash.
func (s *Store) GetBlob(ctx context.Context, hash digest.Digest, opts ...GetOpts) (types.Object, error) {
	return s.get(ctx, types.KindBlob, hash, opts...)
}

// GetTree returns a directory listing by hash.
func (s *Store) GetTree(ctx context.Context, hash digest.Digest, opts ...GetOpts) (types.Object, error) {
	return s.get(ctx, types.KindTree, hash, opts...)
}

// ResolveRoot records the proxy mapping for a root tree and imports it, the
// entry point after resolving a commit to its root tree reference.
func (s *Store) ResolveRoot(ctx context.Context, proxy types.ProxyRef, opts ...GetOpts) (types.Object, error) {
	hash := proxy.ContentHash()
	if err := s.RecordProxies(map[digest.Digest]types.ProxyRef{hash: proxy}); err != nil {
		return types.Object{}, err
	}
	return s.GetTree(ctx, hash, opts...)
}

// RecordProxy registers an externally resolved hash to proxy mapping.
func (s *Store) RecordProxy(hash digest.Digest, proxy types.ProxyRef) error {
	return s.RecordProxies(map[digest.Digest]types.ProxyRef{hash: proxy})
}

func (s *Store) get(ctx context.Context, kind types.Kind, hash digest.Digest, opts ...GetOpts) (types.Object, error) {
	if s.closed.Load() {
		return types.Object{}, fmt.Errorf("get %s %s: %w", kind, hash, types.ErrStoreClosed)
	}
	o := getOpts{class: importq.ClassNormal}
	for _, opt := range opts {
		opt(&o)
	}
	key := memKey{kind: kind, hash: hash}
	if obj, err := s.mem.Get(key); err == nil {
		s.memHits.Add(1)
		return obj, nil
	}
	if s.local != nil {
		if obj, err := s.local.GetObject(kind, hash); err == nil {
			s.localHits.Add(1)
			s.mem.Set(key, obj)
			return obj, nil
		}
	}
	if s.remote != nil {
		if data, err := s.remote.Get(ctx, kind, hash); err == nil {
			obj := types.Object{Kind: kind, Hash: hash, Data: data}
			s.remoteHits.Add(1)
			s.mem.Set(key, obj)
			return obj, nil
		}
	}
	return s.importObject(ctx, kind, hash, o.class)
}

// importObject coalesces a cache miss through the queue and waits for the
// result. The request creator populates the cache tiers and records tree
// entry mappings, callers that coalesced onto an existing request only fill
// the memory tier.
func (s *Store) importObject(ctx context.Context, kind types.Kind, hash digest.Digest, class importq.Class) (types.Object, error) {
	proxy, err := s.resolveProxy(kind, hash)
	if err != nil {
		return types.Object{}, err
	}
	handle, created, err := s.queue.FindOrCreate(kind, hash, proxy, importq.NewPriority(class))
	if err != nil {
		return types.Object{}, err
	}
	if created {
		s.imports.Add(1)
	} else {
		s.coalesced.Add(1)
	}
	obj, err := handle.Wait(ctx)
	if err != nil {
		return types.Object{}, err
	}
	s.mem.Set(memKey{kind: kind, hash: hash}, obj)
	if created {
		s.fillTiers(ctx, obj)
		if kind == types.KindTree {
			s.recordTree(obj)
		}
	}
	return obj, nil
}

// resolveProxy finds the fetch locator for a hash, checking the in-memory
// map and then the local store.
func (s *Store) resolveProxy(kind types.Kind, hash digest.Digest) (types.ProxyRef, error) {
	if proxy, err := s.proxies.Get(hash); err == nil {
		return proxy, nil
	}
	if s.local != nil {
		if proxy, err := s.local.GetProxy(hash); err == nil {
			s.proxies.Set(hash, proxy)
			return proxy, nil
		}
	}
	return types.ProxyRef{}, fmt.Errorf("%w for %s %s", types.ErrMissingProxy, kind, hash)
}

// RecordProxies stores hash to proxy mappings in memory and, when enabled,
// the local store.
func (s *Store) RecordProxies(proxies map[digest.Digest]types.ProxyRef) error {
	if s.closed.Load() {
		return fmt.Errorf("record proxies: %w", types.ErrStoreClosed)
	}
	for hash, proxy := range proxies {
		s.proxies.Set(hash, proxy)
	}
	if s.local != nil {
		if err := s.local.PutProxyBatch(proxies); err != nil {
			return fmt.Errorf("failed to record proxy mappings: %w", err)
		}
	}
	return nil
}

// fillTiers writes a fetched object through to the persistent tiers.
func (s *Store) fillTiers(ctx context.Context, obj types.Object) {
	if s.local != nil {
		if err := s.local.PutObject(obj); err != nil {
			s.log.WithFields(logrus.Fields{
				"kind": obj.Kind,
				"hash": obj.Hash,
				"err":  err,
			}).Warn("Failed to write local store")
		}
	}
	if s.remote != nil {
		if err := s.remote.Set(ctx, obj.Kind, obj.Hash, obj.Data); err != nil {
			s.log.WithFields(logrus.Fields{
				"kind": obj.Kind,
				"hash": obj.Hash,
				"err":  err,
			}).Warn("Failed to write remote cache")
		}
	}
}

// recordTree stores the proxy mapping for every entry so children can be
// imported from their hash alone, then kicks off the child prefetch when
// enabled.
func (s *Store) recordTree(obj types.Object) {
	tree, err := types.ParseTree(obj)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"hash": obj.Hash,
			"err":  err,
		}).Warn("Failed to parse imported tree")
		return
	}
	proxies := make(map[digest.Digest]types.ProxyRef, len(tree.Entries))
	for _, entry := range tree.Entries {
		proxies[entry.Hash] = entry.Proxy
	}
	if err := s.RecordProxies(proxies); err != nil {
		s.log.WithFields(logrus.Fields{
			"hash": obj.Hash,
			"err":  err,
		}).Warn("Failed to record tree entries")
	}
	if s.conf.Get().Import.PrefetchTrees {
		s.prefetchBlobs(tree)
	}
}

// prefetchBlobs schedules low priority imports for a tree's child blobs.
// Fire and forget, results land in the cache tiers for later reads. The
// throttle bounds how many prefetch waiters run at once.
func (s *Store) prefetchBlobs(tree *types.Tree) {
	for _, entry := range tree.Entries {
		if entry.Kind != types.KindBlob {
			continue
		}
		hash := entry.Hash
		go func() {
			ctx := context.Background()
			if err := s.prefetch.Acquire(ctx); err != nil {
				return
			}
			defer func() {
				_ = s.prefetch.Release(ctx)
			}()
			s.prefetches.Add(1)
			if _, err := s.get(ctx, types.KindBlob, hash, WithPriority(importq.ClassLow)); err != nil {
				s.log.WithFields(logrus.Fields{
					"hash": hash,
					"err":  err,
				}).Debug("Prefetch failed")
			}
		}()
	}
}

// PendingStats reports the pending import count and the age of the oldest
// pending import for one kind.
type PendingStats struct {
	Count  int
	MaxAge time.Duration
}

// Pending returns the watch list stats for a kind.
func (s *Store) Pending(kind types.Kind) PendingStats {
	l := s.watches[kind]
	return PendingStats{
		Count:  l.Count(),
		MaxAge: l.MaxAge(time.Now()),
	}
}

// Stats are cumulative store counters.
type Stats struct {
	MemHits    int64
	LocalHits  int64
	RemoteHits int64
	Imports    int64
	Coalesced  int64
	Prefetches int64
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		MemHits:    s.memHits.Load(),
		LocalHits:  s.localHits.Load(),
		RemoteHits: s.remoteHits.Load(),
		Imports:    s.imports.Load(),
		Coalesced:  s.coalesced.Load(),
		Prefetches: s.prefetches.Load(),
	}
}

// Close stops new reads. In-flight imports resolve through the queue's own
// shutdown. Close is idempotent.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
