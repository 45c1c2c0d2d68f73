// Package revclient lazily imports file and directory content from a source
// control history service. Content is addressed by a hash derived from its
// (revision, path) proxy reference. Reads are served from cache tiers, and
// misses coalesce through a priority ordered import queue drained by a pool
// of importer workers, so concurrent requests for the same content trigger a
// single fetch.
package revclient

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/revclient/revclient/backing"
	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importer"
	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/internal/localstore"
	"github.com/revclient/revclient/internal/rediscache"
	"github.com/revclient/revclient/internal/reqwatch"
	"github.com/revclient/revclient/store"
	"github.com/revclient/revclient/types"
)

const (
	// ClassLow for background prefetches
	ClassLow = importq.ClassLow
	// ClassNormal for standard operations
	ClassNormal = importq.ClassNormal
	// ClassHigh for operations blocking an interactive caller
	ClassHigh = importq.ClassHigh
)

// Client wires the import pipeline: cache tiers in front of a deduplicating
// import queue, drained by importer workers fetching from a backing store.
type Client struct {
	conf      *config.Reloadable
	log       *logrus.Logger
	src       backing.Store
	queue     *importq.Queue
	pool      *importer.Pool
	store     *store.Store
	local     *localstore.Store
	remote    store.RemoteCache
	closeOnce sync.Once
	closeErr  error
}

// Opt functions are used to configure New
type Opt func(*Client)

// New returns a client importing content from src. Importer workers start
// immediately and run until Close.
func New(src backing.Store, opts ...Opt) (*Client, error) {
	c := Client{
		// logging is disabled by default
		log: &logrus.Logger{Out: io.Discard},
	}
	for _, opt := range opts {
		opt(&c)
	}
	if src == nil {
		return nil, fmt.Errorf("a backing store is required")
	}
	c.src = src
	if c.conf == nil {
		c.conf = config.NewReloadable(nil)
	}
	conf := c.conf.Get()

	blobWatch := reqwatch.NewList()
	treeWatch := reqwatch.NewList()
	c.queue = importq.New(
		importq.WithConfig(c.conf),
		importq.WithWatchList(types.KindBlob, blobWatch),
		importq.WithWatchList(types.KindTree, treeWatch),
	)

	storeOpts := []store.Opts{
		store.WithConfig(c.conf),
		store.WithLog(c.log),
		store.WithWatchList(types.KindBlob, blobWatch),
		store.WithWatchList(types.KindTree, treeWatch),
	}
	if conf.Cache.LocalPath != "" {
		local, err := localstore.New(conf.Cache.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		c.local = local
		storeOpts = append(storeOpts, store.WithLocalStore(local))
	}
	if conf.Cache.RedisAddr != "" {
		remote, err := rediscache.New(context.Background(), conf.Cache.RedisAddr,
			rediscache.WithTTL(conf.Cache.RedisTTL),
			rediscache.WithPrefix(conf.Cache.RedisPrefix),
		)
		if err != nil {
			if c.local != nil {
				_ = c.local.Close()
			}
			return nil, fmt.Errorf("failed to connect remote cache: %w", err)
		}
		c.remote = remote
		storeOpts = append(storeOpts, store.WithRemoteCache(remote))
	}
	c.store = store.New(c.queue, storeOpts...)

	c.pool = importer.New(c.queue, c.src, importer.WithConfig(c.conf), importer.WithLog(c.log))
	c.pool.Start(context.Background())

	c.log.WithFields(logrus.Fields{
		"workers": conf.Import.Workers,
		"local":   conf.Cache.LocalPath != "",
		"remote":  conf.Cache.RedisAddr != "",
	}).Debug("revclient initialized")

	return &c, nil
}

// WithConfig sets the initial configuration.
func WithConfig(conf *config.Config) Opt {
	return func(c *Client) {
		if conf == nil {
			return
		}
		conf.SetDefaults()
		c.conf = config.NewReloadable(conf)
	}
}

// WithLog overrides default logrus Logger
func WithLog(log *logrus.Logger) Opt {
	return func(c *Client) {
		c.log = log
	}
}

// ConfigReload validates and publishes a new configuration snapshot. The
// queue and importer observe updated batching tunables on their next
// operation. Cache tiers and the worker count are fixed at construction.
func (c *Client) ConfigReload(conf *config.Config) error {
	if conf == nil {
		return fmt.Errorf("a config is required")
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return err
	}
	c.conf.Replace(conf)
	c.log.Debug("config reloaded")
	return nil
}

// PendingImports reports the count and age of in-flight imports per kind.
type PendingImports struct {
	Blobs store.PendingStats
	Trees store.PendingStats
}

// PendingImports returns a snapshot of the in-flight import watch lists.
func (c *Client) PendingImports() PendingImports {
	return PendingImports{
		Blobs: c.store.Pending(types.KindBlob),
		Trees: c.store.Pending(types.KindTree),
	}
}

// Stats returns cumulative cache and import counters.
func (c *Client) Stats() store.Stats {
	return c.store.Stats()
}

// QueueLen returns the number of requests waiting for an importer.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// Close shuts the pipeline down. Queued imports fail, blocked waiters are
// released, workers drain, and the backing store and cache tiers are closed.
// Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.store.Close()
		c.queue.Close()
		c.pool.Wait()
		if err := c.src.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("failed to close backing store: %w", err)
		}
		if c.local != nil {
			if err := c.local.Close(); err != nil && c.closeErr == nil {
				c.closeErr = fmt.Errorf("failed to close local store: %w", err)
			}
		}
		if c.remote != nil {
			if err := c.remote.Close(); err != nil && c.closeErr == nil {
				c.closeErr = fmt.Errorf("failed to close remote cache: %w", err)
			}
		}
		c.log.Debug("revclient closed")
	})
	return c.closeErr
}
