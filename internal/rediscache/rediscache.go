// Package rediscache is an optional shared object cache tier over redis,
// letting several mounts on one machine reuse fetched content.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/redis/go-redis/v9"

	"github.com/revclient/revclient/types"
)

type cacheConfig struct {
	ttl    time.Duration
	prefix string
}

// Opts adjusts the cache.
type Opts func(*cacheConfig)

// WithTTL sets how long entries live, zero keeps them until redis evicts.
func WithTTL(ttl time.Duration) Opts {
	return func(c *cacheConfig) {
		c.ttl = ttl
	}
}

// WithPrefix namespaces the keys.
func WithPrefix(prefix string) Opts {
	return func(c *cacheConfig) {
		c.prefix = prefix
	}
}

// Cache stores object payloads by kind and hash.
type Cache struct {
	conf   cacheConfig
	client *redis.Client
}

// New connects to redis at addr and verifies it responds.
func New(ctx context.Context, addr string, opts ...Opts) (*Cache, error) {
	conf := cacheConfig{
		prefix: "revclient",
	}
	for _, opt := range opts {
		opt(&conf)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &Cache{conf: conf, client: client}, nil
}

func (c *Cache) key(kind types.Kind, hash digest.Digest) string {
	return fmt.Sprintf("%s:%s:%s", c.conf.prefix, kind, hash)
}

// Get returns cached payload data.
func (c *Cache) Get(ctx context.Context, kind types.Kind, hash digest.Digest) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(kind, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, hash)
		}
		return nil, err
	}
	return data, nil
}

// Set stores payload data under the configured TTL.
func (c *Cache) Set(ctx context.Context, kind types.Kind, hash digest.Digest, data []byte) error {
	return c.client.Set(ctx, c.key(kind, hash), data, c.conf.ttl).Err()
}

// Close releases the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
