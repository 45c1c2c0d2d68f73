// Package cache is a minimal keyed cache with age and count based pruning.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/revclient/revclient/types"
)

type conf struct {
	age   time.Duration
	count int
}

// Opts configures the cache limits.
type Opts func(*conf)

// WithAge prunes entries that have not been used within age.
func WithAge(age time.Duration) Opts {
	return func(c *conf) {
		c.age = age
	}
}

// WithCount bounds the number of entries.
func WithCount(count int) Opts {
	return func(c *conf) {
		c.count = count
	}
}

type entry[V any] struct {
	val  V
	used time.Time
}

// Cache stores values by key, evicting expired and least recently used
// entries. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	conf    conf
	entries map[K]entry[V]
}

// New creates an empty cache.
func New[K comparable, V any](opts ...Opts) *Cache[K, V] {
	c := conf{}
	for _, opt := range opts {
		opt(&c)
	}
	return &Cache[K, V]{
		conf:    c,
		entries: map[K]entry[V]{},
	}
}

// Get returns the stored value and refreshes its use time. Expired or
// missing keys return ErrNotFound.
func (c *Cache[K, V]) Get(key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && c.conf.age > 0 && time.Since(e.used) > c.conf.age {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		var zero V
		return zero, types.ErrNotFound
	}
	e.used = time.Now()
	c.entries[key] = e
	return e.val, nil
}

// Set stores a value, pruning old entries once the count limit is exceeded.
func (c *Cache[K, V]) Set(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{val: val, used: time.Now()}
	c.prune()
}

// Delete drops a key, missing keys are ignored.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// prune drops expired entries, and while 10% over the count limit, the least
// recently used entries. Callers hold the lock.
func (c *Cache[K, V]) prune() {
	if c.conf.age > 0 {
		cutoff := time.Now().Add(-c.conf.age)
		for k, e := range c.entries {
			if e.used.Before(cutoff) {
				delete(c.entries, k)
			}
		}
	}
	if c.conf.count <= 0 || len(c.entries) <= c.conf.count+c.conf.count/10 {
		return
	}
	type keyUsed struct {
		key  K
		used time.Time
	}
	byAge := make([]keyUsed, 0, len(c.entries))
	for k, e := range c.entries {
		byAge = append(byAge, keyUsed{key: k, used: e.used})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].used.Before(byAge[j].used)
	})
	for _, e := range byAge[:len(byAge)-c.conf.count] {
		delete(c.entries, e.key)
	}
}
