package config

import "sync/atomic"

// Reloadable publishes a config snapshot that can be replaced at runtime.
// Readers hold the returned pointer for the duration of one operation and
// must not modify it, later operations observe replacements.
type Reloadable struct {
	cur atomic.Pointer[Config]
}

// NewReloadable wraps a config. A nil config starts from defaults.
func NewReloadable(c *Config) *Reloadable {
	if c == nil {
		c = ConfigNew()
		c.SetDefaults()
	}
	r := Reloadable{}
	r.cur.Store(c)
	return &r
}

// Get returns the current snapshot.
func (r *Reloadable) Get() *Config {
	return r.cur.Load()
}

// Replace swaps in a new snapshot. Nil replacements are ignored.
func (r *Reloadable) Replace(c *Config) {
	if c == nil {
		return
	}
	r.cur.Store(c)
}
