package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/revclient/revclient/types"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := ConfigNew()
	c.SetDefaults()
	if c.Import.Workers != defaultWorkers {
		t.Errorf("workers default mismatch, expected %d, received %d", defaultWorkers, c.Import.Workers)
	}
	if !c.Import.BatchingEnabled() {
		t.Errorf("batching not enabled by default")
	}
	if c.Import.BatchSizeFor(types.KindBlob) != defaultBatchSize {
		t.Errorf("blob batch size mismatch, expected %d, received %d", defaultBatchSize, c.Import.BatchSizeFor(types.KindBlob))
	}
	if c.Import.BatchSizeFor(types.KindTree) != defaultTreeBatchSize {
		t.Errorf("tree batch size mismatch, expected %d, received %d", defaultTreeBatchSize, c.Import.BatchSizeFor(types.KindTree))
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestConfigLoadReader(t *testing.T) {
	t.Parallel()
	in := `
version: 1
import:
  workers: 2
  batching: false
  batchSize: 32
  fetchTimeout: 30s
cache:
  memCount: 16
  redisAddr: localhost:6379
  redisTTL: 90s
`
	c, err := ConfigLoadReader(bytes.NewBufferString(in))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.Import.Workers != 2 {
		t.Errorf("workers mismatch, expected 2, received %d", c.Import.Workers)
	}
	if c.Import.BatchingEnabled() {
		t.Errorf("batching not disabled by config")
	}
	if c.Import.BatchSizeFor(types.KindBlob) != 1 {
		t.Errorf("batch size with batching disabled, expected 1, received %d", c.Import.BatchSizeFor(types.KindBlob))
	}
	if c.Import.FetchTimeout != 30*time.Second {
		t.Errorf("fetch timeout mismatch, expected 30s, received %v", c.Import.FetchTimeout)
	}
	if c.Cache.RedisTTL != 90*time.Second {
		t.Errorf("redis ttl mismatch, expected 90s, received %v", c.Cache.RedisTTL)
	}
	// unset fields still pick up defaults
	if c.Import.TreeBatchSize != defaultTreeBatchSize {
		t.Errorf("tree batch size default mismatch, expected %d, received %d", defaultTreeBatchSize, c.Import.TreeBatchSize)
	}
	if c.Cache.RedisPrefix != defaultRedisPrefix {
		t.Errorf("redis prefix default mismatch, expected %s, received %s", defaultRedisPrefix, c.Cache.RedisPrefix)
	}
}

func TestConfigLoadVersion(t *testing.T) {
	t.Parallel()
	_, err := ConfigLoadReader(bytes.NewBufferString("version: 2\n"))
	if err == nil {
		t.Errorf("load of unsupported version did not fail")
	} else if !errors.Is(err, types.ErrUnsupportedConfigVersion) {
		t.Errorf("unexpected error, expected %v, received %v", types.ErrUnsupportedConfigVersion, err)
	}
}

func TestConfigLoadEmpty(t *testing.T) {
	t.Parallel()
	c, err := ConfigLoadReader(bytes.NewBufferString(""))
	if err != nil {
		t.Fatalf("failed to load empty config: %v", err)
	}
	if c.Import.Workers != defaultWorkers {
		t.Errorf("empty config missing defaults, workers %d", c.Import.Workers)
	}
}

func TestConfigLoadFileMissing(t *testing.T) {
	t.Parallel()
	_, err := ConfigLoadFile("testdata/does-not-exist.yaml")
	if err == nil {
		t.Errorf("load of missing file did not fail")
	}
}

func TestReloadable(t *testing.T) {
	t.Parallel()
	r := NewReloadable(nil)
	if r.Get().Import.Workers != defaultWorkers {
		t.Errorf("nil reloadable missing defaults")
	}
	next := ConfigNew()
	next.SetDefaults()
	next.Import.BatchSize = 99
	r.Replace(next)
	if r.Get().Import.BatchSize != 99 {
		t.Errorf("replacement not visible, batch size %d", r.Get().Import.BatchSize)
	}
	r.Replace(nil)
	if r.Get().Import.BatchSize != 99 {
		t.Errorf("nil replacement changed the snapshot")
	}
}
