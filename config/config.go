// Package config defines the tunables for the import pipeline and loads them
// from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/revclient/revclient/types"
)

const (
	defaultWorkers          = 8
	defaultBatchSize        = 16
	defaultTreeBatchSize    = 4
	defaultFetchTimeout     = time.Minute
	defaultRetryLimit       = 3
	defaultRetryDelayInit   = 100 * time.Millisecond
	defaultRetryDelayMax    = 5 * time.Second
	defaultPrefetchParallel = 4
	defaultMemCount         = 1024
	defaultMemAge           = 5 * time.Minute
	defaultLocalPruneAge    = 7 * 24 * time.Hour
	defaultRedisTTL         = time.Hour
	defaultRedisPrefix      = "revclient"
)

// Config is the parsed configuration for the import pipeline.
type Config struct {
	Version int          `json:"version" yaml:"version"`
	Import  ConfigImport `json:"import" yaml:"import"`
	Cache   ConfigCache  `json:"cache" yaml:"cache"`
}

// ConfigImport tunes the queue and the importer workers.
type ConfigImport struct {
	Workers          int           `json:"workers" yaml:"workers"`
	Batching         *bool         `json:"batching" yaml:"batching"`
	BatchSize        int           `json:"batchSize" yaml:"batchSize"`
	TreeBatchSize    int           `json:"treeBatchSize" yaml:"treeBatchSize"`
	FetchTimeout     time.Duration `json:"fetchTimeout" yaml:"fetchTimeout"`
	RetryLimit       int           `json:"retryLimit" yaml:"retryLimit"`
	RetryDelayInit   time.Duration `json:"retryDelayInit" yaml:"retryDelayInit"`
	RetryDelayMax    time.Duration `json:"retryDelayMax" yaml:"retryDelayMax"`
	PrefetchTrees    bool          `json:"prefetchTrees" yaml:"prefetchTrees"`
	PrefetchParallel int           `json:"prefetchParallel" yaml:"prefetchParallel"`
}

// ConfigCache tunes the object cache tiers. An empty LocalPath or RedisAddr
// disables that tier.
type ConfigCache struct {
	MemCount      int           `json:"memCount" yaml:"memCount"`
	MemAge        time.Duration `json:"memAge" yaml:"memAge"`
	LocalPath     string        `json:"localPath" yaml:"localPath"`
	LocalPruneAge time.Duration `json:"localPruneAge" yaml:"localPruneAge"`
	RedisAddr     string        `json:"redisAddr" yaml:"redisAddr"`
	RedisTTL      time.Duration `json:"redisTTL" yaml:"redisTTL"`
	RedisPrefix   string        `json:"redisPrefix" yaml:"redisPrefix"`
}

// BatchingEnabled applies the default when batching is unset.
func (c ConfigImport) BatchingEnabled() bool {
	return c.Batching == nil || *c.Batching
}

// BatchSizeFor returns the effective dequeue batch size for a request kind.
func (c ConfigImport) BatchSizeFor(kind types.Kind) int {
	if !c.BatchingEnabled() {
		return 1
	}
	size := c.BatchSize
	if kind == types.KindTree {
		size = c.TreeBatchSize
	}
	if size < 1 {
		return 1
	}
	return size
}

// ConfigNew creates an empty configuration.
func ConfigNew() *Config {
	c := Config{Version: 1}
	return &c
}

// SetDefaults fills unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Import.Workers <= 0 {
		c.Import.Workers = defaultWorkers
	}
	if c.Import.Batching == nil {
		b := true
		c.Import.Batching = &b
	}
	if c.Import.BatchSize <= 0 {
		c.Import.BatchSize = defaultBatchSize
	}
	if c.Import.TreeBatchSize <= 0 {
		c.Import.TreeBatchSize = defaultTreeBatchSize
	}
	if c.Import.FetchTimeout <= 0 {
		c.Import.FetchTimeout = defaultFetchTimeout
	}
	if c.Import.RetryLimit <= 0 {
		c.Import.RetryLimit = defaultRetryLimit
	}
	if c.Import.RetryDelayInit <= 0 {
		c.Import.RetryDelayInit = defaultRetryDelayInit
	}
	if c.Import.RetryDelayMax <= 0 {
		c.Import.RetryDelayMax = defaultRetryDelayMax
	}
	if c.Import.PrefetchParallel <= 0 {
		c.Import.PrefetchParallel = defaultPrefetchParallel
	}
	if c.Cache.MemCount <= 0 {
		c.Cache.MemCount = defaultMemCount
	}
	if c.Cache.MemAge <= 0 {
		c.Cache.MemAge = defaultMemAge
	}
	if c.Cache.LocalPruneAge <= 0 {
		c.Cache.LocalPruneAge = defaultLocalPruneAge
	}
	if c.Cache.RedisTTL <= 0 {
		c.Cache.RedisTTL = defaultRedisTTL
	}
	if c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = defaultRedisPrefix
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Version > 1 {
		return fmt.Errorf("%w: version %d", types.ErrUnsupportedConfigVersion, c.Version)
	}
	if c.Import.Workers <= 0 {
		return fmt.Errorf("import workers must be positive, received %d", c.Import.Workers)
	}
	if c.Import.BatchSize < 1 || c.Import.TreeBatchSize < 1 {
		return fmt.Errorf("batch sizes must be at least 1, received %d and %d", c.Import.BatchSize, c.Import.TreeBatchSize)
	}
	return nil
}

// ConfigLoadReader reads the config from an io.Reader.
func ConfigLoadReader(reader io.Reader) (*Config, error) {
	c := ConfigNew()
	if err := yaml.NewDecoder(reader).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	// verify loaded version is not higher than supported version
	if c.Version > 1 {
		return c, types.ErrUnsupportedConfigVersion
	}
	c.SetDefaults()
	return c, nil
}

// ConfigLoadFile loads the config from a specified filename.
func ConfigLoadFile(filename string) (*Config, error) {
	_, err := os.Stat(filename)
	if err == nil {
		file, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		c, err := ConfigLoadReader(file)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, err
}
