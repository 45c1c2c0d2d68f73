package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importq"
)

// Config is parsed from a yaml file with the warming jobs
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Backing  ConfigBacking  `yaml:"backing" json:"backing"`
	Client   ConfigClient   `yaml:"client" json:"client"`
	Defaults ConfigDefaults `yaml:"defaults" json:"defaults"`
	Warm     []ConfigWarm   `yaml:"warm" json:"warm"`
}

// ConfigBacking points at the directory revisions are imported from
type ConfigBacking struct {
	Path string `yaml:"path" json:"path"`
}

// ConfigClient carries the import pipeline tunables
type ConfigClient struct {
	Import config.ConfigImport `yaml:"import" json:"import"`
	Cache  config.ConfigCache  `yaml:"cache" json:"cache"`
}

// ConfigDefaults is uses for general options and defaults for warm entries
type ConfigDefaults struct {
	Parallel int           `yaml:"parallel" json:"parallel"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Priority string        `yaml:"priority" json:"priority"`
}

// ConfigWarm defines a tree to keep warm in the caches
type ConfigWarm struct {
	Rev      string        `yaml:"rev" json:"rev"`
	Path     string        `yaml:"path" json:"path"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Priority string        `yaml:"priority" json:"priority"`
}

// ConfigNew creates an empty configuration
func ConfigNew() *Config {
	c := Config{
		Warm: []ConfigWarm{},
	}
	return &c
}

// ConfigLoadReader reads the config from an io.Reader
func ConfigLoadReader(r io.Reader) (*Config, error) {
	c := ConfigNew()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	// verify loaded version is not higher than supported version
	if c.Version > 1 {
		return c, ErrUnsupportedConfigVersion
	}
	if c.Defaults.Priority == "" {
		c.Defaults.Priority = importq.ClassLow.String()
	}
	// apply defaults to each entry
	for i := range c.Warm {
		warmSetDefaults(&c.Warm[i], c.Defaults)
	}
	for _, w := range c.Warm {
		if w.Rev == "" {
			return c, fmt.Errorf("%w: warm entry missing rev", ErrInvalidInput)
		}
		if _, err := parsePriority(w.Priority); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ConfigLoadFile loads the config from a specified filename
func ConfigLoadFile(filename string) (*Config, error) {
	_, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ConfigLoadReader(file)
}

// ConfigWrite outputs the processed config
func ConfigWrite(c *Config, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(c)
}

// warmSetDefaults fills unset fields on a warm entry from the defaults
func warmSetDefaults(w *ConfigWarm, d ConfigDefaults) {
	if w.Schedule == "" && d.Schedule != "" {
		w.Schedule = d.Schedule
	}
	if w.Interval == 0 && w.Schedule == "" && d.Interval != 0 {
		w.Interval = d.Interval
	}
	if w.Priority == "" {
		w.Priority = d.Priority
	}
}

// parsePriority maps a config name to an import class
func parsePriority(name string) (importq.Class, error) {
	switch name {
	case "", importq.ClassLow.String():
		return importq.ClassLow, nil
	case importq.ClassNormal.String():
		return importq.ClassNormal, nil
	case importq.ClassHigh.String():
		return importq.ClassHigh, nil
	}
	return importq.ClassLow, fmt.Errorf("%w: unknown priority %s", ErrInvalidInput, name)
}
