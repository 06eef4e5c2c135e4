// Package config loads the repository's TOML configuration file, the way
// pkg/sysregistriesv2 loads registries.conf in the containers/image
// lineage this module descends from.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the top-level repository configuration.
type Config struct {
	Listen  string        `toml:"listen"`
	Backend BackendConfig `toml:"backend"`
	Cache   CacheConfig   `toml:"cache"`
	Bag     BagDefaults   `toml:"bag"`
}

// BackendConfig selects and configures one of the three backend kinds.
type BackendConfig struct {
	Kind string `toml:"kind"` // "filesystem", "objectstore", or "remote"

	// Filesystem
	Root string `toml:"root"`

	// Objectstore
	Region  string            `toml:"region"`
	Buckets map[string]string `toml:"buckets"`

	// Remote
	BaseURL string `toml:"base_url"`
}

// CacheConfig configures the bounded FIFO cache.
type CacheConfig struct {
	Capacity int `toml:"capacity"`
}

// BagDefaults holds bag settings. LeaseSeconds is the lease window
// cmd/repository gives the reaper; Capacity is not read anywhere in this
// module, since CreateBag always takes an explicit capacity and lease.
type BagDefaults struct {
	Capacity int `toml:"capacity"`
	LeaseSeconds int `toml:"lease_seconds"`
}

// Default returns a Config with sensible defaults for a local, filesystem-
// backed deployment.
func Default() Config {
	return Config{
		Listen: ":8080",
		Backend: BackendConfig{
			Kind: "filesystem",
			Root: "./data",
		},
		Cache: CacheConfig{Capacity: 256},
		Bag:   BagDefaults{Capacity: 64, LeaseSeconds: 60},
	}
}

// Load decodes a TOML configuration file at path into a Config seeded with
// Default()'s values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}
