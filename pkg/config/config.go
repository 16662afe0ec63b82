// Package config loads and validates the pipeline's YAML configuration and
// watches the destination file for hot reload.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/observa/pulse/pkg/events"
	"github.com/observa/pulse/pkg/export"
	"github.com/observa/pulse/pkg/logging"
	"github.com/observa/pulse/pkg/telemetry"
)

// Config is the root configuration for the pulse binary.
type Config struct {
	// Listen is the address the HTTP surface binds, e.g. ":8090".
	Listen string `yaml:"listen" json:"listen"`

	Logging   logging.Config        `yaml:"logging" json:"logging"`
	Store     events.StoreConfig    `yaml:"store" json:"store"`
	Sampler   events.SamplerConfig  `yaml:"sampler" json:"sampler"`
	Exporter  export.Config         `yaml:"exporter" json:"exporter"`
	Telemetry telemetry.Config      `yaml:"telemetry" json:"telemetry"`

	// Destinations are registered with the exporter at startup and replaced
	// wholesale on reload.
	Destinations []*export.Destination `yaml:"destinations" json:"destinations"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   ":8090",
		Logging:  logging.Config{Level: "info"},
		Store:    events.DefaultStoreConfig(),
		Sampler:  events.DefaultSamplerConfig(),
		Exporter: export.DefaultConfig(),
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies the schedulers cannot
// tolerate.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Store.MaxEvents < 0 || c.Store.MaxTraces < 0 {
		return fmt.Errorf("store capacities must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Destinations))
	for _, dest := range c.Destinations {
		if err := dest.Validate(); err != nil {
			return fmt.Errorf("destination %q: %w", dest.Name, err)
		}
		if _, dup := seen[dest.Name]; dup {
			return fmt.Errorf("duplicate destination name %q", dest.Name)
		}
		seen[dest.Name] = struct{}{}
	}
	return nil
}
