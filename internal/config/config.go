package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline configuration read from a YAML file. Missing
// values fall back to defaults; an empty path yields the defaults.
type Config struct {
	// CurrencyMappings remaps upstream currency names to ISO codes
	// before conversion.
	CurrencyMappings map[string]string `yaml:"currency_mappings"`

	// RegionMappingURL points at a CSV of iso3,name,region rows used to
	// build per-country dataviz showcase URLs. Empty disables showcases.
	RegionMappingURL string `yaml:"region_mapping_url"`

	// SourceOverridesURL points at a CSV of per-country attribution
	// overrides. Empty disables overrides.
	SourceOverridesURL string `yaml:"source_overrides_url"`

	// MaxIndicators caps the visualization subset per country.
	MaxIndicators int `yaml:"max_indicators"`

	// RollupYears caps how many most-recent year partitions the global
	// rollup keeps.
	RollupYears int `yaml:"rollup_years"`

	// FlatYears is the window of the flat (non-partitioned) recent
	// prices view.
	FlatYears int `yaml:"flat_years"`
}

func Default() *Config {
	return &Config{
		CurrencyMappings: map[string]string{},
		MaxIndicators:    3,
		RollupYears:      10,
		FlatYears:        5,
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.CurrencyMappings == nil {
		cfg.CurrencyMappings = map[string]string{}
	}
	if cfg.MaxIndicators <= 0 {
		cfg.MaxIndicators = 3
	}
	if cfg.RollupYears <= 0 {
		cfg.RollupYears = 10
	}
	if cfg.FlatYears <= 0 {
		cfg.FlatYears = 5
	}
	return cfg, nil
}
