// Package config loads the watcher configuration: a JSON file listing
// watched categories and their match criteria, with environment
// variables expanded so secrets stay out of the file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"bazos-watcher/filter"
)

// Watch describes one watched category.
type Watch struct {
	Source   string          `json:"source"`
	Category string          `json:"category"`
	URL      string          `json:"url"`
	MaxPages int             `json:"max_pages"`
	Criteria filter.Criteria `json:"criteria"`
}

// Config is the top-level configuration.
type Config struct {
	// Database is a Postgres connection string. Empty disables deal
	// persistence; snapshots are still recorded.
	Database string  `json:"database"`
	Watches  []Watch `json:"watches"`
}

// Load reads the configuration file. A .env file in the working
// directory is loaded first if present, and ${VAR} references in the
// config are expanded from the environment.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger.Info("Configuration loaded",
		"path", path,
		"watches", len(cfg.Watches),
		"database_configured", cfg.Database != "")
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Watches) == 0 {
		return errors.New("no watches configured")
	}
	for i, w := range c.Watches {
		if w.Source == "" || w.Category == "" {
			return fmt.Errorf("watch %d: source and category are required", i)
		}
		if w.URL == "" {
			return fmt.Errorf("watch %d (%s/%s): url is required", i, w.Source, w.Category)
		}
		if w.MaxPages < 0 {
			return fmt.Errorf("watch %d (%s/%s): max_pages must not be negative", i, w.Source, w.Category)
		}
		if lo, hi := w.Criteria.PriceMin, w.Criteria.PriceMax; lo != nil && hi != nil && *lo > *hi {
			return fmt.Errorf("watch %d (%s/%s): price_min above price_max", i, w.Source, w.Category)
		}
		if w.Criteria.AreaMin < 0 {
			return fmt.Errorf("watch %d (%s/%s): area_min must not be negative", i, w.Source, w.Category)
		}
	}
	return nil
}
