// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package config loads and validates the iikosync configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for iikosync.
type Config struct {
	Iiko      IikoConfig      `koanf:"iiko"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Sync      SyncConfig      `koanf:"sync"`
	Watermark WatermarkConfig `koanf:"watermark"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// IikoConfig holds connection settings for the upstream iiko server.
type IikoConfig struct {
	// URL is the base URL of the iiko server, e.g. https://host:443/resto.
	URL string `koanf:"url" validate:"required,url"`

	// Login and Password authenticate against the query-string auth endpoint.
	Login    string `koanf:"login" validate:"required"`
	Password string `koanf:"password" validate:"required"`

	// TokenTTL is how long an issued token is cached before re-auth.
	// iiko server sessions expire after ~1h; 30m keeps a safe margin.
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`

	// MaxRetries bounds attempts per upstream request, 401 refreshes included.
	MaxRetries int `koanf:"max_retries" validate:"gte=1,lte=10"`

	// RetryDelay is the fixed wait between attempts. Deliberately not
	// exponential: the upstream recovers on its own schedule and a cron
	// runner gains nothing from backing off further.
	RetryDelay time.Duration `koanf:"retry_delay" validate:"gte=0"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit caps outbound requests per second against the upstream.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
}

// WarehouseConfig holds destination database settings.
type WarehouseConfig struct {
	// Driver selects the SQL driver: duckdb or postgres.
	Driver string `koanf:"driver" validate:"oneof=duckdb postgres"`

	// DSN is the driver-specific connection string. For duckdb this is a
	// file path (or :memory:), for postgres a standard URL/DSN.
	DSN string `koanf:"dsn" validate:"required"`

	// ChunkSize bounds rows per insert transaction.
	ChunkSize int `koanf:"chunk_size" validate:"gte=1,lte=5000"`

	// Bootstrap creates destination tables when absent. Intended for local
	// DuckDB use; production warehouses carry pre-existing schemas.
	Bootstrap bool `koanf:"bootstrap"`
}

// SyncConfig controls the run driver.
type SyncConfig struct {
	// Jobs lists enabled ingestion jobs by name. Empty means all.
	Jobs []string `koanf:"jobs"`

	// DateRetries is how many times a calendar date is retried end-to-end
	// before the run halts.
	DateRetries int `koanf:"date_retries" validate:"gte=1,lte=10"`

	// StartDate seeds the watermark (YYYY-MM-DD) when no watermark file
	// exists yet. Empty defaults to yesterday, i.e. ingest today's close.
	StartDate string `koanf:"start_date" validate:"omitempty,datetime=2006-01-02"`

	// Interval is the pause between full cycles in serve mode.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// WatermarkConfig locates the persisted ingestion watermark.
type WatermarkConfig struct {
	// Path is the JSON watermark file, the single source of truth for
	// resumption.
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig holds the operational HTTP endpoint settings (serve mode).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Iiko: IikoConfig{
			URL:        "",
			Login:      "",
			Password:   "",
			TokenTTL:   30 * time.Minute,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
			Timeout:    30 * time.Second,
			RateLimit:  5,
		},
		Warehouse: WarehouseConfig{
			Driver:    "duckdb",
			DSN:       "/data/iikosync.duckdb",
			ChunkSize: 500,
			Bootstrap: false,
		},
		Sync: SyncConfig{
			Jobs:        nil, // all registered jobs
			DateRetries: 3,
			StartDate:   "",
			Interval:    1 * time.Hour,
		},
		Watermark: WatermarkConfig{
			Path: "/data/watermark.json",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8844,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for consistency. Struct tags cover the
// field-level rules; cross-field checks live here.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Iiko.Login == "" || c.Iiko.Password == "" {
		return fmt.Errorf("iiko credentials are required (IIKO_LOGIN / IIKO_PASSWORD)")
	}

	if c.Sync.StartDate != "" {
		start, err := time.Parse("2006-01-02", c.Sync.StartDate)
		if err != nil {
			return fmt.Errorf("invalid sync.start_date %q: %w", c.Sync.StartDate, err)
		}
		if !start.Before(today()) {
			return fmt.Errorf("sync.start_date %s must be in the past", c.Sync.StartDate)
		}
	}

	return nil
}

// today returns the current calendar date at midnight UTC.
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
