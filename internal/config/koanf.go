// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"iikosync.yaml",
	"iikosync.yml",
	"/etc/iikosync/config.yaml",
	"/etc/iikosync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "IIKOSYNC_CONFIG"

// Load builds the configuration from layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// IIKO_TOKEN_TTL -> iiko.token_ttl, SYNC_DATE_RETRIES -> sync.date_retries
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envSections maps environment variable prefixes to config sections.
// Variables without a recognized prefix are ignored so unrelated process
// environment does not leak into the configuration.
var envSections = map[string]string{
	"IIKO":      "iiko",
	"WAREHOUSE": "warehouse",
	"SYNC":      "sync",
	"WATERMARK": "watermark",
	"SERVER":    "server",
	"LOG":       "logging",
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - IIKO_URL        -> iiko.url
//   - IIKO_TOKEN_TTL  -> iiko.token_ttl
//   - WAREHOUSE_DSN   -> warehouse.dsn
//   - LOG_LEVEL       -> logging.level
func envTransformFunc(key string) string {
	prefix, rest, found := strings.Cut(key, "_")
	if !found {
		return ""
	}

	section, ok := envSections[prefix]
	if !ok {
		return ""
	}

	return section + "." + strings.ToLower(rest)
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via env vars.
var sliceConfigPaths = []string{
	"sync.jobs",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices; YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
