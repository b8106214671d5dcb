// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package warehouse is the destination side of the pipeline: a
// relational store reached through database/sql, written to in
// idempotent chunked batches. DuckDB serves embedded/local use,
// PostgreSQL serves shared warehouses; both speak the same upsert
// surface.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/logging"
)

// Driver names accepted by Open.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// DB wraps the warehouse connection.
type DB struct {
	conn      *sql.DB
	driver    string
	chunkSize int
}

// Open connects to the warehouse selected by cfg.Driver and verifies
// the connection. With Bootstrap set, destination tables are created
// when absent; production warehouses carry pre-existing schemas and
// leave it off.
func Open(cfg *config.WarehouseConfig) (*DB, error) {
	driverName := cfg.Driver
	dsn := cfg.DSN

	if cfg.Driver == DriverPostgres {
		// jackc/pgx registers its database/sql driver as "pgx".
		driverName = "pgx"
	}

	if cfg.Driver == DriverDuckDB && dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create warehouse directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse (%s): %w", cfg.Driver, err)
	}

	db := &DB{
		conn:      conn,
		driver:    cfg.Driver,
		chunkSize: cfg.ChunkSize,
	}
	db.configurePool()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping warehouse (%s): %w", cfg.Driver, err)
	}

	if cfg.Bootstrap {
		if err := db.bootstrap(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	logging.Info().
		Str("driver", cfg.Driver).
		Int("chunk_size", cfg.ChunkSize).
		Bool("bootstrap", cfg.Bootstrap).
		Msg("Warehouse connection established")

	return db, nil
}

// configurePool applies connection pool limits. DuckDB is embedded and
// single-writer, so its pool stays small.
func (db *DB) configurePool() {
	if db.driver == DriverDuckDB {
		db.conn.SetMaxOpenConns(1)
		db.conn.SetMaxIdleConns(1)
		return
	}
	db.conn.SetMaxOpenConns(8)
	db.conn.SetMaxIdleConns(4)
	db.conn.SetConnMaxLifetime(time.Hour)
}

// Conn exposes the underlying pool for status queries.
func (db *DB) Conn() *sql.DB { return db.conn }

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("close warehouse: %w", err)
	}
	return nil
}

// placeholder returns the driver-specific parameter marker for the
// 1-based position n. DuckDB uses ?, pgx uses $N.
func (db *DB) placeholder(n int) string {
	if db.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholderRow renders one parenthesized VALUES tuple of width cols,
// starting at the 1-based parameter offset.
func (db *DB) placeholderRow(cols, offset int) string {
	parts := make([]string, cols)
	for i := 0; i < cols; i++ {
		parts[i] = db.placeholder(offset + i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
