// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package warehouse

import (
	"context"
	"fmt"

	"github.com/restokit/iikosync/internal/logging"
)

// bootstrapStatements creates the destination tables when they do not
// exist yet. The DDL sticks to types both DuckDB and PostgreSQL accept.
// Production warehouses carry these schemas already and run with
// bootstrap off.
var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS sales_orders (
		order_id       VARCHAR PRIMARY KEY,
		order_num      VARCHAR,
		business_date  DATE,
		open_time      TIMESTAMP,
		close_time     TIMESTAMP,
		order_type     VARCHAR,
		pay_types      VARCHAR,
		department     VARCHAR,
		waiter         VARCHAR,
		guests         BIGINT,
		sum_total      DOUBLE PRECISION,
		discount_sum   DOUBLE PRECISION,
		delivery_phone VARCHAR
	)`,

	`CREATE TABLE IF NOT EXISTS sales_order_items (
		item_id       VARCHAR PRIMARY KEY,
		order_id      VARCHAR,
		business_date DATE,
		dish_id       VARCHAR,
		dish_name     VARCHAR,
		dish_type     VARCHAR,
		amount        BIGINT,
		sum_total     DOUBLE PRECISION,
		discount_sum  DOUBLE PRECISION,
		department    VARCHAR
	)`,

	`CREATE TABLE IF NOT EXISTS delivery_orders (
		delivery_id   VARCHAR PRIMARY KEY,
		business_date DATE,
		customer_name VARCHAR,
		phone         VARCHAR,
		address       VARCHAR,
		courier       VARCHAR,
		status        VARCHAR,
		open_time     TIMESTAMP,
		close_time    TIMESTAMP,
		delivery_sum  DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS writeoff_acts (
		act_id        VARCHAR PRIMARY KEY,
		act_number    VARCHAR,
		date_incoming TIMESTAMP,
		store         VARCHAR,
		account       VARCHAR,
		comment       VARCHAR,
		status        VARCHAR,
		sum_total     DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS incoming_invoices (
		invoice_id     VARCHAR PRIMARY KEY,
		invoice_number VARCHAR,
		date_incoming  TIMESTAMP,
		invoice_date   DATE,
		supplier_id    VARCHAR,
		store          VARCHAR,
		comment        VARCHAR,
		status         VARCHAR,
		sum_total      DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS invoice_items (
		invoice_id      VARCHAR,
		invoice_date    DATE,
		line_num        BIGINT,
		product_id      VARCHAR,
		product_article VARCHAR,
		amount          DOUBLE PRECISION,
		price           DOUBLE PRECISION,
		sum_total       DOUBLE PRECISION,
		store           VARCHAR
	)`,

	`CREATE INDEX IF NOT EXISTS idx_invoice_items_parent
		ON invoice_items (invoice_id, invoice_date)`,

	`CREATE TABLE IF NOT EXISTS suppliers (
		supplier_id VARCHAR PRIMARY KEY,
		code        VARCHAR,
		name        VARCHAR,
		login       VARCHAR,
		deleted     BOOLEAN
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		product_id   VARCHAR PRIMARY KEY,
		sku          VARCHAR,
		code         VARCHAR,
		name         VARCHAR,
		product_type VARCHAR,
		unit         VARCHAR,
		deleted      BOOLEAN
	)`,
}

// bootstrap applies the destination DDL.
func (db *DB) bootstrap(ctx context.Context) error {
	for _, stmt := range bootstrapStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap warehouse schema: %w", err)
		}
	}
	logging.Debug().Int("statements", len(bootstrapStatements)).Msg("Warehouse schema bootstrapped")
	return nil
}
