// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package metrics defines the Prometheus collectors for iikosync.
// Collectors are registered via promauto at package load and exposed on
// /metrics by the operational HTTP server in serve mode. One-shot cron
// runs still update them; scraping simply does not observe those runs.
package metrics
