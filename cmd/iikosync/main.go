// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Command iikosync pulls sales, delivery, and back-office data from an
// iiko POS server into a relational warehouse.
//
// Two modes:
//
//	iikosync run    one ingestion cycle, then exit; non-zero on any
//	                fatal error so cron retries the whole invocation
//	iikosync serve  supervised periodic ingestion plus the operational
//	                HTTP endpoints (health, status, metrics)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/restokit/iikosync/internal/api"
	"github.com/restokit/iikosync/internal/cache"
	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/iiko"
	"github.com/restokit/iikosync/internal/ingest"
	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/supervisor"
	"github.com/restokit/iikosync/internal/supervisor/services"
	"github.com/restokit/iikosync/internal/warehouse"
	"github.com/restokit/iikosync/internal/watermark"
)

func main() {
	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mode", mode).
		Str("iiko_url", cfg.Iiko.URL).
		Str("warehouse", cfg.Warehouse.Driver).
		Msg("Starting iikosync")

	db, err := warehouse.Open(&cfg.Warehouse)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open warehouse")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing warehouse")
		}
	}()

	marks, err := watermark.Open(cfg.Watermark.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open watermark")
	}

	tokens := iiko.NewTokenManager(&cfg.Iiko, cache.New(cfg.Iiko.TokenTTL))
	client := iiko.NewClient(&cfg.Iiko, tokens)
	runner := ingest.NewRunner(client, db, marks, &cfg.Sync)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer tokens.Logout(context.Background())

	switch mode {
	case "run":
		if err := runner.Run(ctx); err != nil {
			logging.Error().Err(err).Msg("Ingestion cycle failed")
			os.Exit(1)
		}
		logging.Info().Msg("Ingestion cycle completed")

	case "serve":
		if err := serve(ctx, cancel, cfg, db, marks, runner); err != nil {
			logging.Error().Err(err).Msg("Serve mode exited with error")
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "usage: %s [run|serve]\n", os.Args[0])
		os.Exit(2)
	}
}

// serve runs the supervised periodic mode until a shutdown signal.
func serve(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, db *warehouse.DB, marks *watermark.Store, runner *ingest.Runner) error {
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddIngestService(services.NewIngestLoopService(runner, cfg.Sync.Interval))

	handler := api.NewHandler(db, marks)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("addr", server.Addr).
		Dur("interval", cfg.Sync.Interval).
		Msg("Supervisor tree starting")

	err := tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("Shutdown complete")
	return nil
}
