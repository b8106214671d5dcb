// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package api exposes the operational HTTP surface of serve mode:
// health and readiness probes, ingestion status, and Prometheus
// metrics. It carries no data-plane endpoints; the warehouse is the
// query surface for ingested data.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/watermark"
)

// Pinger is the warehouse liveness surface the API depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the operational endpoints.
type Handler struct {
	db      Pinger
	marks   *watermark.Store
	started time.Time
}

// NewHandler wires the operational API over the warehouse and
// watermark.
func NewHandler(db Pinger, marks *watermark.Store) *Handler {
	return &Handler{
		db:      db,
		marks:   marks,
		started: time.Now(),
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/api/v1/status", h.status)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// healthz reports process liveness.
func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports readiness: the warehouse must answer a ping.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Readiness probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "warehouse unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the ingestion status payload.
type statusResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	DatesIngested  int    `json:"dates_ingested"`
	LastDate       string `json:"last_date,omitempty"`
	WarehouseAlive bool   `json:"warehouse_alive"`
}

// status reports the watermark position and warehouse health.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := statusResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		DatesIngested:  len(h.marks.Dates()),
		WarehouseAlive: h.db.Ping(ctx) == nil,
	}
	if last, ok := h.marks.Last(); ok {
		resp.LastDate = last.Format(watermark.DateLayout)
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
