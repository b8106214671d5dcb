// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/metrics"
	"github.com/restokit/iikosync/internal/normalize"
	"github.com/restokit/iikosync/internal/warehouse"
	"github.com/restokit/iikosync/internal/watermark"
)

// Sink is the warehouse write surface the runner depends on.
type Sink interface {
	UpsertBatch(ctx context.Context, spec *warehouse.TableSpec, rows []normalize.Row) (warehouse.Result, error)
}

// Runner drives ingestion day at a time: from the watermark up to
// yesterday, each date fetched, normalized, and upserted end-to-end
// before the watermark advances. The still-open current day is never
// ingested.
type Runner struct {
	client      Fetcher
	db          Sink
	marks       *watermark.Store
	jobs        []*Job
	dateRetries int
	startDate   time.Time
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock substitutes the wall clock. Tests pin "now" so yesterday
// stays put.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires a runner over the given client, sink, and watermark.
func NewRunner(client Fetcher, db Sink, marks *watermark.Store, cfg *config.SyncConfig, opts ...Option) *Runner {
	r := &Runner{
		client:      client,
		db:          db,
		marks:       marks,
		jobs:        Jobs(cfg.Jobs),
		dateRetries: cfg.DateRetries,
		now:         time.Now,
	}
	if cfg.StartDate != "" {
		// Validated at config load.
		r.startDate, _ = time.Parse(watermark.DateLayout, cfg.StartDate)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one full ingestion cycle: reference dimensions first,
// then every pending date in order. A date that fails all its retries
// halts the run so the missing day is visible, not silently skipped.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.runReferenceJobs(ctx); err != nil {
		metrics.RunFailures.Inc()
		return err
	}

	dates := r.pendingDates()
	if len(dates) == 0 {
		logging.Info().Msg("Watermark is current, nothing to ingest")
		return nil
	}

	logging.Info().
		Str("from", dates[0].Format(watermark.DateLayout)).
		Str("to", dates[len(dates)-1].Format(watermark.DateLayout)).
		Int("dates", len(dates)).
		Msg("Starting ingestion cycle")

	for _, date := range dates {
		start := time.Now()
		if err := r.ingestDateWithRetries(ctx, date); err != nil {
			metrics.RunFailures.Inc()
			return err
		}
		if err := r.marks.Commit(date); err != nil {
			metrics.RunFailures.Inc()
			return fmt.Errorf("commit watermark for %s: %w", date.Format(watermark.DateLayout), err)
		}
		// The counter tracks committed dates; recording before the
		// commit would let it run ahead of the watermark on a failed
		// persist.
		metrics.RecordDateIngested(time.Since(start))
		logging.Info().
			Str("date", date.Format(watermark.DateLayout)).
			Dur("took", time.Since(start)).
			Msg("Date ingested and committed")
	}

	return nil
}

// pendingDates lists the dates to ingest in order: the day after the
// watermark (or the configured start date on first run) through
// yesterday, inclusive.
func (r *Runner) pendingDates() []time.Time {
	now := r.now().UTC()
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	var begin time.Time
	if last, ok := r.marks.Last(); ok {
		begin = last.AddDate(0, 0, 1)
	} else if !r.startDate.IsZero() {
		begin = r.startDate
	} else {
		begin = yesterday
	}

	var dates []time.Time
	for d := begin; !d.After(yesterday); d = d.AddDate(0, 0, 1) {
		if !r.marks.Has(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// ingestDateWithRetries runs one date end-to-end, retrying the whole
// date on any step failure. Retries restart from the fetch: a replayed
// fetch for a half-written date is handled by the idempotent sink.
func (r *Runner) ingestDateWithRetries(ctx context.Context, date time.Time) error {
	day := date.Format(watermark.DateLayout)
	var lastErr error

	for attempt := 1; attempt <= r.dateRetries; attempt++ {
		start := time.Now()
		err := r.ingestDate(ctx, date)
		if err == nil {
			logging.Info().
				Str("date", day).
				Int("attempt", attempt).
				Dur("took", time.Since(start)).
				Msg("Date ingested")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < r.dateRetries {
			metrics.DateRetries.Inc()
			logging.Warn().
				Err(err).
				Str("date", day).
				Int("attempt", attempt).
				Msg("Date failed, retrying end-to-end")
		}
	}

	logging.Error().
		Err(lastErr).
		Str("date", day).
		Int("attempts", r.dateRetries).
		Msg("Date failed all retries, halting run")

	return &DateError{Date: day, Attempts: r.dateRetries, Err: lastErr}
}

// ingestDate runs every daily job for one date. Parallel jobs run
// concurrently; they write disjoint destination tables.
func (r *Runner) ingestDate(ctx context.Context, date time.Time) error {
	var parallel, sequential []*Job
	for _, job := range r.jobs {
		if !job.Daily {
			continue
		}
		if job.Parallel {
			parallel = append(parallel, job)
		} else {
			sequential = append(sequential, job)
		}
	}

	if len(parallel) > 0 {
		var wg sync.WaitGroup
		errs := make([]error, len(parallel))
		for i, job := range parallel {
			wg.Add(1)
			go func(i int, job *Job) {
				defer wg.Done()
				errs[i] = r.runJob(ctx, job, date)
			}(i, job)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}

	for _, job := range sequential {
		if err := r.runJob(ctx, job, date); err != nil {
			return err
		}
	}

	return nil
}

// runReferenceJobs refreshes the non-daily dimension jobs.
func (r *Runner) runReferenceJobs(ctx context.Context) error {
	for _, job := range r.jobs {
		if job.Daily {
			continue
		}
		if err := r.runJob(ctx, job, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// runJob executes one fetch-normalize-upsert pass.
func (r *Runner) runJob(ctx context.Context, job *Job, date time.Time) error {
	raws, err := job.Fetch(ctx, r.client, date)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	rows, excluded := normalize.NormalizeBatch(raws, job.Schema)
	metrics.RowsNormalized.WithLabelValues(job.Name).Add(float64(len(rows)))
	metrics.RowsExcluded.WithLabelValues(job.Name).Add(float64(excluded))

	rows = r.applyIdentity(job, rows)

	res, err := r.db.UpsertBatch(ctx, job.Table, rows)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	logging.Debug().
		Str("job", job.Name).
		Int("fetched", len(raws)).
		Int("excluded", excluded).
		Int("written", res.RowsWritten).
		Int("chunks_failed", res.ChunksFailed).
		Msg("Job completed")

	return nil
}

// applyIdentity derives the configured key column and drops rows whose
// key sources are missing. A keyless row cannot be upserted
// idempotently; it is logged and skipped, never fatal.
func (r *Runner) applyIdentity(job *Job, rows []normalize.Row) []normalize.Row {
	if job.Identity == nil {
		return rows
	}

	kept := rows[:0]
	for _, row := range rows {
		parts := make([]string, 0, len(job.Identity.From))
		complete := true
		for _, col := range job.Identity.From {
			v := row[col]
			if v == nil {
				complete = false
				break
			}
			parts = append(parts, fmt.Sprint(v))
		}
		if !complete {
			nerr := &NormalizationError{Job: job.Name, Reason: "missing identity source columns"}
			logging.Warn().Err(nerr).Str("job", job.Name).Msg("Row skipped")
			continue
		}
		row[job.Identity.Column] = DeriveID(parts...)
		kept = append(kept, row)
	}
	return kept
}
