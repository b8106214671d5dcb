// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/restokit/iikosync/internal/logging"
)

// CycleRunner matches the ingest runner's single-cycle surface.
type CycleRunner interface {
	Run(ctx context.Context) error
}

// IngestLoopService runs ingestion cycles on a fixed interval. A
// failed cycle is returned to the supervisor, whose backoff policy
// spaces out retries against a struggling upstream; the watermark
// guarantees the restarted cycle resumes where the failed one stopped.
type IngestLoopService struct {
	runner   CycleRunner
	interval time.Duration
}

// NewIngestLoopService creates the wrapper.
func NewIngestLoopService(runner CycleRunner, interval time.Duration) *IngestLoopService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IngestLoopService{
		runner:   runner,
		interval: interval,
	}
}

// Serve implements suture.Service. The first cycle starts immediately;
// subsequent cycles run every interval.
func (s *IngestLoopService) Serve(ctx context.Context) error {
	if err := s.runner.Run(ctx); err != nil {
		return fmt.Errorf("ingest cycle failed: %w", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.runner.Run(ctx); err != nil {
				return fmt.Errorf("ingest cycle failed: %w", err)
			}
			logging.Debug().Dur("took", time.Since(start)).Msg("Scheduled ingest cycle completed")
		}
	}
}

func (s *IngestLoopService) String() string { return "ingest-loop" }
