// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package ingest

import "fmt"

// NormalizationError reports a malformed upstream row. It is recovered
// locally: the row is logged and skipped, never aborting the batch.
type NormalizationError struct {
	Job    string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for %s row: %s", e.Job, e.Reason)
}

// DateError reports a calendar date that failed end-to-end after all
// retries. It halts the run; silently missing a day is worse than
// stopping.
type DateError struct {
	Date     string
	Attempts int
	Err      error
}

func (e *DateError) Error() string {
	return fmt.Sprintf("date %s failed after %d attempts: %v", e.Date, e.Attempts, e.Err)
}

func (e *DateError) Unwrap() error { return e.Err }
