// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import "fmt"

// AuthError reports a failed token acquisition: missing credentials, a
// non-success status from the auth endpoint, or an empty token body.
// Auth failures are fatal for a run; retrying with the same credentials
// cannot succeed.
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("iiko auth failed during %s: HTTP %d", e.Op, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("iiko auth failed during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("iiko auth failed during %s", e.Op)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports an upstream request that failed after exhausting
// all retry attempts. It wraps the last error observed.
type FetchError struct {
	Endpoint string
	Attempts int
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("iiko fetch %s failed after %d attempts: HTTP %d", e.Endpoint, e.Attempts, e.Status)
	}
	return fmt.Sprintf("iiko fetch %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
