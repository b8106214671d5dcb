// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package watermark persists the ingestion cursor: the list of calendar
// dates that have been fully ingested and committed to the warehouse.
// The file is the single source of truth for resumption; it must only
// ever be advanced after the corresponding warehouse writes committed.
package watermark

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the calendar date format used throughout the watermark.
const DateLayout = "2006-01-02"

// document is the on-disk shape: {"dates": ["2024-01-02", ...]}.
type document struct {
	Dates []string `json:"dates"`
}

// Store reads and appends the watermark file. Safe for concurrent use,
// though the run driver is the only writer by design.
type Store struct {
	path  string
	mu    sync.Mutex
	dates []string // sorted ascending
}

// Open loads the watermark at path. A missing file yields an empty store;
// the first Commit creates it.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read watermark %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watermark %s: %w", path, err)
	}

	for _, d := range doc.Dates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return nil, fmt.Errorf("watermark %s contains invalid date %q: %w", path, d, err)
		}
	}
	sort.Strings(doc.Dates)
	s.dates = doc.Dates

	return s, nil
}

// Last returns the most recent committed date. ok is false when the
// watermark is empty.
func (s *Store) Last() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dates) == 0 {
		return time.Time{}, false
	}
	t, _ := time.Parse(DateLayout, s.dates[len(s.dates)-1])
	return t, true
}

// Has reports whether the given date has already been committed.
func (s *Store) Has(date time.Time) bool {
	key := date.Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.SearchStrings(s.dates, key)
	return i < len(s.dates) && s.dates[i] == key
}

// Commit appends a fully ingested date and persists the file atomically.
// Committing an already-present date is a no-op. Committing a date before
// the current last is rejected: the watermark is monotonic and a
// regression means the caller ingested out of order.
func (s *Store) Commit(date time.Time) error {
	key := date.Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dates) > 0 {
		last := s.dates[len(s.dates)-1]
		if key == last {
			return nil
		}
		if key < last {
			i := sort.SearchStrings(s.dates, key)
			if i < len(s.dates) && s.dates[i] == key {
				return nil
			}
			return fmt.Errorf("watermark regression: %s is before committed %s", key, last)
		}
	}

	s.dates = append(s.dates, key)
	if err := s.persist(); err != nil {
		// Roll back the in-memory append so a retry re-attempts the write.
		s.dates = s.dates[:len(s.dates)-1]
		return err
	}
	return nil
}

// Dates returns a copy of all committed dates in ascending order.
func (s *Store) Dates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.dates))
	copy(out, s.dates)
	return out
}

// persist writes the document via temp file + rename so a crash mid-write
// never leaves a truncated watermark. Must be called with mu held.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(document{Dates: s.dates}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create watermark directory %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write watermark temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace watermark file: %w", err)
	}
	return nil
}
