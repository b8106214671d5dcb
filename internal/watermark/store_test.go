// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package watermark

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestOpenMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "watermark.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.Last(); ok {
		t.Error("expected empty store to have no last date")
	}
}

func TestCommitAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, d := range []string{"2024-01-02", "2024-01-03"} {
		if err := s.Commit(day(d)); err != nil {
			t.Fatalf("Commit(%s) failed: %v", d, err)
		}
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	last, ok := reloaded.Last()
	if !ok || last.Format(DateLayout) != "2024-01-03" {
		t.Errorf("Last = %v %v, want 2024-01-03", last, ok)
	}
	if !reloaded.Has(day("2024-01-02")) {
		t.Error("expected reloaded store to contain 2024-01-02")
	}
	if reloaded.Has(day("2024-01-04")) {
		t.Error("did not expect 2024-01-04 in reloaded store")
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "watermark.json"))

	if err := s.Commit(day("2024-01-02")); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := s.Commit(day("2024-01-02")); err != nil {
		t.Fatalf("duplicate commit should be a no-op, got %v", err)
	}
	if got := len(s.Dates()); got != 1 {
		t.Errorf("expected 1 date after duplicate commit, got %d", got)
	}
}

func TestCommitRejectsRegression(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "watermark.json"))

	if err := s.Commit(day("2024-01-05")); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := s.Commit(day("2024-01-03")); err == nil {
		t.Error("expected error committing a date before the watermark")
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected error opening corrupt watermark")
	}
}

func TestOpenRejectsInvalidDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	if err := os.WriteFile(path, []byte(`{"dates": ["02.01.2024"]}`), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected error for non-ISO dates in watermark")
	}
}

func TestPersistedShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	s, _ := Open(path)
	if err := s.Commit(day("2024-01-02")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted watermark: %v", err)
	}
	if !strings.Contains(string(data), `"dates"`) {
		t.Errorf("persisted document missing dates key: %s", data)
	}
	if !strings.Contains(string(data), "2024-01-02") {
		t.Errorf("persisted document missing committed date: %s", data)
	}
}
