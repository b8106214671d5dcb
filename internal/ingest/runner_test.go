// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/iiko"
	"github.com/restokit/iikosync/internal/metrics"
	"github.com/restokit/iikosync/internal/normalize"
	"github.com/restokit/iikosync/internal/warehouse"
	"github.com/restokit/iikosync/internal/watermark"
)

// fakeFetcher serves canned upstream data and records which dates were
// requested.
type fakeFetcher struct {
	mu         sync.Mutex
	olapDates  []string
	failDates  map[string]error
	olapCalls  int
	supplCalls int
	prodCalls  int
}

func (f *fakeFetcher) OlapReport(_ context.Context, req *iiko.OlapReportRequest) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.olapCalls++

	date := req.Filters["OpenDate.Typed"].From
	f.olapDates = append(f.olapDates, date)
	if err, ok := f.failDates[date]; ok {
		return nil, err
	}

	return []map[string]interface{}{
		{
			"UniqOrderId.Id":     "o-" + date,
			"OrderNum":           "42",
			"OpenDate.Typed":     date,
			"DishId":             "d-1",
			"DishName":           "Pizza",
			"DishType":           "DISH",
			"DishAmountInt":      "2",
			"DishSumInt":         "600.00",
			"DishDiscountSumInt": "540.00",
			"GuestNum":           "3",
			"Storned":            "false",
		},
	}, nil
}

func (f *fakeFetcher) ExportDocuments(context.Context, string, time.Time, time.Time) (*iiko.DocumentExport, error) {
	return &iiko.DocumentExport{}, nil
}

func (f *fakeFetcher) Suppliers(context.Context) ([]iiko.Supplier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supplCalls++
	return []iiko.Supplier{{ID: "s-1", Name: "Fresh Produce LLC"}}, nil
}

func (f *fakeFetcher) Products(context.Context) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prodCalls++
	return []map[string]interface{}{{"id": "p-1", "name": "Flour"}}, nil
}

// fakeSink records written rows per table.
type fakeSink struct {
	mu     sync.Mutex
	tables map[string][]normalize.Row
}

func newFakeSink() *fakeSink {
	return &fakeSink{tables: make(map[string][]normalize.Row)}
}

func (s *fakeSink) UpsertBatch(_ context.Context, spec *warehouse.TableSpec, rows []normalize.Row) (warehouse.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[spec.Name] = append(s.tables[spec.Name], rows...)
	return warehouse.Result{RowsWritten: len(rows)}, nil
}

func (s *fakeSink) rowCount(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func openMarks(t *testing.T, committed ...string) *watermark.Store {
	t.Helper()
	marks, err := watermark.Open(filepath.Join(t.TempDir(), "watermark.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range committed {
		day, _ := time.Parse(watermark.DateLayout, d)
		if err := marks.Commit(day); err != nil {
			t.Fatal(err)
		}
	}
	return marks
}

func TestRunAdvancesWatermarkToYesterday(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := newFakeSink()
	marks := openMarks(t, "2024-01-01")

	runner := NewRunner(fetcher, sink, marks, &config.SyncConfig{
		Jobs:        []string{"orders", "order-items"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-04T12:00:00Z")))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	got := marks.Dates()
	if len(got) != len(want) {
		t.Fatalf("watermark = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("watermark[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Today (2024-01-04) must never be ingested.
	if marks.Has(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Error("current day was ingested")
	}

	// Both concurrent jobs wrote their disjoint tables, one row per date.
	if n := sink.rowCount("sales_orders"); n != 2 {
		t.Errorf("sales_orders rows = %d, want 2", n)
	}
	if n := sink.rowCount("sales_order_items"); n != 2 {
		t.Errorf("sales_order_items rows = %d, want 2", n)
	}
}

func TestRunIsNoopWhenWatermarkCurrent(t *testing.T) {
	fetcher := &fakeFetcher{}
	marks := openMarks(t, "2024-01-03")

	runner := NewRunner(fetcher, newFakeSink(), marks, &config.SyncConfig{
		Jobs:        []string{"orders"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-04T12:00:00Z")))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fetcher.olapCalls != 0 {
		t.Errorf("expected no upstream calls, got %d", fetcher.olapCalls)
	}
}

func TestRunSeedsFromStartDate(t *testing.T) {
	fetcher := &fakeFetcher{}
	marks := openMarks(t)

	runner := NewRunner(fetcher, newFakeSink(), marks, &config.SyncConfig{
		Jobs:        []string{"orders"},
		DateRetries: 3,
		StartDate:   "2024-01-02",
	}, WithClock(fixedClock("2024-01-04T12:00:00Z")))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := marks.Dates()
	if len(got) != 2 || got[0] != "2024-01-02" || got[1] != "2024-01-03" {
		t.Errorf("watermark = %v, want [2024-01-02 2024-01-03]", got)
	}
}

func TestRunHaltsAfterDateRetriesExhausted(t *testing.T) {
	fetcher := &fakeFetcher{
		failDates: map[string]error{
			"2024-01-03": fmt.Errorf("upstream down"),
		},
	}
	marks := openMarks(t, "2024-01-01")

	runner := NewRunner(fetcher, newFakeSink(), marks, &config.SyncConfig{
		Jobs:        []string{"orders"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-05T12:00:00Z")))

	err := runner.Run(context.Background())

	var dateErr *DateError
	if !errors.As(err, &dateErr) {
		t.Fatalf("expected DateError, got %v", err)
	}
	if dateErr.Date != "2024-01-03" || dateErr.Attempts != 3 {
		t.Errorf("DateError = %+v", dateErr)
	}

	// The good date before the failure committed; nothing after it did.
	got := marks.Dates()
	if len(got) != 2 || got[1] != "2024-01-02" {
		t.Errorf("watermark = %v, want committed through 2024-01-02", got)
	}

	// The failing date was attempted exactly DateRetries times.
	failing := 0
	for _, d := range fetcher.olapDates {
		if d == "2024-01-03" {
			failing++
		}
	}
	if failing != 3 {
		t.Errorf("failing date attempted %d times, want 3", failing)
	}
}

func TestDateCounterStaysBehindFailedCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermark.json")
	marks, err := watermark.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := marks.Commit(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	// A directory squatting on the temp path makes every further
	// persist, and thus every commit, fail.
	if err := os.Mkdir(path+".tmp", 0o750); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metrics.DatesIngested)

	runner := NewRunner(&fakeFetcher{}, newFakeSink(), marks, &config.SyncConfig{
		Jobs:        []string{"orders"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-03T12:00:00Z")))

	if err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected commit failure to surface")
	}

	// The date was ingested but never committed; the counter must not
	// run ahead of the watermark.
	if after := testutil.ToFloat64(metrics.DatesIngested); after != before {
		t.Errorf("ingested dates counter moved %v -> %v despite failed commit", before, after)
	}
	if got := marks.Dates(); len(got) != 1 || got[0] != "2024-01-01" {
		t.Errorf("watermark = %v, want unchanged [2024-01-01]", got)
	}
}

func TestReferenceJobsRunOncePerCycle(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := newFakeSink()
	marks := openMarks(t, "2024-01-01")

	runner := NewRunner(fetcher, sink, marks, &config.SyncConfig{
		Jobs:        []string{"orders", "suppliers", "products"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-04T12:00:00Z")))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fetcher.supplCalls != 1 || fetcher.prodCalls != 1 {
		t.Errorf("reference calls = %d suppliers, %d products; want 1 each", fetcher.supplCalls, fetcher.prodCalls)
	}
	if n := sink.rowCount("suppliers"); n != 1 {
		t.Errorf("suppliers rows = %d, want 1", n)
	}
	if n := sink.rowCount("products"); n != 1 {
		t.Errorf("products rows = %d, want 1", n)
	}
}

func TestOrderItemsGetDerivedIdentity(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := newFakeSink()
	marks := openMarks(t, "2024-01-01")

	runner := NewRunner(fetcher, sink, marks, &config.SyncConfig{
		Jobs:        []string{"order-items"},
		DateRetries: 3,
	}, WithClock(fixedClock("2024-01-03T12:00:00Z")))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rows := sink.tables["sales_order_items"]
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	id, _ := rows[0]["item_id"].(string)
	if id == "" {
		t.Fatal("item_id not derived")
	}
}

func TestJobsRegistry(t *testing.T) {
	all := Jobs(nil)
	if len(all) != 8 {
		t.Errorf("registry size = %d, want 8", len(all))
	}

	filtered := Jobs([]string{"orders", "invoices"})
	if len(filtered) != 2 {
		t.Errorf("filtered size = %d, want 2", len(filtered))
	}

	for _, job := range all {
		if job.Schema == nil || job.Table == nil || job.Fetch == nil {
			t.Errorf("job %s is incompletely wired", job.Name)
		}
		if job.Table.Policy == warehouse.PolicyUpdate && len(job.Table.KeyColumns) != 1 {
			t.Errorf("job %s uses update policy without a single key", job.Name)
		}
		if job.Table.Policy == warehouse.PolicyReplaceChildren && len(job.Table.ParentKeyColumns) == 0 {
			t.Errorf("job %s uses replace-children without parent keys", job.Name)
		}
	}
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	a := DeriveID("o-1", "d-1", "2024-01-02")
	b := DeriveID("o-1", "d-1", "2024-01-02")
	c := DeriveID("o-1", "d-2", "2024-01-02")

	if a != b {
		t.Errorf("same parts produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different parts produced the same id")
	}
	if len(a) != 36 {
		t.Errorf("id %q is not a canonical UUID", a)
	}
}
