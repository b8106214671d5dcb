// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/restokit/iikosync/internal/cache"
)

// fakeTokens implements TokenProvider with call counting.
type fakeTokens struct {
	token         atomic.Value
	tokenCalls    atomic.Int64
	invalidations atomic.Int64
}

func newFakeTokens(token string) *fakeTokens {
	f := &fakeTokens{}
	f.token.Store(token)
	return f
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.tokenCalls.Add(1)
	return f.token.Load().(string), nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidations.Add(1)
}

func TestOlapReportRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/reports/olap" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Query().Get("key") != "tok" {
			t.Errorf("token not attached: %s", r.URL.RawQuery)
		}

		var req OlapReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ReportType != "SALES" {
			t.Errorf("reportType = %s, want SALES", req.ReportType)
		}

		_, _ = w.Write([]byte(`{"data": [{"UniqOrderId.Id": "o-1", "DishDiscountSumInt": "540.00"}]}`))
	}))
	defer server.Close()

	client := NewClient(testIikoConfig(server.URL), newFakeTokens("tok"))

	rows, err := client.OlapReport(context.Background(), &OlapReportRequest{
		ReportType:       "SALES",
		GroupByRowFields: []string{"UniqOrderId.Id"},
		AggregateFields:  []string{"DishDiscountSumInt"},
		Filters: map[string]OlapFilter{
			"OpenDate.Typed": DateRangeFilter(
				time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			),
		},
	})
	if err != nil {
		t.Fatalf("OlapReport failed: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["UniqOrderId.Id"] != "o-1" {
		t.Errorf("row = %v", rows[0])
	}
}

func TestFetchRetriesOn401ThenSucceeds(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	tokens := newFakeTokens("tok")
	client := NewClient(testIikoConfig(server.URL), tokens)

	_, err := client.OlapReport(context.Background(), &OlapReportRequest{ReportType: "SALES"})
	if err != nil {
		t.Fatalf("expected success after 401 retry, got %v", err)
	}

	if got := tokens.invalidations.Load(); got != 1 {
		t.Errorf("expected exactly 1 token invalidation, got %d", got)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 upstream requests, got %d", got)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testIikoConfig(server.URL), newFakeTokens("tok"))

	_, err := client.OlapReport(context.Background(), &OlapReportRequest{ReportType: "SALES"})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusBadGateway {
		t.Errorf("FetchError.Status = %d, want 502", fetchErr.Status)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 attempts (max retries), got %d", got)
	}
}

func TestFetchPropagatesAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth" {
			http.Error(w, "bad credentials", http.StatusForbidden)
			return
		}
		t.Errorf("report endpoint reached without a token")
	}))
	defer server.Close()

	cfg := testIikoConfig(server.URL)
	mgr := NewTokenManager(cfg, cache.New(time.Hour))
	client := NewClient(cfg, mgr)

	_, err := client.OlapReport(context.Background(), &OlapReportRequest{ReportType: "SALES"})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestClientHonorsFractionalRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	cfg := testIikoConfig(server.URL)
	cfg.RateLimit = 0.5
	client := NewClient(cfg, newFakeTokens("tok"))

	if burst := client.limiter.Burst(); burst < 1 {
		t.Fatalf("limiter burst = %d, a zero burst blocks every request", burst)
	}

	// The bucket starts full, so the first request must not wait out
	// the two-second refill interval.
	start := time.Now()
	if _, err := client.OlapReport(context.Background(), &OlapReportRequest{ReportType: "SALES"}); err != nil {
		t.Fatalf("OlapReport failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("first request waited %v for a token", elapsed)
	}
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "flaky", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testIikoConfig(server.URL)
	cfg.RetryDelay = time.Minute // cancellation must interrupt the wait
	client := NewClient(cfg, newFakeTokens("tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.OlapReport(ctx, &OlapReportRequest{ReportType: "SALES"})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("retry wait ignored cancellation, took %v", elapsed)
	}
}

func TestExportDocumentsParsesXML(t *testing.T) {
	const payload = `<?xml version="1.0" encoding="UTF-8"?>
<incomingInvoiceDtoes>
  <document>
    <id>doc-1</id>
    <documentNumber>INV-0042</documentNumber>
    <dateIncoming>2024-01-02T10:00:00</dateIncoming>
    <status>PROCESSED</status>
    <supplier>sup-9</supplier>
    <sum>1250.50</sum>
    <items>
      <item>
        <num>1</num>
        <productId>prod-7</productId>
        <amount>10</amount>
        <price>100.00</price>
        <sum>1000.00</sum>
      </item>
      <item>
        <num>2</num>
        <productId>prod-8</productId>
        <amount>5</amount>
        <price>50.10</price>
        <sum>250.50</sum>
      </item>
    </items>
  </document>
</incomingInvoiceDtoes>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/export/incomingInvoice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("from") != "2024-01-02" || r.URL.Query().Get("to") != "2024-01-03" {
			t.Errorf("date range not forwarded: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewClient(testIikoConfig(server.URL), newFakeTokens("tok"))

	export, err := client.ExportDocuments(context.Background(), DocTypeIncomingInvoice,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExportDocuments failed: %v", err)
	}

	if len(export.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(export.Documents))
	}

	doc := export.Documents[0]
	if doc.ID != "doc-1" || doc.Number != "INV-0042" {
		t.Errorf("document header = %+v", doc)
	}
	if len(doc.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(doc.Items))
	}
	if doc.Items[1].ProductID != "prod-8" {
		t.Errorf("second item = %+v", doc.Items[1])
	}

	raw := doc.Items[0].Raw(doc.ID)
	if raw["documentId"] != "doc-1" || raw["amount"] != "10" {
		t.Errorf("item raw = %v", raw)
	}
}

func TestSuppliersParsesXML(t *testing.T) {
	const payload = `<?xml version="1.0" encoding="UTF-8"?>
<employees>
  <employee>
    <id>sup-9</id>
    <code>S009</code>
    <name>Fresh Produce LLC</name>
    <deleted>false</deleted>
  </employee>
</employees>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/suppliers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewClient(testIikoConfig(server.URL), newFakeTokens("tok"))

	suppliers, err := client.Suppliers(context.Background())
	if err != nil {
		t.Fatalf("Suppliers failed: %v", err)
	}
	if len(suppliers) != 1 || suppliers[0].Name != "Fresh Produce LLC" {
		t.Errorf("suppliers = %+v", suppliers)
	}
}

func TestProductsParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/entities/products/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id": "prod-7", "name": "Flour", "num": "F-01"}]`))
	}))
	defer server.Close()

	client := NewClient(testIikoConfig(server.URL), newFakeTokens("tok"))

	products, err := client.Products(context.Background())
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	if len(products) != 1 || products[0]["name"] != "Flour" {
		t.Errorf("products = %v", products)
	}
}
