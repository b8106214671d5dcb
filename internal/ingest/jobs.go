// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/restokit/iikosync/internal/iiko"
	"github.com/restokit/iikosync/internal/normalize"
	"github.com/restokit/iikosync/internal/warehouse"
)

// Fetcher pulls the raw rows of one job. Daily jobs receive the
// business date being ingested; reference jobs ignore it.
type Fetcher interface {
	OlapReport(ctx context.Context, req *iiko.OlapReportRequest) ([]map[string]interface{}, error)
	ExportDocuments(ctx context.Context, docType string, from, to time.Time) (*iiko.DocumentExport, error)
	Suppliers(ctx context.Context) ([]iiko.Supplier, error)
	Products(ctx context.Context) ([]map[string]interface{}, error)
}

// Identity derives a destination key column from source fields when
// upstream exposes no stable row identity.
type Identity struct {
	Column string
	From   []string // destination columns hashed, in order
}

// Job binds one upstream pull to one destination table.
type Job struct {
	Name   string
	Schema *normalize.Schema
	Table  *warehouse.TableSpec

	// Daily jobs run once per ingested date; reference jobs run once
	// per invocation.
	Daily bool

	// Parallel daily jobs for the same date run concurrently. Safe
	// because every job writes its own destination table.
	Parallel bool

	Identity *Identity

	Fetch func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error)
}

// Jobs returns the full job registry, filtered to the enabled names.
// An empty filter enables everything.
func Jobs(enabled []string) []*Job {
	all := []*Job{
		ordersJob(),
		orderItemsJob(),
		deliveriesJob(),
		incomingInvoicesJob(),
		invoiceItemsJob(),
		writeoffsJob(),
		suppliersJob(),
		productsJob(),
	}

	if len(enabled) == 0 {
		return all
	}

	want := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		want[strings.TrimSpace(name)] = true
	}

	var out []*Job
	for _, job := range all {
		if want[job.Name] {
			out = append(out, job)
		}
	}
	return out
}

// olapDay builds the half-open [date, date+1) filter for daily reports.
func olapDay(date time.Time) iiko.OlapFilter {
	return iiko.DateRangeFilter(date, date.AddDate(0, 0, 1))
}

// olapRaws converts OLAP rows to the normalizer input type.
func olapRaws(rows []map[string]interface{}) []normalize.Raw {
	raws := make([]normalize.Raw, len(rows))
	for i, row := range rows {
		raws[i] = normalize.Raw(row)
	}
	return raws
}

// ordersJob ingests one row per closed order from the SALES report.
func ordersJob() *Job {
	return &Job{
		Name:     "orders",
		Daily:    true,
		Parallel: true,
		Schema: &normalize.Schema{
			Name: "orders",
			Fields: []normalize.Field{
				{Source: "UniqOrderId.Id", Column: "order_id", Kind: normalize.KindString},
				{Source: "OrderNum", Column: "order_num", Kind: normalize.KindString},
				{Source: "OpenDate.Typed", Column: "business_date", Kind: normalize.KindTime, Layout: "2006-01-02"},
				{Source: "OpenTime", Column: "open_time", Kind: normalize.KindTime},
				{Source: "CloseTime", Column: "close_time", Kind: normalize.KindTime},
				{Source: "OrderType", Column: "order_type", Kind: normalize.KindString},
				{Source: "PayTypes", Column: "pay_types", Kind: normalize.KindString},
				{Source: "Department", Column: "department", Kind: normalize.KindString},
				{Source: "WaiterName", Column: "waiter", Kind: normalize.KindString},
				{Source: "GuestNum", Column: "guests", Kind: normalize.KindInt},
				{Source: "DishSumInt", Column: "sum_total", Kind: normalize.KindFloat},
				{Source: "DishDiscountSumInt", Column: "discount_sum", Kind: normalize.KindFloat},
				{Source: "Delivery.Phone", Column: "delivery_phone", Kind: normalize.KindString},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("UniqOrderId.Id"),
				normalize.FlagIsFalse("Storned"),
				normalize.Positive("DishDiscountSumInt"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "sales_orders",
			Columns: []string{
				"order_id", "order_num", "business_date", "open_time", "close_time",
				"order_type", "pay_types", "department", "waiter", "guests",
				"sum_total", "discount_sum", "delivery_phone",
			},
			KeyColumns: []string{"order_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			rows, err := client.OlapReport(ctx, &iiko.OlapReportRequest{
				ReportType: "SALES",
				GroupByRowFields: []string{
					"UniqOrderId.Id", "OrderNum", "OpenDate.Typed", "OpenTime", "CloseTime",
					"OrderType", "PayTypes", "Department", "WaiterName", "Delivery.Phone", "Storned",
				},
				AggregateFields: []string{"GuestNum", "DishSumInt", "DishDiscountSumInt"},
				Filters: map[string]iiko.OlapFilter{
					"OpenDate.Typed": olapDay(date),
				},
			})
			if err != nil {
				return nil, err
			}
			return olapRaws(rows), nil
		},
	}
}

// orderItemsJob ingests one row per order line from the SALES report.
// Lines carry no upstream identity; the key is derived from the order,
// dish, and business date.
func orderItemsJob() *Job {
	return &Job{
		Name:     "order-items",
		Daily:    true,
		Parallel: true,
		Schema: &normalize.Schema{
			Name: "order-items",
			Fields: []normalize.Field{
				{Source: "UniqOrderId.Id", Column: "order_id", Kind: normalize.KindString},
				{Source: "OpenDate.Typed", Column: "business_date", Kind: normalize.KindTime, Layout: "2006-01-02"},
				{Source: "DishId", Column: "dish_id", Kind: normalize.KindString},
				{Source: "DishName", Column: "dish_name", Kind: normalize.KindString},
				{Source: "DishType", Column: "dish_type", Kind: normalize.KindString},
				{Source: "DishAmountInt", Column: "amount", Kind: normalize.KindInt},
				{Source: "DishSumInt", Column: "sum_total", Kind: normalize.KindFloat},
				{Source: "DishDiscountSumInt", Column: "discount_sum", Kind: normalize.KindFloat},
				{Source: "Department", Column: "department", Kind: normalize.KindString},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("UniqOrderId.Id"),
				normalize.FlagIsFalse("Storned"),
				normalize.Positive("DishDiscountSumInt"),
				normalize.OneOf("DishType", "DISH", "MODIFIER"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "sales_order_items",
			Columns: []string{
				"item_id", "order_id", "business_date", "dish_id", "dish_name",
				"dish_type", "amount", "sum_total", "discount_sum", "department",
			},
			KeyColumns: []string{"item_id"},
			Policy:     warehouse.PolicySkip,
		},
		Identity: &Identity{
			Column: "item_id",
			From:   []string{"order_id", "dish_id", "business_date"},
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			rows, err := client.OlapReport(ctx, &iiko.OlapReportRequest{
				ReportType: "SALES",
				GroupByRowFields: []string{
					"UniqOrderId.Id", "OpenDate.Typed", "DishId", "DishName",
					"DishType", "Department", "Storned",
				},
				AggregateFields: []string{"DishAmountInt", "DishSumInt", "DishDiscountSumInt"},
				Filters: map[string]iiko.OlapFilter{
					"OpenDate.Typed": olapDay(date),
				},
			})
			if err != nil {
				return nil, err
			}
			return olapRaws(rows), nil
		},
	}
}

// deliveriesJob ingests delivery orders from the DELIVERIES report.
func deliveriesJob() *Job {
	return &Job{
		Name:  "deliveries",
		Daily: true,
		Schema: &normalize.Schema{
			Name: "deliveries",
			Fields: []normalize.Field{
				{Source: "Delivery.Id", Column: "delivery_id", Kind: normalize.KindString},
				{Source: "OpenDate.Typed", Column: "business_date", Kind: normalize.KindTime, Layout: "2006-01-02"},
				{Source: "Delivery.CustomerName", Column: "customer_name", Kind: normalize.KindString},
				{Source: "Delivery.Phone", Column: "phone", Kind: normalize.KindString},
				{Source: "Delivery.Address", Column: "address", Kind: normalize.KindString},
				{Source: "Delivery.CourierName", Column: "courier", Kind: normalize.KindString},
				{Source: "DeliveryStatus", Column: "status", Kind: normalize.KindString},
				{Source: "OpenTime", Column: "open_time", Kind: normalize.KindTime},
				{Source: "CloseTime", Column: "close_time", Kind: normalize.KindTime},
				{Source: "DishDiscountSumInt", Column: "delivery_sum", Kind: normalize.KindFloat},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("Delivery.Id"),
				normalize.FlagIsFalse("Storned"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "delivery_orders",
			Columns: []string{
				"delivery_id", "business_date", "customer_name", "phone", "address",
				"courier", "status", "open_time", "close_time", "delivery_sum",
			},
			KeyColumns: []string{"delivery_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			rows, err := client.OlapReport(ctx, &iiko.OlapReportRequest{
				ReportType: "DELIVERIES",
				GroupByRowFields: []string{
					"Delivery.Id", "OpenDate.Typed", "Delivery.CustomerName", "Delivery.Phone",
					"Delivery.Address", "Delivery.CourierName", "DeliveryStatus",
					"OpenTime", "CloseTime", "Storned",
				},
				AggregateFields: []string{"DishDiscountSumInt"},
				Filters: map[string]iiko.OlapFilter{
					"OpenDate.Typed": olapDay(date),
				},
			})
			if err != nil {
				return nil, err
			}
			return olapRaws(rows), nil
		},
	}
}

// invoiceDate extracts the calendar date prefix of an iiko document
// timestamp, e.g. "2024-01-02T10:00:00" to "2024-01-02".
func invoiceDate(dateIncoming string) string {
	if len(dateIncoming) >= 10 {
		return dateIncoming[:10]
	}
	return dateIncoming
}

// incomingInvoicesJob ingests invoice headers from the XML export.
func incomingInvoicesJob() *Job {
	return &Job{
		Name:  "invoices",
		Daily: true,
		Schema: &normalize.Schema{
			Name: "invoices",
			Fields: []normalize.Field{
				{Source: "id", Column: "invoice_id", Kind: normalize.KindString},
				{Source: "documentNumber", Column: "invoice_number", Kind: normalize.KindString},
				{Source: "dateIncoming", Column: "date_incoming", Kind: normalize.KindTime},
				{Source: "invoiceDate", Column: "invoice_date", Kind: normalize.KindTime, Layout: "2006-01-02"},
				{Source: "supplier", Column: "supplier_id", Kind: normalize.KindString},
				{Source: "defaultStore", Column: "store", Kind: normalize.KindString},
				{Source: "comment", Column: "comment", Kind: normalize.KindString},
				{Source: "status", Column: "status", Kind: normalize.KindString},
				{Source: "sum", Column: "sum_total", Kind: normalize.KindFloat},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("id"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "incoming_invoices",
			Columns: []string{
				"invoice_id", "invoice_number", "date_incoming", "invoice_date",
				"supplier_id", "store", "comment", "status", "sum_total",
			},
			KeyColumns: []string{"invoice_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			export, err := client.ExportDocuments(ctx, iiko.DocTypeIncomingInvoice, date, date.AddDate(0, 0, 1))
			if err != nil {
				return nil, err
			}
			raws := make([]normalize.Raw, 0, len(export.Documents))
			for i := range export.Documents {
				raw := normalize.Raw(export.Documents[i].Raw())
				raw["invoiceDate"] = invoiceDate(export.Documents[i].DateIncoming)
				raws = append(raws, raw)
			}
			return raws, nil
		},
	}
}

// invoiceItemsJob ingests invoice lines. Upstream edits rewrite whole
// documents without stable line identities, so the child set is
// replaced per (invoice, date).
func invoiceItemsJob() *Job {
	return &Job{
		Name:  "invoice-items",
		Daily: true,
		Schema: &normalize.Schema{
			Name: "invoice-items",
			Fields: []normalize.Field{
				{Source: "documentId", Column: "invoice_id", Kind: normalize.KindString},
				{Source: "invoiceDate", Column: "invoice_date", Kind: normalize.KindTime, Layout: "2006-01-02"},
				{Source: "num", Column: "line_num", Kind: normalize.KindInt},
				{Source: "productId", Column: "product_id", Kind: normalize.KindString},
				{Source: "productArticle", Column: "product_article", Kind: normalize.KindString},
				{Source: "amount", Column: "amount", Kind: normalize.KindFloat},
				{Source: "price", Column: "price", Kind: normalize.KindFloat},
				{Source: "sum", Column: "sum_total", Kind: normalize.KindFloat},
				{Source: "store", Column: "store", Kind: normalize.KindString},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("documentId"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "invoice_items",
			Columns: []string{
				"invoice_id", "invoice_date", "line_num", "product_id",
				"product_article", "amount", "price", "sum_total", "store",
			},
			ParentKeyColumns: []string{"invoice_id", "invoice_date"},
			Policy:           warehouse.PolicyReplaceChildren,
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			export, err := client.ExportDocuments(ctx, iiko.DocTypeIncomingInvoice, date, date.AddDate(0, 0, 1))
			if err != nil {
				return nil, err
			}
			var raws []normalize.Raw
			for i := range export.Documents {
				doc := &export.Documents[i]
				for j := range doc.Items {
					raw := normalize.Raw(doc.Items[j].Raw(doc.ID))
					raw["invoiceDate"] = invoiceDate(doc.DateIncoming)
					raws = append(raws, raw)
				}
			}
			return raws, nil
		},
	}
}

// writeoffsJob ingests write-off acts from the XML export.
func writeoffsJob() *Job {
	return &Job{
		Name:  "writeoffs",
		Daily: true,
		Schema: &normalize.Schema{
			Name: "writeoffs",
			Fields: []normalize.Field{
				{Source: "id", Column: "act_id", Kind: normalize.KindString},
				{Source: "documentNumber", Column: "act_number", Kind: normalize.KindString},
				{Source: "dateIncoming", Column: "date_incoming", Kind: normalize.KindTime},
				{Source: "defaultStore", Column: "store", Kind: normalize.KindString},
				{Source: "accountToCode", Column: "account", Kind: normalize.KindString},
				{Source: "comment", Column: "comment", Kind: normalize.KindString},
				{Source: "status", Column: "status", Kind: normalize.KindString},
				{Source: "sum", Column: "sum_total", Kind: normalize.KindFloat},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("id"),
			},
		},
		Table: &warehouse.TableSpec{
			Name: "writeoff_acts",
			Columns: []string{
				"act_id", "act_number", "date_incoming", "store",
				"account", "comment", "status", "sum_total",
			},
			KeyColumns: []string{"act_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, date time.Time) ([]normalize.Raw, error) {
			export, err := client.ExportDocuments(ctx, iiko.DocTypeWriteoff, date, date.AddDate(0, 0, 1))
			if err != nil {
				return nil, err
			}
			raws := make([]normalize.Raw, 0, len(export.Documents))
			for i := range export.Documents {
				raws = append(raws, normalize.Raw(export.Documents[i].Raw()))
			}
			return raws, nil
		},
	}
}

// suppliersJob refreshes the supplier dimension once per invocation.
func suppliersJob() *Job {
	return &Job{
		Name: "suppliers",
		Schema: &normalize.Schema{
			Name: "suppliers",
			Fields: []normalize.Field{
				{Source: "id", Column: "supplier_id", Kind: normalize.KindString},
				{Source: "code", Column: "code", Kind: normalize.KindString},
				{Source: "name", Column: "name", Kind: normalize.KindString},
				{Source: "login", Column: "login", Kind: normalize.KindString},
				{Source: "deleted", Column: "deleted", Kind: normalize.KindBool},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("id"),
			},
		},
		Table: &warehouse.TableSpec{
			Name:       "suppliers",
			Columns:    []string{"supplier_id", "code", "name", "login", "deleted"},
			KeyColumns: []string{"supplier_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, _ time.Time) ([]normalize.Raw, error) {
			suppliers, err := client.Suppliers(ctx)
			if err != nil {
				return nil, err
			}
			raws := make([]normalize.Raw, 0, len(suppliers))
			for i := range suppliers {
				raws = append(raws, normalize.Raw(suppliers[i].Raw()))
			}
			return raws, nil
		},
	}
}

// productsJob refreshes the product catalogue once per invocation.
func productsJob() *Job {
	return &Job{
		Name: "products",
		Schema: &normalize.Schema{
			Name: "products",
			Fields: []normalize.Field{
				{Source: "id", Column: "product_id", Kind: normalize.KindString},
				{Source: "num", Column: "sku", Kind: normalize.KindString},
				{Source: "code", Column: "code", Kind: normalize.KindString},
				{Source: "name", Column: "name", Kind: normalize.KindString},
				{Source: "type", Column: "product_type", Kind: normalize.KindString},
				{Source: "mainUnit", Column: "unit", Kind: normalize.KindString},
				{Source: "deleted", Column: "deleted", Kind: normalize.KindBool},
			},
			Include: []normalize.Predicate{
				normalize.NotEmpty("id"),
			},
		},
		Table: &warehouse.TableSpec{
			Name:       "products",
			Columns:    []string{"product_id", "sku", "code", "name", "product_type", "unit", "deleted"},
			KeyColumns: []string{"product_id"},
			Policy:     warehouse.PolicyUpdate,
		},
		Fetch: func(ctx context.Context, client Fetcher, _ time.Time) ([]normalize.Raw, error) {
			products, err := client.Products(ctx)
			if err != nil {
				return nil, err
			}
			return olapRaws(products), nil
		},
	}
}
