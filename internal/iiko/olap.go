// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// olapPath is the v2 OLAP report endpoint. Reports are requested with a
// JSON body naming the report type, the row fields to group by, the
// aggregates, and a date-range filter.
const olapPath = "/api/v2/reports/olap"

// olapDateLayout is the date format the OLAP filter expects. The range
// is half-open: From is inclusive, To is exclusive.
const olapDateLayout = "2006-01-02"

// OlapFilter restricts an OLAP report along one field.
type OlapFilter struct {
	FilterType string   `json:"filterType"`
	PeriodType string   `json:"periodType,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Values     []string `json:"values,omitempty"`
}

// DateRangeFilter builds a custom-period filter covering [from, to).
func DateRangeFilter(from, to time.Time) OlapFilter {
	return OlapFilter{
		FilterType: "DateRange",
		PeriodType: "CUSTOM",
		From:       from.Format(olapDateLayout),
		To:         to.Format(olapDateLayout),
	}
}

// IncludeValuesFilter builds a filter keeping only the listed values.
func IncludeValuesFilter(values ...string) OlapFilter {
	return OlapFilter{
		FilterType: "IncludeValues",
		Values:     values,
	}
}

// OlapReportRequest describes one OLAP report pull.
type OlapReportRequest struct {
	ReportType       string                `json:"reportType"`
	BuildSummary     bool                  `json:"buildSummary"`
	GroupByRowFields []string              `json:"groupByRowFields"`
	AggregateFields  []string              `json:"aggregateFields"`
	Filters          map[string]OlapFilter `json:"filters"`
}

// olapReportResponse is the wire shape of an OLAP response. Only the
// data rows matter; the summary block is ignored.
type olapReportResponse struct {
	Data []map[string]interface{} `json:"data"`
}

// OlapReport executes an OLAP report request and returns the raw rows.
// Row keys are the upstream field names from GroupByRowFields and
// AggregateFields; values arrive as strings or JSON numbers depending
// on the field, which is why coercion happens downstream.
func (c *Client) OlapReport(ctx context.Context, req *OlapReportRequest) ([]map[string]interface{}, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode OLAP request: %w", err)
	}

	endpoint := fmt.Sprintf("olap/%s", req.ReportType)
	body, err := c.fetch(ctx, endpoint, http.MethodPost, olapPath, nil, "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp olapReportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{
			Endpoint: endpoint,
			Attempts: 1,
			Err:      fmt.Errorf("decode OLAP response: %w", err),
		}
	}

	return resp.Data, nil
}
