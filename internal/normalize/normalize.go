// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

// Package normalize maps heterogeneous upstream report rows onto flat,
// typed destination rows. Everything here is pure: no I/O, no shared
// state, deterministic output for a given input and schema.
package normalize

import "strings"

// Raw is one upstream report row as fetched: field name to value. OLAP
// report values arrive stringly typed; entity payloads may carry nested
// maps addressed with dotted paths ("Delivery.Phone").
type Raw map[string]interface{}

// Row is a normalized destination row: column name to typed value.
// Values are string, float64, int64, bool, time.Time, or nil.
type Row map[string]interface{}

// Field maps one upstream field onto one destination column.
type Field struct {
	// Source is the upstream field name, optionally a dotted path into
	// nested objects.
	Source string

	// Column is the destination column name.
	Column string

	// Kind selects the coercion applied to the upstream value.
	Kind Kind

	// Layout is the time layout for KindTime fields.
	Layout string
}

// Schema describes how one report type becomes destination rows.
type Schema struct {
	// Name identifies the schema in logs and metrics.
	Name string

	// Fields is the mapping table, applied in order.
	Fields []Field

	// Include lists predicates a raw row must all satisfy to be kept.
	Include []Predicate
}

// Normalize maps a raw upstream row onto a destination row. The second
// return value is false when the row fails an inclusion predicate and
// must be dropped. Malformed values never fail the row; they coerce to
// nil per the rules in Coerce.
func Normalize(raw Raw, schema *Schema) (Row, bool) {
	for _, pred := range schema.Include {
		if !pred(raw) {
			return nil, false
		}
	}

	row := make(Row, len(schema.Fields))
	for _, f := range schema.Fields {
		value, _ := Lookup(raw, f.Source)
		row[f.Column] = Coerce(value, f.Kind, f.Layout)
	}
	return row, true
}

// NormalizeBatch maps a slice of raw rows, dropping excluded ones.
// Returns the kept rows and the count of excluded rows.
func NormalizeBatch(raws []Raw, schema *Schema) ([]Row, int) {
	rows := make([]Row, 0, len(raws))
	excluded := 0
	for _, raw := range raws {
		row, ok := Normalize(raw, schema)
		if !ok {
			excluded++
			continue
		}
		rows = append(rows, row)
	}
	return rows, excluded
}

// Lookup resolves a dotted path inside a raw row. A plain key is tried
// verbatim first, so upstream fields whose names literally contain dots
// ("Delivery.Phone" as a flat OLAP column) resolve before any nested
// traversal is attempted.
func Lookup(raw Raw, path string) (interface{}, bool) {
	if v, ok := raw[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return nil, false
	}

	var current interface{} = map[string]interface{}(raw)
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
