// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Kind selects the coercion applied to an upstream value.
type Kind int

const (
	// KindString keeps the value as a string.
	KindString Kind = iota
	// KindFloat parses the value as float64.
	KindFloat
	// KindInt parses the value as int64.
	KindInt
	// KindBool parses the value as bool.
	KindBool
	// KindTime parses the value as time.Time using Field.Layout.
	KindTime
)

// Coerce converts an upstream value to the destination type.
//
// Rules, in order:
//   - nil stays nil
//   - empty string or case-insensitive "null" becomes nil
//   - case-insensitive "true"/"false" become bool for KindBool
//   - numeric parse failures become nil, never an error
//
// OLAP exports localize decimal separators, so "12,50" parses as 12.5.
func Coerce(value interface{}, kind Kind, layout string) interface{} {
	if value == nil {
		return nil
	}

	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		return coerceString(s, kind, layout)
	}

	return coerceTyped(value, kind)
}

// coerceString converts a non-empty, non-"null" string per kind.
func coerceString(s string, kind Kind, layout string) interface{} {
	switch kind {
	case KindString:
		return s
	case KindFloat:
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return nil
		}
		return f
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// OLAP sometimes renders integral counters as "3.0".
			f, ferr := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
			if ferr != nil {
				return nil
			}
			return int64(f)
		}
		return i
	case KindBool:
		if strings.EqualFold(s, "true") {
			return true
		}
		if strings.EqualFold(s, "false") {
			return false
		}
		return nil
	case KindTime:
		if layout == "" {
			layout = "2006-01-02T15:04:05"
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil
		}
		return t
	}
	return nil
}

// coerceTyped converts an already-typed JSON value per kind.
func coerceTyped(value interface{}, kind Kind) interface{} {
	switch kind {
	case KindString:
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
		return nil
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
		return nil
	case KindInt:
		switch v := value.(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		}
		return nil
	case KindBool:
		if v, ok := value.(bool); ok {
			return v
		}
		return nil
	case KindTime:
		if v, ok := value.(time.Time); ok {
			return v
		}
		return nil
	}
	return nil
}
