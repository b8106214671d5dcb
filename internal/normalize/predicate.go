// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package normalize

import "strings"

// Predicate decides whether a raw upstream row is kept.
type Predicate func(Raw) bool

// FlagIsFalse keeps rows whose boolean-ish field at path is false.
// Missing fields and unparseable values count as false: upstream omits
// the storned flag on most rows, and an absent flag must not drop data.
func FlagIsFalse(path string) Predicate {
	return func(raw Raw) bool {
		value, ok := Lookup(raw, path)
		if !ok || value == nil {
			return true
		}
		switch v := value.(type) {
		case bool:
			return !v
		case string:
			return !strings.EqualFold(strings.TrimSpace(v), "true")
		}
		return true
	}
}

// Positive keeps rows whose numeric field at path parses and is > 0.
func Positive(path string) Predicate {
	return func(raw Raw) bool {
		value, _ := Lookup(raw, path)
		coerced := Coerce(value, KindFloat, "")
		f, ok := coerced.(float64)
		return ok && f > 0
	}
}

// OneOf keeps rows whose string field at path equals one of the allowed
// values, case-insensitively.
func OneOf(path string, allowed ...string) Predicate {
	return func(raw Raw) bool {
		value, _ := Lookup(raw, path)
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(s), a) {
				return true
			}
		}
		return false
	}
}

// NotEmpty keeps rows whose field at path is present and non-empty.
func NotEmpty(path string) Predicate {
	return func(raw Raw) bool {
		value, ok := Lookup(raw, path)
		if !ok || value == nil {
			return false
		}
		if s, sok := value.(string); sok {
			trimmed := strings.TrimSpace(s)
			return trimmed != "" && !strings.EqualFold(trimmed, "null")
		}
		return true
	}
}
