// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package ingest

import (
	"crypto/sha256"
	"strings"

	"github.com/google/uuid"
)

// DeriveID builds a deterministic UUID from the given key parts. The
// upstream OLAP export carries no stable line identity, so the natural
// key is hashed into one: the same parts always produce the same id,
// which is what makes skip-on-conflict replays idempotent.
func DeriveID(parts ...string) string {
	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	id, err := uuid.FromBytes(hash[:16])
	if err != nil {
		// Cannot happen with 16 bytes of input.
		return uuid.New().String()
	}

	// Stamp version and variant bits so the result is a well-formed
	// name-based UUID.
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80

	return id.String()
}
