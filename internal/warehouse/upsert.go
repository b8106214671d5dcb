// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/metrics"
	"github.com/restokit/iikosync/internal/normalize"
)

// Policy selects the conflict behavior for a destination table.
type Policy string

const (
	// PolicySkip inserts rows and leaves existing natural-key matches
	// untouched. For high-volume immutable facts.
	PolicySkip Policy = "skip"

	// PolicyUpdate reads existing ids first, then inserts absent rows
	// and updates mutable fields on present ones. For slowly-changing
	// entities whose per-run volume fits in memory.
	PolicyUpdate Policy = "update"

	// PolicyReplaceChildren deletes the full child set of each parent
	// key present in the batch, then reinserts. For child rows without
	// stable identities across upstream edits.
	PolicyReplaceChildren Policy = "replace-children"
)

// TableSpec describes one destination table and its conflict policy.
type TableSpec struct {
	Name    string
	Columns []string
	Policy  Policy

	// KeyColumns is the natural key. PolicyUpdate requires exactly one
	// key column; PolicySkip uses it as the conflict target.
	KeyColumns []string

	// UpdateColumns lists the mutable fields for PolicyUpdate. Empty
	// means every non-key column.
	UpdateColumns []string

	// ParentKeyColumns is the composite parent key whose child set is
	// replaced wholesale under PolicyReplaceChildren.
	ParentKeyColumns []string
}

// updateColumns resolves the effective mutable column set.
func (s *TableSpec) updateColumns() []string {
	if len(s.UpdateColumns) > 0 {
		return s.UpdateColumns
	}
	keys := make(map[string]bool, len(s.KeyColumns))
	for _, k := range s.KeyColumns {
		keys[k] = true
	}
	var out []string
	for _, c := range s.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// SinkError reports a chunk write that failed and was skipped.
type SinkError struct {
	Table string
	Chunk int
	Rows  int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("warehouse write to %s failed (chunk %d, %d rows): %v", e.Table, e.Chunk, e.Rows, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Result summarizes one UpsertBatch call.
type Result struct {
	RowsWritten  int
	ChunksFailed int
}

// UpsertBatch writes rows to the destination table in fixed-size
// chunks, one transaction per chunk. A chunk's failure is logged and
// skipped without aborting sibling chunks; the caller inspects
// Result.ChunksFailed to decide whether the run is reconcilable.
//
// Idempotence: re-running the same batch leaves the table unchanged
// under every policy. Replayed dates after a crash-restart are the
// expected case, not the exception.
func (db *DB) UpsertBatch(ctx context.Context, spec *TableSpec, rows []normalize.Row) (Result, error) {
	var res Result
	if len(rows) == 0 {
		return res, nil
	}

	if spec.Policy == PolicyUpdate && len(spec.KeyColumns) != 1 {
		return res, fmt.Errorf("table %s: update policy requires exactly one key column, got %d", spec.Name, len(spec.KeyColumns))
	}
	if spec.Policy == PolicyReplaceChildren && len(spec.ParentKeyColumns) == 0 {
		return res, fmt.Errorf("table %s: replace-children policy requires parent key columns", spec.Name)
	}

	// Parent key tuples already deleted during this batch. A parent's
	// children may span chunks; the delete must happen once.
	deletedParents := make(map[string]bool)

	chunkIndex := 0
	for start := 0; start < len(rows); start += db.chunkSize {
		end := start + db.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		chunkIndex++

		metrics.SinkChunkSize.Observe(float64(len(chunk)))

		written, err := db.writeChunk(ctx, spec, chunk, deletedParents)
		if err != nil {
			res.ChunksFailed++
			metrics.SinkChunkErrors.WithLabelValues(spec.Name).Inc()
			sinkErr := &SinkError{Table: spec.Name, Chunk: chunkIndex, Rows: len(chunk), Err: err}
			logging.Error().
				Err(sinkErr).
				Str("table", spec.Name).
				Int("chunk", chunkIndex).
				Int("rows", len(chunk)).
				Msg("Chunk write failed, skipping")
			continue
		}

		res.RowsWritten += written
		metrics.SinkRowsWritten.WithLabelValues(spec.Name, string(spec.Policy)).Add(float64(written))
	}

	return res, nil
}

// writeChunk writes one chunk inside a transaction.
func (db *DB) writeChunk(ctx context.Context, spec *TableSpec, chunk []normalize.Row, deletedParents map[string]bool) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var written int
	var newlyDeleted []string
	switch spec.Policy {
	case PolicySkip:
		written, err = db.insertSkip(ctx, tx, spec, chunk)
	case PolicyUpdate:
		written, err = db.insertOrUpdate(ctx, tx, spec, chunk)
	case PolicyReplaceChildren:
		written, newlyDeleted, err = db.replaceChildren(ctx, tx, spec, chunk, deletedParents)
	default:
		err = fmt.Errorf("unknown conflict policy %q", spec.Policy)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	// Record deleted parents only after commit. A rolled-back chunk
	// must not suppress the delete when a later chunk carries the same
	// parent key.
	for _, k := range newlyDeleted {
		deletedParents[k] = true
	}
	return written, nil
}

// insertSkip performs a multi-row insert with ON CONFLICT DO NOTHING.
func (db *DB) insertSkip(ctx context.Context, tx *sql.Tx, spec *TableSpec, chunk []normalize.Row) (int, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(spec.Columns, ", "))

	args := make([]interface{}, 0, len(chunk)*len(spec.Columns))
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(db.placeholderRow(len(spec.Columns), len(args)+1))
		for _, col := range spec.Columns {
			args = append(args, row[col])
		}
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", strings.Join(spec.KeyColumns, ", "))

	result, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for ON CONFLICT
		// inserts; count the attempt instead.
		return len(chunk), nil
	}
	return int(affected), nil
}

// insertOrUpdate reads existing ids, updates present rows, inserts the
// rest.
func (db *DB) insertOrUpdate(ctx context.Context, tx *sql.Tx, spec *TableSpec, chunk []normalize.Row) (int, error) {
	key := spec.KeyColumns[0]

	// The existence read happens once per chunk, so two rows sharing a
	// key would both classify as inserts and collide. Keep the last
	// occurrence of each key.
	index := make(map[string]int, len(chunk))
	deduped := make([]normalize.Row, 0, len(chunk))
	for _, row := range chunk {
		k := fmt.Sprint(row[key])
		if i, ok := index[k]; ok {
			deduped[i] = row
			continue
		}
		index[k] = len(deduped)
		deduped = append(deduped, row)
	}
	chunk = deduped

	ids := make([]interface{}, 0, len(chunk))
	for _, row := range chunk {
		ids = append(ids, row[key])
	}

	existing, err := db.existingKeys(ctx, tx, spec.Name, key, ids)
	if err != nil {
		return 0, err
	}

	updateCols := spec.updateColumns()

	var inserts []normalize.Row
	var updates []normalize.Row
	for _, row := range chunk {
		if existing[fmt.Sprint(row[key])] {
			updates = append(updates, row)
		} else {
			inserts = append(inserts, row)
		}
	}

	written := 0

	if len(inserts) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(spec.Columns, ", "))
		args := make([]interface{}, 0, len(inserts)*len(spec.Columns))
		for i, row := range inserts {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(db.placeholderRow(len(spec.Columns), len(args)+1))
			for _, col := range spec.Columns {
				args = append(args, row[col])
			}
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		written += len(inserts)
	}

	if len(updates) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "UPDATE %s SET ", spec.Name)
		for i, col := range updateCols {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s = %s", col, db.placeholder(i+1))
		}
		fmt.Fprintf(&sb, " WHERE %s = %s", key, db.placeholder(len(updateCols)+1))

		stmt, err := tx.PrepareContext(ctx, sb.String())
		if err != nil {
			return 0, fmt.Errorf("prepare update: %w", err)
		}
		defer stmt.Close()

		for _, row := range updates {
			args := make([]interface{}, 0, len(updateCols)+1)
			for _, col := range updateCols {
				args = append(args, row[col])
			}
			args = append(args, row[key])
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("update: %w", err)
			}
			written++
		}
	}

	return written, nil
}

// existingKeys returns the set of key values already present, rendered
// as strings for membership tests.
func (db *DB) existingKeys(ctx context.Context, tx *sql.Tx, table, key string, ids []interface{}) (map[string]bool, error) {
	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = db.placeholder(i + 1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", key, table, key, strings.Join(placeholders, ", "))

	rows, err := tx.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("read existing keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id interface{}
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		existing[fmt.Sprint(id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing keys: %w", err)
	}
	return existing, nil
}

// replaceChildren deletes the child set of each not-yet-deleted parent
// key in the chunk, then reinserts all rows. Returns the parent tuple
// keys deleted inside this transaction so the caller can record them
// after commit.
func (db *DB) replaceChildren(ctx context.Context, tx *sql.Tx, spec *TableSpec, chunk []normalize.Row, deletedParents map[string]bool) (int, []string, error) {
	conds := make([]string, len(spec.ParentKeyColumns))

	var newlyDeleted []string
	seen := make(map[string]bool)
	for _, row := range chunk {
		tupleKey := parentTupleKey(row, spec.ParentKeyColumns)
		if deletedParents[tupleKey] || seen[tupleKey] {
			continue
		}

		args := make([]interface{}, len(spec.ParentKeyColumns))
		for i, col := range spec.ParentKeyColumns {
			conds[i] = fmt.Sprintf("%s = %s", col, db.placeholder(i+1))
			args[i] = row[col]
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", spec.Name, strings.Join(conds, " AND "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, nil, fmt.Errorf("delete children: %w", err)
		}
		seen[tupleKey] = true
		newlyDeleted = append(newlyDeleted, tupleKey)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(spec.Columns, ", "))
	args := make([]interface{}, 0, len(chunk)*len(spec.Columns))
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(db.placeholderRow(len(spec.Columns), len(args)+1))
		for _, col := range spec.Columns {
			args = append(args, row[col])
		}
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return 0, nil, fmt.Errorf("reinsert children: %w", err)
	}

	return len(chunk), newlyDeleted, nil
}

// parentTupleKey renders a composite parent key for dedup tracking.
func parentTupleKey(row normalize.Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprint(row[col])
	}
	return strings.Join(parts, "\x1f")
}
