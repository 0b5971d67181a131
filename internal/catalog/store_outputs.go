package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertStageOutputs writes a stage's derived rows keyed by
// (version_id, stage, sequence). Re-running a stage overwrites its previous
// rows instead of duplicating them; rows beyond the new sequence range are
// removed so a shorter re-run leaves no stale tail.
func (s *Store) UpsertStageOutputs(ctx context.Context, versionID, stage string, outputs []StageOutput) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := timeString(time.Now())
		for i, out := range outputs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO stage_outputs (version_id, stage, sequence, content, vector, char_start, char_end, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT (version_id, stage, sequence) DO UPDATE SET
                     content = excluded.content,
                     vector = excluded.vector,
                     char_start = excluded.char_start,
                     char_end = excluded.char_end,
                     updated_at = excluded.updated_at`,
				versionID, stage, i,
				nullableString(out.Content), nullableString(out.Vector),
				out.CharStart, out.CharEnd, now, now,
			)
			if err != nil {
				return fmt.Errorf("upsert stage output %s/%d: %w", stage, i, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stage_outputs WHERE version_id = ? AND stage = ? AND sequence >= ?`,
			versionID, stage, len(outputs),
		); err != nil {
			return fmt.Errorf("trim stage outputs: %w", err)
		}
		return nil
	})
}

// ListStageOutputs returns a stage's rows for a version in sequence order.
func (s *Store) ListStageOutputs(ctx context.Context, versionID, stage string) ([]StageOutput, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT version_id, stage, sequence, content, vector, char_start, char_end, created_at, updated_at
         FROM stage_outputs WHERE version_id = ? AND stage = ? ORDER BY sequence`,
		versionID, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage outputs: %w", err)
	}
	defer rows.Close()

	var outputs []StageOutput
	for rows.Next() {
		var (
			out        StageOutput
			content    sql.NullString
			vector     sql.NullString
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&out.VersionID, &out.Stage, &out.Sequence, &content, &vector, &out.CharStart, &out.CharEnd, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan stage output: %w", err)
		}
		out.Content = content.String
		out.Vector = vector.String
		if created, perr := parseTimeString(createdRaw); perr == nil {
			out.CreatedAt = created
		}
		if updated, perr := parseTimeString(updatedRaw); perr == nil {
			out.UpdatedAt = updated
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

// CountStageOutputs returns how many rows a stage has for a version.
func (s *Store) CountStageOutputs(ctx context.Context, versionID, stage string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM stage_outputs WHERE version_id = ? AND stage = ?`, versionID, stage)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count stage outputs: %w", err)
	}
	return count, nil
}

// CountDocumentStageOutputs counts a stage's rows across all versions of a
// document. Used when materializing deletion tasks.
func (s *Store) CountDocumentStageOutputs(ctx context.Context, documentID, stage string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM stage_outputs
         WHERE stage = ? AND version_id IN (SELECT id FROM document_versions WHERE document_id = ?)`,
		stage, documentID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count document stage outputs: %w", err)
	}
	return count, nil
}

// DeleteDocumentStageOutputs removes a stage's rows across all versions of a
// document. Deleting rows that are already gone is a no-op.
func (s *Store) DeleteDocumentStageOutputs(ctx context.Context, documentID, stage string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM stage_outputs
         WHERE stage = ? AND version_id IN (SELECT id FROM document_versions WHERE document_id = ?)`,
		stage, documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete document stage outputs: %w", err)
	}
	return res.RowsAffected()
}
