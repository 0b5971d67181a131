package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const documentColumns = "id, filename, content_type, deletion_status, created_at, updated_at"

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		id             string
		filename       string
		contentType    sql.NullString
		deletionStatus string
		createdRaw     string
		updatedRaw     string
	)
	if err := scanner.Scan(&id, &filename, &contentType, &deletionStatus, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	doc := &Document{
		ID:             id,
		Filename:       filename,
		ContentType:    contentType.String,
		DeletionStatus: DeletionStatus(deletionStatus),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		doc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		doc.UpdatedAt = updated
	}
	return doc, nil
}

// CreateDocument inserts a document record.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	now := timeString(time.Now())
	if err := retryOnBusy(ensureContext(ctx), func() error {
		_, err := s.db.ExecContext(ensureContext(ctx),
			`INSERT INTO documents (id, filename, content_type, deletion_status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Filename, nullableString(doc.ContentType), string(DeletionNone), now, now,
		)
		return err
	}); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	doc.DeletionStatus = DeletionNone
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan document: %w", scanErr)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetDeletionStatus updates the aggregate deletion status of a document.
func (s *Store) SetDeletionStatus(ctx context.Context, id string, status DeletionStatus) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE documents SET deletion_status = ?, updated_at = ? WHERE id = ?`,
		string(status), timeString(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set deletion status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocumentRow removes the document row itself. Versions and stage
// outputs cascade. Deleting an absent row is a no-op.
func (s *Store) DeleteDocumentRow(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document row: %w", err)
	}
	return nil
}
