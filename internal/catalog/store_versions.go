package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const versionColumns = "id, document_id, version_number, storage_key, upload_status, processing_status, extraction_status, file_size, file_hash, page_count, extracted_text, extraction_error, extracted_at, grant_expires_at, created_at, updated_at"

func scanVersion(scanner interface{ Scan(dest ...any) error }) (*Version, error) {
	var (
		id              string
		documentID      string
		versionNumber   int
		storageKey      string
		uploadStatus    string
		processing      string
		extraction      string
		fileSize        sql.NullInt64
		fileHash        sql.NullString
		pageCount       sql.NullInt64
		extractedText   sql.NullString
		extractionError sql.NullString
		extractedRaw    sql.NullString
		grantRaw        sql.NullString
		createdRaw      string
		updatedRaw      string
	)
	if err := scanner.Scan(
		&id, &documentID, &versionNumber, &storageKey, &uploadStatus, &processing, &extraction,
		&fileSize, &fileHash, &pageCount, &extractedText, &extractionError,
		&extractedRaw, &grantRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	v := &Version{
		ID:               id,
		DocumentID:       documentID,
		VersionNumber:    versionNumber,
		StorageKey:       storageKey,
		UploadStatus:     UploadStatus(uploadStatus),
		ProcessingStatus: ProcessingStatus(processing),
		ExtractionStatus: ExtractionStatus(extraction),
		FileSize:         fileSize.Int64,
		FileHash:         fileHash.String,
		PageCount:        int(pageCount.Int64),
		ExtractedText:    extractedText.String,
		ExtractionError:  extractionError.String,
	}
	v.ExtractedAt = parseNullableTime(extractedRaw)
	v.GrantExpiresAt = parseNullableTime(grantRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		v.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		v.UpdatedAt = updated
	}
	return v, nil
}

// CreateVersion inserts a version, assigning the next version number for its
// document atomically.
func (s *Store) CreateVersion(ctx context.Context, v *Version) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version_number), 0) + 1 FROM document_versions WHERE document_id = ?`,
			v.DocumentID,
		)
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("next version number: %w", err)
		}
		now := timeString(time.Now())
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_versions (id, document_id, version_number, storage_key, upload_status, processing_status, extraction_status, grant_expires_at, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.DocumentID, next, v.StorageKey,
			string(UploadPending), string(ProcessingPending), string(ExtractionPending),
			nullableTime(v.GrantExpiresAt), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		v.VersionNumber = next
		v.UploadStatus = UploadPending
		v.ProcessingStatus = ProcessingPending
		v.ExtractionStatus = ExtractionPending
		return nil
	})
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+versionColumns+" FROM document_versions WHERE id = ?", id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", id, err)
	}
	return v, nil
}

// ListVersions returns all versions of a document, oldest first.
func (s *Store) ListVersions(ctx context.Context, documentID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+versionColumns+" FROM document_versions WHERE document_id = ? ORDER BY version_number", documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, scanErr := scanVersion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan version: %w", scanErr)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// FindUploadedByHash returns an uploaded version with the given content hash,
// used to short-circuit re-ingesting identical bytes.
func (s *Store) FindUploadedByHash(ctx context.Context, hash string) (*Version, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+versionColumns+" FROM document_versions WHERE file_hash = ? AND upload_status = ? ORDER BY created_at LIMIT 1",
		hash, string(UploadUploaded))
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find version by hash: %w", err)
	}
	return v, nil
}

// ConfirmUpload records a completed byte transfer: size and hash from object
// metadata, upload and processing statuses moved to uploaded. Only a pending
// version transitions; confirming twice returns ErrStageConflict for the
// caller to treat as idempotent success.
func (s *Store) ConfirmUpload(ctx context.Context, versionID string, size int64, hash string) error {
	now := timeString(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions
         SET upload_status = ?, processing_status = ?, file_size = ?, file_hash = ?, updated_at = ?
         WHERE id = ? AND upload_status = ?`,
		string(UploadUploaded), string(ProcessingUploaded), size, nullableString(hash), now,
		versionID, string(UploadPending),
	)
	if err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrStageConflict
	}
	return nil
}

// ExpirePendingUploads marks versions whose upload grant lapsed without a
// confirm as failed. Returns the number of versions flagged.
func (s *Store) ExpirePendingUploads(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions SET upload_status = ?, updated_at = ?
         WHERE upload_status = ? AND grant_expires_at IS NOT NULL AND grant_expires_at < ?`,
		string(UploadFailed), timeString(now), string(UploadPending), timeString(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire pending uploads: %w", err)
	}
	return res.RowsAffected()
}

// AdvanceProcessingStatus moves a version forward exactly one pipeline step
// with a compare-and-set on the expected current status. ErrStageConflict
// means the version is not where the caller thought.
func (s *Store) AdvanceProcessingStatus(ctx context.Context, versionID string, from, to ProcessingStatus) error {
	if to.Rank() < 0 || from.Rank() < 0 || to.Rank() <= from.Rank() {
		return fmt.Errorf("%w: cannot advance %s -> %s", ErrStageConflict, from, to)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions SET processing_status = ?, updated_at = ? WHERE id = ? AND processing_status = ?`,
		string(to), timeString(time.Now()), versionID, string(from),
	)
	if err != nil {
		return fmt.Errorf("advance processing status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrStageConflict
	}
	return nil
}

// SetExtractionResult stores the extract stage output on the version.
func (s *Store) SetExtractionResult(ctx context.Context, versionID, text string, pageCount int) error {
	now := time.Now()
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions
         SET extracted_text = ?, page_count = ?, extraction_status = ?, extraction_error = NULL, extracted_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(text), pageCount, string(ExtractionCompleted), timeString(now), timeString(now), versionID,
	)
	if err != nil {
		return fmt.Errorf("set extraction result: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExtractionStatus updates the derived extraction summary field.
func (s *Store) SetExtractionStatus(ctx context.Context, versionID string, status ExtractionStatus) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions SET extraction_status = ?, updated_at = ? WHERE id = ?`,
		string(status), timeString(time.Now()), versionID,
	)
	if err != nil {
		return fmt.Errorf("set extraction status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountVersionsWithText counts a document's versions that still hold
// searchable extracted text.
func (s *Store) CountVersionsWithText(ctx context.Context, documentID string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM document_versions
         WHERE document_id = ? AND extracted_text IS NOT NULL AND extracted_text != ''`,
		documentID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count versions with text: %w", err)
	}
	return count, nil
}

// ClearExtractedText removes the searchable text from every version of a
// document. Clearing already-empty versions is a no-op.
func (s *Store) ClearExtractedText(ctx context.Context, documentID string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions SET extracted_text = NULL, updated_at = ?
         WHERE document_id = ? AND extracted_text IS NOT NULL`,
		timeString(time.Now()), documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("clear extracted text: %w", err)
	}
	return res.RowsAffected()
}

// SetStageError records a stage failure without touching processing_status,
// so the version stays at its last successful stage.
func (s *Store) SetStageError(ctx context.Context, versionID, message string, terminal bool) error {
	now := timeString(time.Now())
	if terminal {
		res, err := s.execWithRetry(ctx,
			`UPDATE document_versions SET extraction_error = ?, extraction_status = ?, updated_at = ? WHERE id = ?`,
			nullableString(message), string(ExtractionFailed), now, versionID,
		)
		if err != nil {
			return fmt.Errorf("set stage error: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE document_versions SET extraction_error = ?, updated_at = ? WHERE id = ?`,
		nullableString(message), now, versionID,
	)
	if err != nil {
		return fmt.Errorf("set stage error: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
