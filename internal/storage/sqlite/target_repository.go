package sqlite

import (
	"database/sql"
	"time"

	"vault_downloader/internal/storage"
)

type TargetRepository struct {
	db *sql.DB
}

func NewTargetRepository(dbConn *sql.DB) *TargetRepository {
	return &TargetRepository{db: dbConn}
}

// Track upserts the page metadata for a target and bumps its attempt count.
// An already-verified row keeps its status: re-processing a satisfied target
// is a no-op pass, not a regression to pending. Empty metadata never
// overwrites populated columns, so tracking a page that temporarily fails to
// parse keeps the last good metadata.
func (r *TargetRepository) Track(rec storage.TargetRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO targets (page_url, media_id, file_name, expected_crc, status, attempts, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 1, ?)
		ON CONFLICT(page_url) DO UPDATE SET
			media_id = COALESCE(NULLIF(excluded.media_id, ''), targets.media_id),
			file_name = COALESCE(NULLIF(excluded.file_name, ''), targets.file_name),
			expected_crc = COALESCE(NULLIF(excluded.expected_crc, ''), targets.expected_crc),
			attempts = targets.attempts + 1,
			updated_at = excluded.updated_at
	`, rec.PageURL, rec.MediaID, rec.FileName, rec.ExpectedCRC, time.Now().Format(time.RFC3339))

	return err
}

// UpdateStatus sets the status and last error for a target.
func (r *TargetRepository) UpdateStatus(pageURL, status, lastError string) error {
	_, err := r.db.Exec(`UPDATE targets SET status = ?, last_error = ?, updated_at = ? WHERE page_url = ?`,
		status, lastError, time.Now().Format(time.RFC3339), pageURL)

	return err
}

// MarkVerified records that the target's payload passed verification.
func (r *TargetRepository) MarkVerified(pageURL string) error {
	now := time.Now().Format(time.RFC3339)

	_, err := r.db.Exec(`UPDATE targets SET status = ?, last_error = '', verified_at = ?, updated_at = ? WHERE page_url = ?`,
		storage.StatusVerified, now, now, pageURL)

	return err
}

func (r *TargetRepository) GetTargets() ([]storage.TargetRecord, error) {
	rows, err := r.db.Query(`
		SELECT page_url, media_id, file_name, expected_crc, status, attempts, last_error, verified_at, updated_at
		FROM targets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []storage.TargetRecord

	for rows.Next() {
		var (
			record     storage.TargetRecord
			lastError  sql.NullString
			verifiedAt sql.NullString
			updatedAt  sql.NullString
		)

		err := rows.Scan(&record.PageURL, &record.MediaID, &record.FileName, &record.ExpectedCRC,
			&record.Status, &record.Attempts, &lastError, &verifiedAt, &updatedAt)
		if err != nil {
			return nil, err
		}

		record.LastError = lastError.String
		record.VerifiedAt = verifiedAt.String
		record.UpdatedAt = updatedAt.String

		targets = append(targets, record)
	}

	return targets, rows.Err()
}
