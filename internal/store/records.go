package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/syncer"
)

// SaveRecord inserts a communication once per (provider, external_id). A repeat
// delivery keeps the stored row but fills in a wedding that was missing.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec comms.Record) (syncer.Stored, error) {
	var (
		id        string
		weddingID string
		extracted bool
		inserted  bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO communications (
			id, provider, external_id, wedding_id, contact_email, contact_phone,
			contact_name, direction, body, occurred_at, attachment_ref, client_text
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider, external_id) DO UPDATE
			SET wedding_id = COALESCE(communications.wedding_id, EXCLUDED.wedding_id)
		RETURNING id, COALESCE(wedding_id, ''), extracted_at IS NOT NULL, (xmax = 0)
	`, rec.ID, string(rec.Provider), rec.ExternalID, rec.WeddingID, rec.ContactEmail, rec.ContactPhone,
		rec.ContactName, string(rec.Direction), rec.Body, rec.OccurredAt, rec.AttachmentRef, rec.ClientText,
	).Scan(&id, &weddingID, &extracted, &inserted)
	if err != nil {
		return syncer.Stored{}, fmt.Errorf("upsert communication: %w", err)
	}
	rec.ID = id
	rec.WeddingID = weddingID
	return syncer.Stored{Record: rec, Inserted: inserted, Extracted: extracted}, nil
}

func (s *PostgresStore) MarkExtracted(ctx context.Context, recordID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE communications SET extracted_at = $2 WHERE id = $1`, recordID, at); err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return nil
}

// ClientRecordsSince returns records that can carry the client's words:
// inbound messages and speaker-attributed transcripts in either direction.
func (s *PostgresStore) ClientRecordsSince(ctx context.Context, weddingID string, since time.Time) ([]comms.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM communications
		WHERE wedding_id = $1 AND (direction = 'inbound' OR client_text IS NOT NULL) AND occurred_at >= $2
		ORDER BY occurred_at
	`, weddingID, since)
}

// ListRecords returns a wedding's most recent communications, newest first.
func (s *PostgresStore) ListRecords(ctx context.Context, weddingID string, limit int) ([]comms.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM communications
		WHERE wedding_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, weddingID, limit)
}

const recordColumns = `id, provider, external_id, COALESCE(wedding_id, ''), contact_email, contact_phone,
	contact_name, direction, body, occurred_at, attachment_ref, client_text`

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]comms.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query communications: %w", err)
	}
	defer rows.Close()

	var records []comms.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (comms.Record, error) {
	var (
		rec       comms.Record
		provider  string
		direction  string
		clientText sql.NullString
	)
	if err := rows.Scan(&rec.ID, &provider, &rec.ExternalID, &rec.WeddingID, &rec.ContactEmail, &rec.ContactPhone,
		&rec.ContactName, &direction, &rec.Body, &rec.OccurredAt, &rec.AttachmentRef, &clientText); err != nil {
		return comms.Record{}, fmt.Errorf("scan communication: %w", err)
	}
	if clientText.Valid {
		rec.ClientText = &clientText.String
	}
	rec.Provider = comms.Provider(provider)
	rec.Direction = comms.Direction(direction)
	rec.OccurredAt = rec.OccurredAt.UTC()
	return rec, nil
}
