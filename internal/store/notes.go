package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/notes"
)

const noteColumns = `id, wedding_id, category, content, excerpt, content_key, source_provider,
	COALESCE(source_record_id, ''), status, created_at, updated_at`

func (s *PostgresStore) FindActiveNote(ctx context.Context, weddingID string, category notes.Category, contentKey string) (notes.Note, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM planning_notes
		WHERE wedding_id = $1 AND category = $2 AND content_key = $3
			AND status IN ('pending', 'added', 'confirmed')
	`, weddingID, string(category), contentKey)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Note{}, false, nil
	}
	if err != nil {
		return notes.Note{}, false, err
	}
	return note, true, nil
}

// InsertNote reports false when the active-note index already holds the fact.
func (s *PostgresStore) InsertNote(ctx context.Context, note notes.Note) (bool, error) {
	var sourceRecord any
	if note.SourceRecordID != "" {
		sourceRecord = note.SourceRecordID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO planning_notes (
			id, wedding_id, category, content, excerpt, content_key,
			source_provider, source_record_id, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wedding_id, category, content_key)
			WHERE status IN ('pending', 'added', 'confirmed')
			DO NOTHING
	`, note.ID, note.WeddingID, string(note.Category), note.Content, note.Excerpt, note.ContentKey,
		string(note.SourceProvider), sourceRecord, string(note.Status), note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert planning note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert planning note: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (notes.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM planning_notes WHERE id = $1`, noteID)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Note{}, fmt.Errorf("note %s: %w", noteID, ErrNotFound)
	}
	return note, err
}

// SetNoteStatus is a compare-and-set on the current status. Reopening into a
// slot already taken by an equivalent note returns notes.ErrDuplicateNote.
func (s *PostgresStore) SetNoteStatus(ctx context.Context, noteID string, from, to notes.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE planning_notes SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, noteID, string(from), string(to), at)
	if isUniqueViolation(err) {
		return false, notes.ErrDuplicateNote
	}
	if err != nil {
		return false, fmt.Errorf("update note status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update note status: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, weddingID string, status notes.Status) ([]notes.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM planning_notes
		WHERE wedding_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY category, created_at
	`, weddingID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list planning notes: %w", err)
	}
	defer rows.Close()

	var out []notes.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (notes.Note, error) {
	var (
		note     notes.Note
		category string
		provider string
		status   string
	)
	err := row.Scan(&note.ID, &note.WeddingID, &category, &note.Content, &note.Excerpt, &note.ContentKey,
		&provider, &note.SourceRecordID, &status, &note.CreatedAt, &note.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Note{}, err
	}
	if err != nil {
		return notes.Note{}, fmt.Errorf("scan planning note: %w", err)
	}
	note.Category = notes.Category(category)
	note.SourceProvider = comms.Provider(provider)
	note.Status = notes.Status(status)
	return note, nil
}
