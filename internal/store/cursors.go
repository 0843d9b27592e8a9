package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/syncer"
)

func (s *PostgresStore) LoadCursor(ctx context.Context, provider comms.Provider) (syncer.Cursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, position, synced_at, status, last_error
		FROM provider_cursors WHERE provider = $1
	`, string(provider))
	cursor, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return syncer.Cursor{Provider: provider, Status: syncer.StatusIdle}, nil
	}
	return cursor, err
}

func (s *PostgresStore) SaveCursor(ctx context.Context, cursor syncer.Cursor) error {
	status := cursor.Status
	if status == "" {
		status = syncer.StatusIdle
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_cursors (provider, position, synced_at, status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (provider) DO UPDATE
			SET position = EXCLUDED.position,
				synced_at = COALESCE(EXCLUDED.synced_at, provider_cursors.synced_at),
				status = EXCLUDED.status,
				last_error = EXCLUDED.last_error,
				updated_at = NOW()
	`, string(cursor.Provider), cursor.Position, cursor.SyncedAt, string(status), cursor.LastError)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", cursor.Provider, err)
	}
	return nil
}

func (s *PostgresStore) ListCursors(ctx context.Context) ([]syncer.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, position, synced_at, status, last_error
		FROM provider_cursors ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []syncer.Cursor
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, cursor)
	}
	return cursors, rows.Err()
}

func scanCursor(row rowScanner) (syncer.Cursor, error) {
	var (
		cursor   syncer.Cursor
		provider string
		status   string
		syncedAt sql.NullTime
	)
	err := row.Scan(&provider, &cursor.Position, &syncedAt, &status, &cursor.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return syncer.Cursor{}, err
	}
	if err != nil {
		return syncer.Cursor{}, fmt.Errorf("scan cursor: %w", err)
	}
	cursor.Provider = comms.Provider(provider)
	cursor.Status = syncer.Status(status)
	cursor.SyncedAt = nullTime(syncedAt)
	return cursor, nil
}

// InsertInbox stores a webhook delivery. A redelivery of the same external id
// is ignored and reported with inserted false.
func (s *PostgresStore) InsertInbox(ctx context.Context, provider comms.Provider, externalID string, payload []byte) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO provider_inbox (provider, external_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, external_id) DO NOTHING
		RETURNING seq
	`, string(provider), externalID, string(payload)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT seq FROM provider_inbox WHERE provider = $1 AND external_id = $2`,
			string(provider), externalID).Scan(&seq)
		if err != nil {
			return 0, false, fmt.Errorf("lookup inbox entry: %w", err)
		}
		return seq, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert inbox entry: %w", err)
	}
	return seq, true, nil
}

// AckInbox marks entries that an earlier ClaimInbox handed out, at or below
// upTo, as synced. Entries that committed after that claim stay pending even
// when their seq is lower.
func (s *PostgresStore) AckInbox(ctx context.Context, provider comms.Provider, upTo int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_inbox
		SET synced_at = NOW()
		WHERE provider = $1 AND seq <= $2 AND fetched_at IS NOT NULL AND synced_at IS NULL
	`, string(provider), upTo)
	if err != nil {
		return fmt.Errorf("ack inbox: %w", err)
	}
	return nil
}

// ClaimInbox returns up to limit entries for provider with seq > after, in seq
// order, and stamps them as fetched. With pendingOnly set, synced entries are
// left out.
func (s *PostgresStore) ClaimInbox(ctx context.Context, provider comms.Provider, after int64, pendingOnly bool, limit int) ([]InboxEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE provider_inbox
		SET fetched_at = NOW()
		WHERE seq IN (
			SELECT seq FROM provider_inbox
			WHERE provider = $1 AND seq > $2 AND (NOT $3 OR synced_at IS NULL)
			ORDER BY seq
			LIMIT $4
		)
		RETURNING seq, provider, external_id, payload, received_at
	`, string(provider), after, pendingOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("claim inbox: %w", err)
	}
	defer rows.Close()

	var entries []InboxEntry
	for rows.Next() {
		var e InboxEntry
		if err := rows.Scan(&e.Seq, &e.Provider, &e.ExternalID, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan inbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}
