package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/assistant"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn against a transaction that commits only when fn returns nil.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx assistant.TxStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (s *PostgresStore) CreateWedding(ctx context.Context, coupleName string, eventDate *time.Time) (Wedding, error) {
	coupleName = strings.TrimSpace(coupleName)
	wedding := Wedding{ID: util.NewID("wed"), CoupleName: coupleName, EventDate: eventDate}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO weddings (id, couple_name, event_date)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, wedding.ID, coupleName, eventDate).Scan(&wedding.CreatedAt)
	if err != nil {
		return Wedding{}, fmt.Errorf("insert wedding: %w", err)
	}
	return wedding, nil
}

func (s *PostgresStore) GetWedding(ctx context.Context, weddingID string) (Wedding, error) {
	var (
		wedding   Wedding
		eventDate sql.NullTime
		handledAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, couple_name, event_date, escalation_handled_at, created_at
		FROM weddings WHERE id = $1
	`, weddingID).Scan(&wedding.ID, &wedding.CoupleName, &eventDate, &handledAt, &wedding.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wedding{}, fmt.Errorf("wedding %s: %w", weddingID, ErrNotFound)
	}
	if err != nil {
		return Wedding{}, fmt.Errorf("get wedding: %w", err)
	}
	wedding.EventDate = nullTime(eventDate)
	wedding.EscalationHandledAt = nullTime(handledAt)
	return wedding, nil
}

func (s *PostgresStore) ListWeddingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM weddings ORDER BY event_date NULLS LAST, id`)
	if err != nil {
		return nil, fmt.Errorf("list weddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wedding id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) AddProfile(ctx context.Context, profile identity.Profile) (identity.Profile, error) {
	if profile.ID == "" {
		profile.ID = util.NewID("prof")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_profiles (id, wedding_id, name, email, phone)
		VALUES ($1, $2, $3, $4, $5)
	`, profile.ID, profile.WeddingID, strings.TrimSpace(profile.Name),
		identity.NormalizeEmail(profile.Email), strings.TrimSpace(profile.Phone))
	if err != nil {
		return identity.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	profile.Email = identity.NormalizeEmail(profile.Email)
	return profile, nil
}

// ListProfiles returns every registered profile across weddings.
func (s *PostgresStore) ListProfiles(ctx context.Context) ([]identity.Profile, error) {
	return s.listProfiles(ctx, "")
}

func (s *PostgresStore) ListWeddingProfiles(ctx context.Context, weddingID string) ([]identity.Profile, error) {
	return s.listProfiles(ctx, weddingID)
}

func (s *PostgresStore) listProfiles(ctx context.Context, weddingID string) ([]identity.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wedding_id, name, email, phone
		FROM client_profiles
		WHERE $1 = '' OR wedding_id = $1
		ORDER BY created_at, id
	`, weddingID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []identity.Profile
	for rows.Next() {
		var p identity.Profile
		if err := rows.Scan(&p.ID, &p.WeddingID, &p.Name, &p.Email, &p.Phone); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *PostgresStore) AppendActivity(ctx context.Context, entry activity.Entry) error {
	if entry.ID == "" {
		entry.ID = util.NewID("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, kind, provider, wedding_id, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, string(entry.Kind), entry.Provider, entry.WeddingID, entry.Summary, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, weddingID string, limit int) ([]activity.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, provider, wedding_id, summary, created_at
		FROM activity_log
		WHERE $1 = '' OR wedding_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, weddingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var (
			entry activity.Entry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.Provider, &entry.WeddingID, &entry.Summary, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.Kind = activity.Kind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// EscalationHandledAt returns the wedding's escalation cursor, nil if never
// handled.
func (s *PostgresStore) EscalationHandledAt(ctx context.Context, weddingID string) (*time.Time, error) {
	var handledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT escalation_handled_at FROM weddings WHERE id = $1`, weddingID).Scan(&handledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wedding %s: %w", weddingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read escalation cursor: %w", err)
	}
	return nullTime(handledAt), nil
}

func (s *PostgresStore) MarkEscalationHandled(ctx context.Context, weddingID string, at time.Time) (time.Time, error) {
	var stored time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE weddings
		SET escalation_handled_at = GREATEST(COALESCE(escalation_handled_at, $2), $2)
		WHERE id = $1
		RETURNING escalation_handled_at
	`, weddingID, at).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("wedding %s: %w", weddingID, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("update escalation cursor: %w", err)
	}
	return stored.UTC(), nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
