package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MigrationStatus reports one up-migration file and whether it was applied.
type MigrationStatus struct {
	Version string `json:"version"`
	Applied bool   `json:"applied"`
}

// ApplyMigrations runs every pending *.up.sql file in lexical order, each in
// its own transaction, and returns the versions it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	statuses, err := Migrations(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, status := range statuses {
		if status.Applied {
			continue
		}
		if err := applyMigration(ctx, db, filepath.Join(migrationsDir, status.Version)); err != nil {
			return applied, err
		}
		applied = append(applied, status.Version)
	}
	return applied, nil
}

// Migrations lists the up-migrations in migrationsDir with their state.
func Migrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]MigrationStatus, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	statuses := make([]MigrationStatus, 0, len(versions))
	for _, version := range versions {
		migrated, err := isMigrated(ctx, db, version)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, MigrationStatus{Version: version, Applied: migrated})
	}
	return statuses, nil
}

func applyMigration(ctx context.Context, db *sql.DB, file string) error {
	version := filepath.Base(file)
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
