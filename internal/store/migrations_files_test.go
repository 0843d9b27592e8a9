package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(migrationsDir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestMigrationsComeInPairs(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	pattern := regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)
	pairs := map[string]int{}
	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		pairs[match[1]]++
	}
	if len(pairs) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, count := range pairs {
		if count != 2 {
			t.Fatalf("version %s has %d files, want an up and a down", version, count)
		}
	}
}

func TestPipelineMigrationCoversEveryTable(t *testing.T) {
	up := readMigration(t, "0001_pipeline.up.sql")
	down := readMigration(t, "0001_pipeline.down.sql")

	tables := []string{
		"weddings", "client_profiles", "communications", "planning_notes",
		"uncertain_questions", "knowledge_base", "provider_cursors",
		"provider_inbox", "activity_log",
	}
	for _, table := range tables {
		if !strings.Contains(up, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("up migration does not create %s", table)
		}
		if !strings.Contains(down, "DROP TABLE IF EXISTS "+table+";") {
			t.Fatalf("down migration does not drop %s", table)
		}
	}

	// dependents must be dropped before weddings
	if strings.Index(down, "DROP TABLE IF EXISTS weddings;") < strings.Index(down, "DROP TABLE IF EXISTS planning_notes;") {
		t.Fatal("weddings dropped before planning_notes")
	}
}

func TestActiveNoteUniqueIndexExcludesDismissed(t *testing.T) {
	up := readMigration(t, "0001_pipeline.up.sql")
	idx := strings.Index(up, "CREATE UNIQUE INDEX IF NOT EXISTS uq_planning_notes_active")
	if idx < 0 {
		t.Fatal("missing active note unique index")
	}
	stmt := up[idx:]
	if end := strings.Index(stmt, ";"); end >= 0 {
		stmt = stmt[:end]
	}
	if !strings.Contains(stmt, "WHERE status IN ('pending', 'added', 'confirmed')") || strings.Contains(stmt, "dismissed") {
		t.Fatalf("unique index must be partial over live notes only: %s", stmt)
	}
}
