package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMigrationsPairsUpAndDown(t *testing.T) {
	migrations, err := loadMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if i > 0 && migrations[i-1].version >= m.version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].version, m.version)
		}
		if !strings.HasSuffix(m.up, ".up.sql") || !strings.HasSuffix(m.down, ".down.sql") {
			t.Fatalf("unexpected files for %s: %+v", m.version, m)
		}
	}
}

func TestLoadMigrationsRejectsMissingDown(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"0001_a.up.sql":   "SELECT 1;",
		"0001_a.down.sql": "SELECT 1;",
		"0002_b.up.sql":   "SELECT 1;",
		"README.md":       "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := loadMigrations(dir); err == nil || !strings.Contains(err.Error(), "0002_b") {
		t.Fatalf("loadMigrations() error = %v, want missing down for 0002_b", err)
	}
}

func TestSearchMigrationAddsGeneratedTSVector(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0002_forum_posts_fts.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, snippet := range []string{"GENERATED ALWAYS AS", "USING GIN (fts)", "document->>'title'"} {
		if !strings.Contains(string(sqlBytes), snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
