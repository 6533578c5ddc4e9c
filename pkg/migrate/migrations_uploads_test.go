package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sabobeh/lectureweaver-backend/pkg/migrate"
)

func TestUploadsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_uploads.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no uploads migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS uploads",
		"CHECK (status IN ('pending', 'processing', 'completed', 'error'))",
		"CHECK (ssh_status IN ('idle', 'pending', 'transferring', 'completed', 'error'))",
		"CHECK (ssh_progress >= 0 AND ssh_progress <= 100)",
		"storage_path TEXT NOT NULL UNIQUE",
		"DROP TABLE IF EXISTS uploads",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}
