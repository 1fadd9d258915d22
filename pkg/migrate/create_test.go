package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSQLMigrationBumpsPastNewestVersion(t *testing.T) {
	dir := t.TempDir()
	frozen := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	if err := os.WriteFile(filepath.Join(dir, "20260301090400_create_outbox_events_table.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := createSQLMigration(dir, "add refund notes", frozen)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := createSQLMigration(dir, "index payments by user", frozen)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if filepath.Base(first) != "20260301090401_add_refund_notes.sql" {
		t.Fatalf("unexpected first file %s", filepath.Base(first))
	}
	if filepath.Base(second) != "20260301090402_index_payments_by_user.sql" {
		t.Fatalf("unexpected second file %s", filepath.Base(second))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migrations should validate: %v", err)
	}
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	if _, err := CreateSQLMigration(t.TempDir(), " !! "); err == nil || !strings.Contains(err.Error(), "no usable characters") {
		t.Fatalf("expected name error, got %v", err)
	}
	if _, err := CreateSQLMigration("", "x"); err == nil {
		t.Fatal("expected dir error")
	}
}
