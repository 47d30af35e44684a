package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/certledger-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestBundledMigrationsMatchDir(t *testing.T) {
	fsys, err := migrate.Source("")
	if err != nil {
		t.Fatalf("bundled source: %v", err)
	}
	if err := migrate.ValidateFS(fsys); err != nil {
		t.Fatalf("validate bundled: %v", err)
	}
	bundled, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		t.Fatalf("glob bundled: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob dir: %v", err)
	}
	if len(bundled) != len(onDisk) || len(bundled) != 3 {
		t.Fatalf("expected 3 bundled migrations matching disk, got %d bundled and %d on disk", len(bundled), len(onDisk))
	}
}

func TestValidateRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20260301090000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected unbalanced statement markers to fail validation")
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := migrate.ParseVersion("20260301090100"); err != nil || v != 20260301090100 {
		t.Fatalf("unexpected parse result %d %v", v, err)
	}
	if _, err := migrate.ParseVersion("2026-03-01"); err == nil {
		t.Fatal("expected malformed version to fail")
	}
}

func TestCertificatesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_certificates_table.sql")

	checks := []string{
		"CREATE TYPE certificate_status AS ENUM ('provisional', 'issued', 'verified', 'revoked', 'failed')",
		"CREATE TYPE ledger_origin AS ENUM ('ledger', 'fallback')",
		"CREATE TABLE IF NOT EXISTS certificates",
		"id                  varchar(32) PRIMARY KEY",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_certificates_content_fingerprint",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_certificates_ledger_reference",
		"certificates_verification_count_nonnegative",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLogMigrationsContainEnums(t *testing.T) {
	verification := readMigration(t, "*_create_verification_logs_table.sql")
	for _, sub := range []string{
		"CREATE TYPE verification_method AS ENUM ('id', 'ledgerHash', 'qrPayload', 'transactionHash')",
		"CREATE TABLE IF NOT EXISTS verification_logs",
	} {
		if !strings.Contains(verification, sub) {
			t.Errorf("verification logs: missing %q", sub)
		}
	}

	email := readMigration(t, "*_create_email_logs_table.sql")
	for _, sub := range []string{
		"CREATE TYPE email_status AS ENUM ('pending', 'sent', 'failed')",
		"attachments    jsonb NULL",
	} {
		if !strings.Contains(email, sub) {
			t.Errorf("email logs: missing %q", sub)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Revocation Index!", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_revocation_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestCreateSQLMigrationSortsAfterExisting(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	first, err := migrate.CreateSQLMigration(dir, "first", at)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := migrate.CreateSQLMigration(dir, "second", at)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if filepath.Base(first) != "20260302100000_first.sql" {
		t.Fatalf("unexpected first name %s", first)
	}
	if filepath.Base(second) != "20260302100001_second.sql" {
		t.Fatalf("expected bumped version, got %s", second)
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
