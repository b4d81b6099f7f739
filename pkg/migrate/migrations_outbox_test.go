package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pineoslabs/referral-ledger/pkg/migrate"
)

func TestOutboxMigrationContainsSchemas(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_outbox_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no outbox_events migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE event_type_enum AS ENUM",
		"CREATE TYPE aggregate_type_enum AS ENUM",
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE INDEX IF NOT EXISTS ix_outbox_events_unpublished",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate",
		"WHERE event_type IN ('entry_recorded', 'entry_reversed')",
		"DROP TABLE IF EXISTS outbox_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir failed validation: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()

	path, err := migrate.CreateSQLMigration(dir, "Add Reward Expiry!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_reward_expiry.sql") {
		t.Errorf("unexpected filename %q", path)
	}

	if err := migrate.ValidateDir(dir); err != nil {
		t.Errorf("created migration failed validation: %v", err)
	}

	if _, err := migrate.CreateSQLMigration(dir, ""); err == nil {
		t.Error("expected error for empty name")
	}
}
