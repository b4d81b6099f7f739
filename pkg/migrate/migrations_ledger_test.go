package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLedgerEntriesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_ledger_entries.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no ledger_entries migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE entry_type_enum AS ENUM",
		"CREATE TYPE reward_status_enum AS ENUM",
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"CHECK (amount_cents > 0)",
		"FOREIGN KEY (related_entry_id) REFERENCES ledger_entries(id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_idempotency_key",
		"CREATE INDEX IF NOT EXISTS ix_ledger_entries_user_id",
		"DROP TABLE IF EXISTS ledger_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestUserBalancesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_user_balances.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no user_balances migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS user_balances",
		"CHECK (balance_cents >= 0)",
		"version BIGINT NOT NULL DEFAULT 1",
		"DROP TABLE IF EXISTS user_balances",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
