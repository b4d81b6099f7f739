package db

import (
	"errors"
	"testing"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name: "postgres message with constraint",
			err:  errors.New(`ERROR: duplicate key value violates unique constraint "ux_ledger_entries_idempotency_key" (SQLSTATE 23505)`),
			want: true,
		},
		{
			name:       "constraint name match",
			err:        errors.New(`constraint failed: ux_ledger_entries_idempotency_key`),
			constraint: "ux_ledger_entries_idempotency_key",
			want:       true,
		},
		{
			name: "sqlite message",
			err:  errors.New("UNIQUE constraint failed: ledger_entries.idempotency_key"),
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("IsUniqueViolation() = %v, want %v", got, tc.want)
			}
		})
	}
}
