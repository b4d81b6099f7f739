package enums

import "fmt"

// EntryType maps to the entry_type enum in Postgres.
type EntryType string

const (
	EntryTypeCredit   EntryType = "credit"
	EntryTypeDebit    EntryType = "debit"
	EntryTypeReversal EntryType = "reversal"
)

var validEntryTypes = []EntryType{
	EntryTypeCredit,
	EntryTypeDebit,
	EntryTypeReversal,
}

// IsValid reports whether the value matches the canonical entry_type enum.
func (e EntryType) IsValid() bool {
	for _, candidate := range validEntryTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// Reversible reports whether entries of this type may be reversed. Reversals
// themselves are terminal.
func (e EntryType) Reversible() bool {
	return e == EntryTypeCredit || e == EntryTypeDebit
}

// ParseEntryType converts raw input into EntryType.
func ParseEntryType(value string) (EntryType, error) {
	for _, candidate := range validEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entry type %q", value)
}
