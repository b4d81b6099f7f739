package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/errors"
)

const auditHashField = "request_hash"

// requestHash fingerprints an operation's payload. The payload is
// round-tripped through encoding/json so map keys serialize sorted and the
// hash is stable regardless of field order on the way in.
func requestHash(operation string, payload any) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"operation": operation,
		"request":   payload,
	})
	if err != nil {
		return "", err
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// auditData builds the immutable audit blob stored on each entry. Caller
// metadata comes first so the reserved fields always win.
func auditData(metadata map[string]any, hash, operation string, extra map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(metadata)+len(extra)+3)
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	merged[auditHashField] = hash
	merged["operation"] = operation
	merged["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return json.Marshal(merged)
}

func storedRequestHash(entry *models.LedgerEntry) string {
	if entry == nil || len(entry.AuditData) == 0 {
		return ""
	}
	var audit map[string]any
	if err := json.Unmarshal(entry.AuditData, &audit); err != nil {
		return ""
	}
	hash, _ := audit[auditHashField].(string)
	return hash
}

// resolveReplay decides what a repeated idempotency key means. A matching
// request hash is a duplicate and returns the prior entry; a different hash
// is a key reuse and gets rejected.
func resolveReplay(entry *models.LedgerEntry, hash string) (*Result, error) {
	if entry == nil {
		return nil, nil
	}
	if storedRequestHash(entry) == hash {
		return &Result{Entry: entry, Duplicate: true}, nil
	}
	return nil, errors.New(errors.CodeIdempotency, "idempotency key already used with a different request").
		WithDetails(map[string]any{
			"idempotency_key":   entry.IdempotencyKey,
			"existing_entry_id": entry.ID.String(),
		})
}
