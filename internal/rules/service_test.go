package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/errors"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupRulesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:rules_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS rules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  rule_json TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  entry_type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  reward_id TEXT,
  reward_status TEXT,
  idempotency_key TEXT NOT NULL,
  related_entry_id TEXT,
  audit_data TEXT,
  created_at DATETIME
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_idempotency_key ON ledger_entries (idempotency_key);`,
		`CREATE TABLE IF NOT EXISTS user_balances (
  user_id TEXT PRIMARY KEY,
  balance_cents INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	t.Cleanup(func() {
		conn.Exec("DELETE FROM rules")
		conn.Exec("DELETE FROM ledger_entries")
		conn.Exec("DELETE FROM user_balances")
		conn.Exec("DELETE FROM outbox_events")
	})

	return conn
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	conn := setupRulesTestDB(t)
	events := outbox.NewService(outbox.NewRepository(conn), nil)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Tx:             testTxRunner{db: conn},
		Repo:           ledger.NewRepository(conn),
		Events:         events,
		MaxAmountCents: 1_000_000,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Ledger: ledgerSvc,
		Tx:     testTxRunner{db: conn},
		Events: events,
	})
	require.NoError(t, err)

	return svc, conn
}

func referralBonusDefinition() json.RawMessage {
	return json.RawMessage(`{
		"conditions": [
			{"field": "referrer.is_paid_user", "operator": "==", "value": true},
			{"field": "referred.subscription_status", "operator": "==", "value": "active"}
		],
		"actions": [
			{"type": "credit", "user": "referrer_id", "amount_cents": 50000, "reward_id": "referral_bonus"}
		],
		"logic": "AND"
	}`)
}

func conversionEvent() map[string]any {
	return map[string]any{
		"event_id":    "evt-1",
		"referrer_id": "user-77",
		"referrer":    map[string]any{"is_paid_user": true},
		"referred":    map[string]any{"subscription_status": "active"},
	}
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, CreateRuleInput{Definition: referralBonusDefinition()})
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeValidation))

	_, err = svc.CreateRule(ctx, CreateRuleInput{
		Name:       "bad operator",
		Definition: json.RawMessage(`{"conditions": [{"field": "x", "operator": "~=", "value": 1}], "actions": [{"type": "credit", "user": "u", "amount_cents": 1}]}`),
	})
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeValidation))

	rule, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "Paid User Referral Bonus",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)
	require.True(t, rule.IsActive)
	require.NotEqual(t, uuid.Nil, rule.ID)
}

func TestGetRuleNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetRule(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestDeactivateRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "Paid User Referral Bonus",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)

	retired, err := svc.DeactivateRule(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, retired.IsActive)

	// repeat deactivation is a no-op, not an error
	retired, err = svc.DeactivateRule(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, retired.IsActive)

	active, err := svc.ListRules(ctx, true)
	require.NoError(t, err)
	for _, r := range active {
		require.NotEqual(t, rule.ID, r.ID)
	}

	_, err = svc.DeactivateRule(ctx, uuid.New())
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestEvaluateEventCreditsReferrer(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "Paid User Referral Bonus",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)

	evaluation, err := svc.EvaluateEvent(ctx, EvaluateInput{Event: conversionEvent()})
	require.NoError(t, err)
	require.Equal(t, 1, evaluation.RulesEvaluated)
	require.Equal(t, 1, evaluation.RulesTriggered)

	outcome := evaluation.Results[0]
	require.Equal(t, rule.ID, outcome.RuleID)
	require.True(t, outcome.ConditionsMet)
	require.Len(t, outcome.Actions, 1)

	action := outcome.Actions[0]
	require.True(t, action.Success)
	require.False(t, action.Duplicate)
	require.Equal(t, "user-77", action.UserID)
	require.NotNil(t, action.EntryID)

	var entry models.LedgerEntry
	require.NoError(t, conn.Where("id = ?", action.EntryID).First(&entry).Error)
	require.Equal(t, enums.EntryTypeCredit, entry.EntryType)
	require.Equal(t, int64(50000), entry.AmountCents)
	require.NotNil(t, entry.RewardStatus)
	require.Equal(t, enums.RewardStatusConfirmed, *entry.RewardStatus)

	var balance models.UserBalance
	require.NoError(t, conn.Where("user_id = ?", "user-77").First(&balance).Error)
	require.Equal(t, int64(50000), balance.BalanceCents)

	var triggered int64
	require.NoError(t, conn.Table("outbox_events").
		Where("event_type = ?", enums.EventRuleTriggered).
		Count(&triggered).Error)
	require.Equal(t, int64(1), triggered)
}

func TestEvaluateEventReplaySameEvent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "Paid User Referral Bonus",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)

	first, err := svc.EvaluateEvent(ctx, EvaluateInput{Event: conversionEvent()})
	require.NoError(t, err)
	require.False(t, first.Results[0].Actions[0].Duplicate)

	second, err := svc.EvaluateEvent(ctx, EvaluateInput{Event: conversionEvent()})
	require.NoError(t, err)
	require.True(t, second.Results[0].Actions[0].Duplicate)

	var balance models.UserBalance
	require.NoError(t, conn.Where("user_id = ?", "user-77").First(&balance).Error)
	require.Equal(t, int64(50000), balance.BalanceCents)

	var count int64
	require.NoError(t, conn.Table("ledger_entries").Count(&count).Error)
	require.Equal(t, int64(1), count)

	// a replayed credit does not re-announce the trigger
	var triggered int64
	require.NoError(t, conn.Table("outbox_events").
		Where("event_type = ?", enums.EventRuleTriggered).
		Count(&triggered).Error)
	require.Equal(t, int64(1), triggered)
}

func TestEvaluateEventFiltersAndSkipsInactive(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	active, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "active",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)

	dormant, err := svc.CreateRule(ctx, CreateRuleInput{
		Name:       "dormant",
		Definition: referralBonusDefinition(),
	})
	require.NoError(t, err)
	require.NoError(t, NewRepository(conn).SetActive(ctx, dormant.ID, false))

	all, err := svc.EvaluateEvent(ctx, EvaluateInput{Event: conversionEvent()})
	require.NoError(t, err)
	require.Equal(t, 1, all.RulesEvaluated)
	require.Equal(t, active.ID, all.Results[0].RuleID)

	pinned, err := svc.EvaluateEvent(ctx, EvaluateInput{
		RuleID: &dormant.ID,
		Event:  conversionEvent(),
	})
	require.NoError(t, err)
	require.Equal(t, 0, pinned.RulesEvaluated)
}

func TestEvaluateEventMissingUserField(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, CreateRuleInput{
		Name: "no conditions",
		Definition: json.RawMessage(`{
			"actions": [{"type": "credit", "user": "missing_field", "amount_cents": 100, "reward_id": "r"}]
		}`),
	})
	require.NoError(t, err)

	evaluation, err := svc.EvaluateEvent(ctx, EvaluateInput{
		Event: map[string]any{"event_id": "evt-2"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, evaluation.RulesTriggered)

	action := evaluation.Results[0].Actions[0]
	require.False(t, action.Success)
	require.NotEmpty(t, action.Error)

	var count int64
	require.NoError(t, conn.Table("ledger_entries").Count(&count).Error)
	require.Equal(t, int64(0), count)
}
