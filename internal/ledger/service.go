package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/pineoslabs/referral-ledger/pkg/db"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/errors"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/metrics"
	"github.com/pineoslabs/referral-ledger/pkg/money"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/outbox/payloads"
)

const (
	opCredit   = "credit"
	opDebit    = "debit"
	opReversal = "reversal"
)

const idempotencyConstraint = "ux_ledger_entries_idempotency_key"

// Service defines the ledger write and read operations.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (*Result, error)
	Debit(ctx context.Context, input DebitInput) (*Result, error)
	Reverse(ctx context.Context, input ReverseInput) (*Result, error)
	GetBalance(ctx context.Context, userID string) (*models.UserBalance, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]models.LedgerEntry, error)
}

// TxRunner abstracts transactional execution so the engine can run against
// the shared DB client or a test database.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the engine's dependencies.
type ServiceParams struct {
	Tx             TxRunner
	Repo           Repository
	Events         *outbox.Service
	Metrics        *metrics.LedgerMetrics
	Logger         *logger.Logger
	MaxAmountCents int64
}

type service struct {
	tx        TxRunner
	repo      Repository
	events    *outbox.Service
	metrics   *metrics.LedgerMetrics
	logg      *logger.Logger
	maxAmount money.Cents
}

// NewService wires a ledger engine with the provided dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &service{
		tx:        p.Tx,
		repo:      p.Repo,
		events:    p.Events,
		metrics:   p.Metrics,
		logg:      p.Logger,
		maxAmount: money.Cents(p.MaxAmountCents),
	}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*Result, error) {
	start := time.Now()
	result, err := s.credit(ctx, input)
	s.observe(opCredit, start, result, err)
	return result, err
}

func (s *service) credit(ctx context.Context, input CreditInput) (*Result, error) {
	if err := validateWrite(input.UserID, input.AmountCents, input.IdempotencyKey, s.maxAmount); err != nil {
		return nil, err
	}
	if input.RewardStatus != nil && !input.RewardStatus.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid reward status %q", *input.RewardStatus))
	}

	hash, err := requestHash(opCredit, input)
	if err != nil {
		return nil, err
	}
	if replay, err := s.checkReplay(ctx, input.IdempotencyKey, hash); replay != nil || err != nil {
		return replay, err
	}

	status := input.RewardStatus
	if status == nil {
		pending := enums.RewardStatusPending
		status = &pending
	}

	var result *Result
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, err := repo.GetBalanceForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}

		audit, err := auditData(input.Metadata, hash, opCredit, nil)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			ID:             uuid.New(),
			UserID:         input.UserID,
			EntryType:      enums.EntryTypeCredit,
			AmountCents:    input.AmountCents,
			RewardID:       input.RewardID,
			RewardStatus:   status,
			IdempotencyKey: input.IdempotencyKey,
			AuditData:      audit,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return err
		}

		balance.BalanceCents += input.AmountCents
		balance.Version++
		if err := repo.SaveBalance(ctx, balance); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntryRecorded,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Actor:         input.Actor,
			Data: payloads.EntryRecordedEvent{
				EntryID:        entry.ID,
				UserID:         entry.UserID,
				EntryType:      entry.EntryType,
				AmountCents:    entry.AmountCents,
				BalanceCents:   balance.BalanceCents,
				RewardID:       entry.RewardID,
				IdempotencyKey: entry.IdempotencyKey,
			},
		}); err != nil {
			return err
		}

		result = &Result{Entry: entry, BalanceCents: balance.BalanceCents}
		return nil
	})
	if txErr != nil {
		return s.recoverRace(ctx, input.IdempotencyKey, hash, txErr)
	}

	s.logWrite(ctx, result, opCredit)
	return result, nil
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*Result, error) {
	start := time.Now()
	result, err := s.debit(ctx, input)
	s.observe(opDebit, start, result, err)
	return result, err
}

func (s *service) debit(ctx context.Context, input DebitInput) (*Result, error) {
	if err := validateWrite(input.UserID, input.AmountCents, input.IdempotencyKey, s.maxAmount); err != nil {
		return nil, err
	}

	hash, err := requestHash(opDebit, input)
	if err != nil {
		return nil, err
	}
	if replay, err := s.checkReplay(ctx, input.IdempotencyKey, hash); replay != nil || err != nil {
		return replay, err
	}

	var result *Result
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, err := repo.GetBalanceForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		if balance.BalanceCents < input.AmountCents {
			return insufficientBalance(balance.BalanceCents, input.AmountCents)
		}

		audit, err := auditData(input.Metadata, hash, opDebit, nil)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			ID:             uuid.New(),
			UserID:         input.UserID,
			EntryType:      enums.EntryTypeDebit,
			AmountCents:    input.AmountCents,
			IdempotencyKey: input.IdempotencyKey,
			AuditData:      audit,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return err
		}

		balance.BalanceCents -= input.AmountCents
		balance.Version++
		if err := repo.SaveBalance(ctx, balance); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntryRecorded,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Actor:         input.Actor,
			Data: payloads.EntryRecordedEvent{
				EntryID:        entry.ID,
				UserID:         entry.UserID,
				EntryType:      entry.EntryType,
				AmountCents:    entry.AmountCents,
				BalanceCents:   balance.BalanceCents,
				IdempotencyKey: entry.IdempotencyKey,
			},
		}); err != nil {
			return err
		}

		result = &Result{Entry: entry, BalanceCents: balance.BalanceCents}
		return nil
	})
	if txErr != nil {
		return s.recoverRace(ctx, input.IdempotencyKey, hash, txErr)
	}

	s.logWrite(ctx, result, opDebit)
	return result, nil
}

func (s *service) Reverse(ctx context.Context, input ReverseInput) (*Result, error) {
	start := time.Now()
	result, err := s.reverse(ctx, input)
	s.observe(opReversal, start, result, err)
	return result, err
}

func (s *service) reverse(ctx context.Context, input ReverseInput) (*Result, error) {
	if input.EntryID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "entry id is required")
	}
	if input.IdempotencyKey == "" {
		return nil, errors.New(errors.CodeValidation, "idempotency key is required")
	}

	hash, err := requestHash(opReversal, input)
	if err != nil {
		return nil, err
	}
	if replay, err := s.checkReplay(ctx, input.IdempotencyKey, hash); replay != nil || err != nil {
		return replay, err
	}

	var result *Result
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		original, err := repo.FindEntryByID(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original == nil {
			return errors.New(errors.CodeNotFound, "ledger entry not found")
		}
		if !original.EntryType.Reversible() {
			return errors.New(errors.CodeStateConflict, "entry type cannot be reversed").
				WithDetails(map[string]any{"entry_type": original.EntryType})
		}

		// lock the balance before checking for an existing reversal so
		// concurrent reversals of the same entry serialize here
		balance, err := repo.GetBalanceForUpdate(ctx, original.UserID)
		if err != nil {
			return err
		}

		existing, err := repo.FindReversalOf(ctx, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.New(errors.CodeStateConflict, "entry already reversed").
				WithDetails(map[string]any{"reversal_entry_id": existing.ID.String()})
		}

		switch original.EntryType {
		case enums.EntryTypeCredit:
			if balance.BalanceCents < original.AmountCents {
				return insufficientBalance(balance.BalanceCents, original.AmountCents)
			}
			balance.BalanceCents -= original.AmountCents
		case enums.EntryTypeDebit:
			balance.BalanceCents += original.AmountCents
		}
		balance.Version++

		var status *enums.RewardStatus
		if original.RewardStatus != nil {
			reversed := enums.RewardStatusReversed
			status = &reversed
		}

		audit, err := auditData(input.Metadata, hash, opReversal, map[string]any{
			"original_entry_id":   original.ID.String(),
			"original_entry_type": original.EntryType,
			"reason":              input.Reason,
		})
		if err != nil {
			return err
		}
		relatedID := original.ID
		entry := &models.LedgerEntry{
			ID:             uuid.New(),
			UserID:         original.UserID,
			EntryType:      enums.EntryTypeReversal,
			AmountCents:    original.AmountCents,
			RewardID:       original.RewardID,
			RewardStatus:   status,
			IdempotencyKey: input.IdempotencyKey,
			RelatedEntryID: &relatedID,
			AuditData:      audit,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return err
		}
		if err := repo.SaveBalance(ctx, balance); err != nil {
			return err
		}

		if err := s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntryReversed,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   original.ID,
			Actor:         input.Actor,
			Data: payloads.EntryReversedEvent{
				ReversalEntryID: entry.ID,
				OriginalEntryID: original.ID,
				UserID:          entry.UserID,
				AmountCents:     entry.AmountCents,
				BalanceCents:    balance.BalanceCents,
			},
		}); err != nil {
			return err
		}

		result = &Result{Entry: entry, BalanceCents: balance.BalanceCents}
		return nil
	})
	if txErr != nil {
		return s.recoverRace(ctx, input.IdempotencyKey, hash, txErr)
	}

	s.logWrite(ctx, result, opReversal)
	return result, nil
}

// GetBalance returns the user's balance, defaulting to a zero balance for
// users the ledger has never seen. The zero row is not persisted.
func (s *service) GetBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	if userID == "" {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &models.UserBalance{UserID: userID, BalanceCents: 0, Version: 1}, nil
	}
	return balance, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (s *service) ListEntries(ctx context.Context, filter ListFilter) ([]models.LedgerEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListEntries(ctx, filter)
}

// checkReplay answers the request from an existing entry when the
// idempotency key has been seen before.
func (s *service) checkReplay(ctx context.Context, key, hash string) (*Result, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	replay, err := resolveReplay(existing, hash)
	if err != nil || replay == nil {
		return nil, err
	}
	return s.attachBalance(ctx, replay)
}

// recoverRace handles the insert race on the idempotency key: the loser
// re-reads the winner's row and resolves it like any other replay.
func (s *service) recoverRace(ctx context.Context, key, hash string, txErr error) (*Result, error) {
	if !dbpkg.IsUniqueViolation(txErr, idempotencyConstraint) {
		return nil, txErr
	}
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	replay, err := resolveReplay(existing, hash)
	if err != nil {
		return nil, err
	}
	if replay == nil {
		return nil, txErr
	}
	return s.attachBalance(ctx, replay)
}

func (s *service) attachBalance(ctx context.Context, result *Result) (*Result, error) {
	balance, err := s.repo.FindBalance(ctx, result.Entry.UserID)
	if err != nil {
		return nil, err
	}
	if balance != nil {
		result.BalanceCents = balance.BalanceCents
	}
	return result, nil
}

func (s *service) observe(operation string, start time.Time, result *Result, err error) {
	s.metrics.ObserveDuration(operation, time.Since(start))
	switch {
	case err != nil:
		s.metrics.IncOperation(operation, errorOutcome(err))
	case result != nil && result.Duplicate:
		s.metrics.IncOperation(operation, "duplicate")
		s.metrics.IncDuplicate(operation)
	default:
		s.metrics.IncOperation(operation, "success")
	}
}

func (s *service) logWrite(ctx context.Context, result *Result, operation string) {
	if s.logg == nil || result == nil || result.Entry == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"operation":     operation,
		"entry_id":      result.Entry.ID.String(),
		"user_id":       result.Entry.UserID,
		"amount_cents":  result.Entry.AmountCents,
		"balance_cents": result.BalanceCents,
	})
	s.logg.Info(logCtx, "ledger entry recorded")
}

func validateWrite(userID string, amountCents int64, idempotencyKey string, maxAmount money.Cents) error {
	if userID == "" {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if idempotencyKey == "" {
		return errors.New(errors.CodeValidation, "idempotency key is required")
	}
	if err := money.ValidateAmount(money.Cents(amountCents), maxAmount); err != nil {
		return errors.Wrap(errors.CodeValidation, err, "invalid amount")
	}
	return nil
}

func insufficientBalance(available, required int64) error {
	return errors.New(errors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{
			"available_cents": available,
			"required_cents":  required,
		})
}

func errorOutcome(err error) string {
	if typed := errors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}
