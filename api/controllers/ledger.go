package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/api/responses"
	"github.com/pineoslabs/referral-ledger/api/validators"
	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	pkgerrors "github.com/pineoslabs/referral-ledger/pkg/errors"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
)

const idempotencyKeyHeader = "Idempotency-Key"

var apiActor = &outbox.ActorRef{Source: "api"}

func idempotencyKeyFrom(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required")
	}
	return key, nil
}

type creditRequest struct {
	UserID       string         `json:"user_id" validate:"required"`
	AmountCents  int64          `json:"amount_cents" validate:"required,gt=0"`
	RewardID     *string        `json:"reward_id"`
	RewardStatus *string        `json:"reward_status"`
	Metadata     map[string]any `json:"metadata"`
}

func (r creditRequest) toInput(key string) (ledger.CreditInput, error) {
	input := ledger.CreditInput{
		UserID:         strings.TrimSpace(r.UserID),
		AmountCents:    r.AmountCents,
		RewardID:       r.RewardID,
		IdempotencyKey: key,
		Metadata:       r.Metadata,
		Actor:          apiActor,
	}
	if r.RewardStatus != nil {
		status := enums.RewardStatus(strings.TrimSpace(*r.RewardStatus))
		if !status.IsValid() {
			return ledger.CreditInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid reward status")
		}
		input.RewardStatus = &status
	}
	return input, nil
}

// LedgerCredit records a credit entry. Replays of the same idempotency key
// return the original entry with a 200 instead of a 201.
func LedgerCredit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		key, err := idempotencyKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload creditRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Credit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeEntryResult(w, result)
	}
}

type debitRequest struct {
	UserID      string         `json:"user_id" validate:"required"`
	AmountCents int64          `json:"amount_cents" validate:"required,gt=0"`
	Metadata    map[string]any `json:"metadata"`
}

func (r debitRequest) toInput(key string) ledger.DebitInput {
	return ledger.DebitInput{
		UserID:         strings.TrimSpace(r.UserID),
		AmountCents:    r.AmountCents,
		IdempotencyKey: key,
		Metadata:       r.Metadata,
		Actor:          apiActor,
	}
}

// LedgerDebit records a debit entry after checking the available balance.
func LedgerDebit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		key, err := idempotencyKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload debitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Debit(r.Context(), payload.toInput(key))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeEntryResult(w, result)
	}
}

type reverseRequest struct {
	EntryID  string         `json:"entry_id" validate:"required"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

func (r reverseRequest) toInput(key string) (ledger.ReverseInput, error) {
	entryID, err := uuid.Parse(strings.TrimSpace(r.EntryID))
	if err != nil {
		return ledger.ReverseInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry_id")
	}
	return ledger.ReverseInput{
		EntryID:        entryID,
		Reason:         strings.TrimSpace(r.Reason),
		IdempotencyKey: key,
		Metadata:       r.Metadata,
		Actor:          apiActor,
	}, nil
}

// LedgerReverse records a compensating reversal for an existing entry.
func LedgerReverse(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		key, err := idempotencyKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reverseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reverse(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeEntryResult(w, result)
	}
}

// LedgerBalance returns the user's current balance, zero when no entries exist.
func LedgerBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := strings.TrimSpace(chi.URLParam(r, "userID"))
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user id is required"))
			return
		}

		balance, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceResponseFromModel(balance))
	}
}

// LedgerEntries lists entries newest first, optionally scoped to a user.
func LedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		filter := ledger.ListFilter{
			UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
		}

		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			filter.Limit = limit
		}

		if raw := r.URL.Query().Get("offset"); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil || offset < 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid offset"))
				return
			}
			filter.Offset = offset
		}

		entries, err := svc.ListEntries(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]entryResponse, 0, len(entries))
		for i := range entries {
			items = append(items, entryResponseFromModel(&entries[i]))
		}

		responses.WriteSuccess(w, map[string]any{"entries": items, "count": len(items)})
	}
}

func writeEntryResult(w http.ResponseWriter, result *ledger.Result) {
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	responses.WriteSuccessStatus(w, status, entryResultResponse{
		Entry:        entryResponseFromModel(result.Entry),
		BalanceCents: result.BalanceCents,
		IsDuplicate:  result.Duplicate,
	})
}

type entryResultResponse struct {
	Entry        entryResponse `json:"entry"`
	BalanceCents int64         `json:"balance_cents"`
	IsDuplicate  bool          `json:"is_duplicate"`
}

type entryResponse struct {
	ID             uuid.UUID           `json:"id"`
	UserID         string              `json:"user_id"`
	EntryType      enums.EntryType     `json:"entry_type"`
	AmountCents    int64               `json:"amount_cents"`
	RewardID       *string             `json:"reward_id,omitempty"`
	RewardStatus   *enums.RewardStatus `json:"reward_status,omitempty"`
	RelatedEntryID *uuid.UUID          `json:"related_entry_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func entryResponseFromModel(m *models.LedgerEntry) entryResponse {
	return entryResponse{
		ID:             m.ID,
		UserID:         m.UserID,
		EntryType:      m.EntryType,
		AmountCents:    m.AmountCents,
		RewardID:       m.RewardID,
		RewardStatus:   m.RewardStatus,
		RelatedEntryID: m.RelatedEntryID,
		CreatedAt:      m.CreatedAt,
	}
}

type balanceResponse struct {
	UserID       string    `json:"user_id"`
	BalanceCents int64     `json:"balance_cents"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func balanceResponseFromModel(m *models.UserBalance) balanceResponse {
	return balanceResponse{
		UserID:       m.UserID,
		BalanceCents: m.BalanceCents,
		Version:      m.Version,
		UpdatedAt:    m.UpdatedAt,
	}
}
