package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	pkgerrors "github.com/pineoslabs/referral-ledger/pkg/errors"
)

type stubLedgerService struct {
	result       *ledger.Result
	balance      *models.UserBalance
	entries      []models.LedgerEntry
	err          error
	creditInput  *ledger.CreditInput
	debitInput   *ledger.DebitInput
	reverseInput *ledger.ReverseInput
	listFilter   *ledger.ListFilter
}

func (s *stubLedgerService) Credit(ctx context.Context, input ledger.CreditInput) (*ledger.Result, error) {
	s.creditInput = &input
	return s.result, s.err
}

func (s *stubLedgerService) Debit(ctx context.Context, input ledger.DebitInput) (*ledger.Result, error) {
	s.debitInput = &input
	return s.result, s.err
}

func (s *stubLedgerService) Reverse(ctx context.Context, input ledger.ReverseInput) (*ledger.Result, error) {
	s.reverseInput = &input
	return s.result, s.err
}

func (s *stubLedgerService) GetBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	return s.balance, s.err
}

func (s *stubLedgerService) ListEntries(ctx context.Context, filter ledger.ListFilter) ([]models.LedgerEntry, error) {
	s.listFilter = &filter
	return s.entries, s.err
}

func creditResult(duplicate bool) *ledger.Result {
	return &ledger.Result{
		Entry: &models.LedgerEntry{
			ID:          uuid.New(),
			UserID:      "user-1",
			EntryType:   enums.EntryTypeCredit,
			AmountCents: 500,
		},
		BalanceCents: 500,
		Duplicate:    duplicate,
	}
}

func TestLedgerCreditFreshEntry(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(false)}
	handler := LedgerCredit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/credit", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if svc.creditInput == nil || svc.creditInput.IdempotencyKey != "key-1" {
		t.Fatalf("idempotency key not forwarded: %+v", svc.creditInput)
	}
	if svc.creditInput.Actor == nil || svc.creditInput.Actor.Source != "api" {
		t.Fatalf("expected api actor, got %+v", svc.creditInput.Actor)
	}

	var envelope struct {
		Data entryResultResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.IsDuplicate {
		t.Fatal("fresh entry flagged as duplicate")
	}
	if envelope.Data.BalanceCents != 500 {
		t.Fatalf("unexpected balance: %d", envelope.Data.BalanceCents)
	}
}

func TestLedgerCreditDuplicateReturns200(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(true)}
	handler := LedgerCredit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/credit", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestLedgerCreditMissingIdempotencyKey(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(false)}
	handler := LedgerCredit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/credit", strings.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.creditInput != nil {
		t.Fatal("service should not be called without an idempotency key")
	}
}

func TestLedgerCreditRejectsUnknownFields(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(false)}
	handler := LedgerCredit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":500,"surprise":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/credit", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestLedgerCreditInvalidRewardStatus(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(false)}
	handler := LedgerCredit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":500,"reward_status":"bogus"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/credit", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestLedgerDebitInsufficientBalance(t *testing.T) {
	svc := &stubLedgerService{
		err: pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance"),
	}
	handler := LedgerDebit(svc, nil)

	body := `{"user_id":"user-1","amount_cents":900}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/debit", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-2")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
}

func TestLedgerReverseInvalidEntryID(t *testing.T) {
	svc := &stubLedgerService{result: creditResult(false)}
	handler := LedgerReverse(svc, nil)

	body := `{"entry_id":"not-a-uuid"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/reverse", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-3")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestLedgerReverseKeyReuseConflict(t *testing.T) {
	svc := &stubLedgerService{
		err: pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used with a different request"),
	}
	handler := LedgerReverse(svc, nil)

	body := `{"entry_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/reverse", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-4")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestLedgerEntriesParsesQuery(t *testing.T) {
	svc := &stubLedgerService{entries: []models.LedgerEntry{{ID: uuid.New(), UserID: "user-9"}}}
	handler := LedgerEntries(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries?user_id=user-9&limit=25&offset=50", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.listFilter == nil {
		t.Fatal("list filter not forwarded")
	}
	if svc.listFilter.UserID != "user-9" || svc.listFilter.Limit != 25 || svc.listFilter.Offset != 50 {
		t.Fatalf("unexpected filter: %+v", svc.listFilter)
	}
}

func TestLedgerEntriesRejectsBadLimit(t *testing.T) {
	svc := &stubLedgerService{}
	handler := LedgerEntries(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries?limit=abc", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
