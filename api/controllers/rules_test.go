package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	pkgerrors "github.com/pineoslabs/referral-ledger/pkg/errors"
)

type stubRulesService struct {
	rule       *models.Rule
	list       []models.Rule
	evaluation *rules.Evaluation
	err         error
	evalInput   *rules.EvaluateInput
	deactivated *uuid.UUID
}

func (s *stubRulesService) CreateRule(ctx context.Context, input rules.CreateRuleInput) (*models.Rule, error) {
	return s.rule, s.err
}

func (s *stubRulesService) GetRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	return s.rule, s.err
}

func (s *stubRulesService) ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	return s.list, s.err
}

func (s *stubRulesService) DeactivateRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	s.deactivated = &id
	return s.rule, s.err
}

func (s *stubRulesService) EvaluateEvent(ctx context.Context, input rules.EvaluateInput) (*rules.Evaluation, error) {
	s.evalInput = &input
	return s.evaluation, s.err
}

func testRuleRouter(svc rules.Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/rules/{id}", RuleGet(svc, nil))
	r.Delete("/api/v1/rules/{id}", RuleDeactivate(svc, nil))
	return r
}

func sampleRule() *models.Rule {
	return &models.Rule{
		ID:       uuid.New(),
		Name:     "referral bonus",
		RuleJSON: json.RawMessage(`{"actions":[{"type":"credit","user":"referrer_id","amount_cents":50000}]}`),
		IsActive: true,
	}
}

func TestRuleCreateReturns201(t *testing.T) {
	svc := &stubRulesService{rule: sampleRule()}
	handler := RuleCreate(svc, nil)

	body := `{"name":"referral bonus","rule_json":{"actions":[{"type":"credit","user":"referrer_id","amount_cents":50000}]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}

	var envelope struct {
		Data ruleResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Name != "referral bonus" {
		t.Fatalf("unexpected rule name: %s", envelope.Data.Name)
	}
}

func TestRuleCreateInvalidDefinition(t *testing.T) {
	svc := &stubRulesService{err: pkgerrors.New(pkgerrors.CodeValidation, "rule must define at least one action")}
	handler := RuleCreate(svc, nil)

	body := `{"name":"empty","rule_json":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestRuleGetNotFound(t *testing.T) {
	svc := &stubRulesService{err: pkgerrors.New(pkgerrors.CodeNotFound, "rule not found")}
	router := testRuleRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules/"+uuid.NewString(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestRuleDeactivateReturnsUpdatedRule(t *testing.T) {
	retired := sampleRule()
	retired.IsActive = false
	svc := &stubRulesService{rule: retired}
	router := testRuleRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rules/"+retired.ID.String(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.deactivated == nil || *svc.deactivated != retired.ID {
		t.Fatalf("expected deactivate call for %s, got %v", retired.ID, svc.deactivated)
	}

	var envelope struct {
		Data ruleResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.IsActive {
		t.Fatal("expected is_active false in response")
	}
}

func TestRuleGetInvalidID(t *testing.T) {
	svc := &stubRulesService{rule: sampleRule()}
	router := testRuleRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules/not-a-uuid", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestRuleEvaluateForwardsPinnedRule(t *testing.T) {
	pinned := uuid.New()
	svc := &stubRulesService{evaluation: &rules.Evaluation{RulesEvaluated: 1}}
	handler := RuleEvaluate(svc, nil)

	body := `{"rule_id":"` + pinned.String() + `","event":{"event_id":"evt-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/evaluate", strings.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.evalInput == nil || svc.evalInput.RuleID == nil || *svc.evalInput.RuleID != pinned {
		t.Fatalf("pinned rule id not forwarded: %+v", svc.evalInput)
	}
}

func TestRuleEvaluateMissingEvent(t *testing.T) {
	svc := &stubRulesService{evaluation: &rules.Evaluation{}}
	handler := RuleEvaluate(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/evaluate", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.evalInput != nil {
		t.Fatal("service should not be called without an event")
	}
}
