package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/api/responses"
	"github.com/pineoslabs/referral-ledger/api/validators"
	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	pkgerrors "github.com/pineoslabs/referral-ledger/pkg/errors"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
)

type ruleCreateRequest struct {
	Name        string          `json:"name" validate:"required"`
	Description *string         `json:"description"`
	RuleJSON    json.RawMessage `json:"rule_json" validate:"required"`
}

func (r ruleCreateRequest) toInput() rules.CreateRuleInput {
	return rules.CreateRuleInput{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Definition:  r.RuleJSON,
	}
}

// RuleCreate stores a new reward rule after validating its definition.
func RuleCreate(svc rules.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rules service unavailable"))
			return
		}

		var payload ruleCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.CreateRule(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, ruleResponseFromModel(created))
	}
}

// RuleList returns stored rules, all of them or only the active ones.
func RuleList(svc rules.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rules service unavailable"))
			return
		}

		activeOnly := strings.EqualFold(r.URL.Query().Get("active_only"), "true")

		list, err := svc.ListRules(r.Context(), activeOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]ruleResponse, 0, len(list))
		for i := range list {
			items = append(items, ruleResponseFromModel(&list[i]))
		}

		responses.WriteSuccess(w, map[string]any{"rules": items, "count": len(items)})
	}
}

// RuleGet fetches a single rule by id.
func RuleGet(svc rules.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rules service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule id"))
			return
		}

		rule, err := svc.GetRule(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ruleResponseFromModel(rule))
	}
}

// RuleDeactivate retires a rule. The row is kept so the rule stays
// resolvable from past trigger events.
func RuleDeactivate(svc rules.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rules service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule id"))
			return
		}

		rule, err := svc.DeactivateRule(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ruleResponseFromModel(rule))
	}
}

type ruleEvaluateRequest struct {
	RuleID *string        `json:"rule_id"`
	Event  map[string]any `json:"event" validate:"required"`
}

func (r ruleEvaluateRequest) toInput() (rules.EvaluateInput, error) {
	input := rules.EvaluateInput{Event: r.Event}
	if r.RuleID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*r.RuleID))
		if err != nil {
			return rules.EvaluateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule_id")
		}
		input.RuleID = &id
	}
	return input, nil
}

// RuleEvaluate runs an event through the active rules and reports the outcome.
func RuleEvaluate(svc rules.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rules service unavailable"))
			return
		}

		var payload ruleEvaluateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		evaluation, err := svc.EvaluateEvent(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, evaluation)
	}
}

type ruleResponse struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	RuleJSON    json.RawMessage `json:"rule_json"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func ruleResponseFromModel(m *models.Rule) ruleResponse {
	return ruleResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		RuleJSON:    m.RuleJSON,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
