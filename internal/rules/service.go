package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/errors"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/outbox/payloads"
)

const actorSource = "rule_engine"

// Service defines rule management and event evaluation.
type Service interface {
	CreateRule(ctx context.Context, input CreateRuleInput) (*models.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*models.Rule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error)
	DeactivateRule(ctx context.Context, id uuid.UUID) (*models.Rule, error)
	EvaluateEvent(ctx context.Context, input EvaluateInput) (*Evaluation, error)
}

// CreateRuleInput captures a new rule definition.
type CreateRuleInput struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"rule_json"`
}

// EvaluateInput carries an event payload, optionally pinned to one rule.
type EvaluateInput struct {
	RuleID *uuid.UUID     `json:"rule_id,omitempty"`
	Event  map[string]any `json:"event"`
}

// Evaluation summarizes one evaluation pass over the active rules.
type Evaluation struct {
	RulesEvaluated int           `json:"rules_evaluated"`
	RulesTriggered int           `json:"rules_triggered"`
	Results        []RuleOutcome `json:"results"`
}

// RuleOutcome reports how a single rule fared against the event.
type RuleOutcome struct {
	RuleID        uuid.UUID      `json:"rule_id"`
	RuleName      string         `json:"rule_name"`
	ConditionsMet bool           `json:"conditions_met"`
	Actions       []ActionResult `json:"actions_executed"`
	Error         string         `json:"error,omitempty"`
}

// ActionResult reports the outcome of one executed action.
type ActionResult struct {
	Type        string     `json:"type"`
	Success     bool       `json:"success"`
	UserID      string     `json:"user_id,omitempty"`
	AmountCents int64      `json:"amount_cents,omitempty"`
	EntryID     *uuid.UUID `json:"entry_id,omitempty"`
	Duplicate   bool       `json:"is_duplicate,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ServiceParams wires the rule engine's dependencies.
type ServiceParams struct {
	Repo   Repository
	Ledger ledger.Service
	Tx     ledger.TxRunner
	Events *outbox.Service
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	ledger ledger.Service
	tx     ledger.TxRunner
	events *outbox.Service
	logg   *logger.Logger
}

// NewService wires a rule engine with the provided dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("rules repository required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &service{
		repo:   p.Repo,
		ledger: p.Ledger,
		tx:     p.Tx,
		events: p.Events,
		logg:   p.Logger,
	}, nil
}

func (s *service) CreateRule(ctx context.Context, input CreateRuleInput) (*models.Rule, error) {
	if input.Name == "" {
		return nil, errors.New(errors.CodeValidation, "rule name is required")
	}
	if _, err := ParseDefinition(input.Definition); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid rule definition").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	rule := &models.Rule{
		ID:          uuid.New(),
		Name:        input.Name,
		Description: input.Description,
		RuleJSON:    input.Definition,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *service) GetRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.New(errors.CodeNotFound, "rule not found")
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	return s.repo.List(ctx, activeOnly)
}

// DeactivateRule marks a rule inactive. Deactivation is how rules are
// retired; rows are never deleted so past trigger events stay resolvable.
func (s *service) DeactivateRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.New(errors.CodeNotFound, "rule not found")
	}
	if rule.IsActive {
		if err := s.repo.SetActive(ctx, id, false); err != nil {
			return nil, err
		}
		rule.IsActive = false
	}
	return rule, nil
}

// EvaluateEvent runs the event payload through the active rules and executes
// the actions of every rule whose conditions match. Action failures are
// reported per action and never abort the remaining rules.
func (s *service) EvaluateEvent(ctx context.Context, input EvaluateInput) (*Evaluation, error) {
	if input.Event == nil {
		return nil, errors.New(errors.CodeValidation, "event payload is required")
	}

	candidates, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, err
	}
	if input.RuleID != nil {
		filtered := candidates[:0]
		for _, rule := range candidates {
			if rule.ID == *input.RuleID {
				filtered = append(filtered, rule)
			}
		}
		candidates = filtered
	}

	eventID, _ := input.Event["event_id"].(string)

	evaluation := &Evaluation{Results: make([]RuleOutcome, 0, len(candidates))}
	var actionErrs error

	for i := range candidates {
		rule := &candidates[i]
		outcome := RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, Actions: []ActionResult{}}

		def, err := ParseDefinition(rule.RuleJSON)
		if err != nil {
			outcome.Error = err.Error()
			evaluation.Results = append(evaluation.Results, outcome)
			continue
		}

		if def.Matches(input.Event) {
			outcome.ConditionsMet = true
			evaluation.RulesTriggered++

			var entryIDs []uuid.UUID
			for _, action := range def.Actions {
				result := s.runAction(ctx, rule, action, input.Event, eventID)
				if result.EntryID != nil && result.Success && !result.Duplicate {
					entryIDs = append(entryIDs, *result.EntryID)
				}
				if result.Error != "" {
					actionErrs = multierr.Append(actionErrs,
						fmt.Errorf("rule %s action %s: %s", rule.ID, action.Type, result.Error))
				}
				outcome.Actions = append(outcome.Actions, result)
			}

			if err := s.emitTriggered(ctx, rule, eventID, entryIDs); err != nil {
				actionErrs = multierr.Append(actionErrs,
					fmt.Errorf("rule %s trigger event: %w", rule.ID, err))
			}
		}

		evaluation.Results = append(evaluation.Results, outcome)
	}

	evaluation.RulesEvaluated = len(evaluation.Results)

	if actionErrs != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"event_id": eventID})
		s.logg.Warn(logCtx, fmt.Sprintf("rule evaluation finished with errors: %v", actionErrs))
	}
	return evaluation, nil
}

func (s *service) runAction(ctx context.Context, rule *models.Rule, action Action, event map[string]any, eventID string) ActionResult {
	result := ActionResult{Type: action.Type, AmountCents: action.AmountCents}

	userVal, ok := lookupPath(event, action.User)
	if !ok || userVal == nil {
		result.Error = fmt.Sprintf("user field %q not found in event", action.User)
		return result
	}
	userID := fmt.Sprintf("%v", userVal)
	result.UserID = userID

	rewardID := action.RewardID
	if rewardID == "" {
		rewardID = uuid.NewString()
	}

	// deterministic key: the same reward for the same user and event always
	// replays instead of double-crediting
	key := uuid.NewSHA1(uuid.NameSpaceDNS,
		[]byte(fmt.Sprintf("%s:%s:%s", rewardID, userID, eventID))).String()

	confirmed := enums.RewardStatusConfirmed
	credit, err := s.ledger.Credit(ctx, ledger.CreditInput{
		UserID:         userID,
		AmountCents:    action.AmountCents,
		RewardID:       &rewardID,
		RewardStatus:   &confirmed,
		IdempotencyKey: key,
		Metadata: map[string]any{
			"source":   actorSource,
			"rule_id":  rule.ID.String(),
			"event_id": eventID,
		},
		Actor: &outbox.ActorRef{Source: actorSource},
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.EntryID = &credit.Entry.ID
	result.Duplicate = credit.Duplicate
	return result
}

func (s *service) emitTriggered(ctx context.Context, rule *models.Rule, eventID string, entryIDs []uuid.UUID) error {
	if len(entryIDs) == 0 {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRuleTriggered,
			AggregateType: enums.AggregateRule,
			AggregateID:   rule.ID,
			Actor:         &outbox.ActorRef{Source: actorSource},
			Data: payloads.RuleTriggeredEvent{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				EventID:  eventID,
				EntryIDs: entryIDs,
			},
		})
	})
}
