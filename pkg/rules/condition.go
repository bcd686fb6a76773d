package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/onboardflow/pkg/models"
)

// ConditionEvaluator evaluates condition node settings against a subject.
type ConditionEvaluator struct {
	hierarchy Hierarchy
}

// NewConditionEvaluator creates an evaluator backed by the given hierarchy.
func NewConditionEvaluator(hierarchy Hierarchy) *ConditionEvaluator {
	return &ConditionEvaluator{hierarchy: hierarchy}
}

// Evaluate combines the criteria with ALL or ANY. An empty criteria list is true for both.
// Evaluation stops at the first criterion that decides the result.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, settings *models.ConditionSettings, subject models.SubjectContext) (bool, error) {
	if settings == nil || len(settings.Criteria) == 0 {
		return true, nil
	}

	switch settings.Logic {
	case models.LogicAll:
		for _, criterion := range settings.Criteria {
			ok, err := e.criterion(ctx, criterion, subject)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case models.LogicAny:
		for _, criterion := range settings.Criteria {
			ok, err := e.criterion(ctx, criterion, subject)
			if err != nil || ok {
				return ok, err
			}
		}

		return false, nil
	default:
		return false, &RuleError{Rule: "condition", Err: fmt.Errorf("%w: logic %q", ErrUnsupportedRule, settings.Logic)}
	}
}

func (e *ConditionEvaluator) criterion(ctx context.Context, criterion models.Criterion, subject models.SubjectContext) (bool, error) {
	unit, ok := subject.Org[criterion.Field]
	if !ok || unit == "" {
		return false, nil
	}

	switch criterion.Op {
	case models.OperatorIs:
		return unit == criterion.ValueID, nil
	case models.OperatorIsParentOf:
		return e.ancestor(ctx, criterion.Field, unit, criterion.ValueID)
	case models.OperatorIsChildOf:
		return e.ancestor(ctx, criterion.Field, criterion.ValueID, unit)
	default:
		return false, &RuleError{Rule: "condition", Err: fmt.Errorf("%w: operator %q", ErrUnsupportedRule, criterion.Op)}
	}
}

func (e *ConditionEvaluator) ancestor(ctx context.Context, field models.OrgField, ancestorID, descendantID string) (bool, error) {
	if e.hierarchy == nil {
		return false, &RuleError{Rule: "condition", Entity: string(field), Err: ErrUnresolvable}
	}

	ok, err := e.hierarchy.IsAncestor(ctx, field, ancestorID, descendantID)
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return false, &RuleError{Rule: "condition", Entity: fmt.Sprintf("%s %s/%s", field, ancestorID, descendantID), Err: fmt.Errorf("%w: %w", ErrUnresolvable, err)}
		}

		return false, fmt.Errorf("hierarchy lookup failed: %w", err)
	}

	return ok, nil
}
