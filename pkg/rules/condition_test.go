package rules_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/onboardflow/pkg/mocks"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/rules"
	"github.com/dukex/onboardflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func is(field models.OrgField, value string) models.Criterion {
	return models.Criterion{Field: field, Op: models.OperatorIs, ValueID: value}
}

func TestConditionEvaluator_TruthTable(t *testing.T) {
	subject := testutil.Subject(
		testutil.WithOrg(models.OrgFieldDepartment, "engineering"),
		testutil.WithOrg(models.OrgFieldLocation, "berlin"),
	)

	hit := is(models.OrgFieldLocation, "berlin")
	miss := is(models.OrgFieldDepartment, "sales")

	tests := []struct {
		name     string
		logic    models.Logic
		criteria []models.Criterion
		want     bool
	}{
		{"all empty", models.LogicAll, nil, true},
		{"any empty", models.LogicAny, nil, true},
		{"all hit", models.LogicAll, []models.Criterion{hit, hit}, true},
		{"all mixed", models.LogicAll, []models.Criterion{hit, miss}, false},
		{"all miss", models.LogicAll, []models.Criterion{miss}, false},
		{"any mixed", models.LogicAny, []models.Criterion{miss, hit}, true},
		{"any miss", models.LogicAny, []models.Criterion{miss, miss}, false},
		{"missing field fails", models.LogicAll, []models.Criterion{is(models.OrgFieldPosition, "dev")}, false},
	}

	evaluator := rules.NewConditionEvaluator(&mocks.MockHierarchy{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(context.Background(), &models.ConditionSettings{Logic: tt.logic, Criteria: tt.criteria}, subject)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluator_Hierarchy(t *testing.T) {
	ctx := context.Background()
	subject := testutil.Subject(testutil.WithOrg(models.OrgFieldDepartment, "platform"))

	hierarchy := &mocks.MockHierarchy{}
	hierarchy.On("IsAncestor", mock.Anything, models.OrgFieldDepartment, "engineering", "platform").Return(true, nil)
	hierarchy.On("IsAncestor", mock.Anything, models.OrgFieldDepartment, "platform", "engineering").Return(false, nil)

	evaluator := rules.NewConditionEvaluator(hierarchy)

	childOf, err := evaluator.Evaluate(ctx, &models.ConditionSettings{
		Logic:    models.LogicAll,
		Criteria: []models.Criterion{{Field: models.OrgFieldDepartment, Op: models.OperatorIsChildOf, ValueID: "engineering"}},
	}, subject)
	require.NoError(t, err)
	assert.True(t, childOf)

	parentOf, err := evaluator.Evaluate(ctx, &models.ConditionSettings{
		Logic:    models.LogicAll,
		Criteria: []models.Criterion{{Field: models.OrgFieldDepartment, Op: models.OperatorIsParentOf, ValueID: "engineering"}},
	}, subject)
	require.NoError(t, err)
	assert.False(t, parentOf)

	hierarchy.AssertExpectations(t)
}

func TestConditionEvaluator_UnknownEntityIsUnresolvable(t *testing.T) {
	hierarchy := &mocks.MockHierarchy{}
	hierarchy.On("IsAncestor", mock.Anything, models.OrgFieldLocation, "mars", "berlin").
		Return(false, rules.ErrUnknownEntity)

	evaluator := rules.NewConditionEvaluator(hierarchy)

	_, err := evaluator.Evaluate(context.Background(), &models.ConditionSettings{
		Logic:    models.LogicAny,
		Criteria: []models.Criterion{{Field: models.OrgFieldLocation, Op: models.OperatorIsChildOf, ValueID: "mars"}},
	}, testutil.Subject())

	require.Error(t, err)
	assert.True(t, rules.IsUnresolvable(err))
}

func TestConditionEvaluator_TransportFailurePropagates(t *testing.T) {
	boom := errors.New("connection refused")

	hierarchy := &mocks.MockHierarchy{}
	hierarchy.On("IsAncestor", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, boom)

	evaluator := rules.NewConditionEvaluator(hierarchy)

	_, err := evaluator.Evaluate(context.Background(), &models.ConditionSettings{
		Logic:    models.LogicAll,
		Criteria: []models.Criterion{{Field: models.OrgFieldLocation, Op: models.OperatorIsParentOf, ValueID: "x"}},
	}, testutil.Subject())

	require.ErrorIs(t, err, boom)
	assert.False(t, rules.IsUnresolvable(err))
}

func TestConditionEvaluator_ShortCircuits(t *testing.T) {
	hierarchy := &mocks.MockHierarchy{}
	evaluator := rules.NewConditionEvaluator(hierarchy)

	got, err := evaluator.Evaluate(context.Background(), &models.ConditionSettings{
		Logic: models.LogicAny,
		Criteria: []models.Criterion{
			is(models.OrgFieldLocation, "berlin"),
			{Field: models.OrgFieldLocation, Op: models.OperatorIsChildOf, ValueID: "europe"},
		},
	}, testutil.Subject())

	require.NoError(t, err)
	assert.True(t, got)
	hierarchy.AssertNotCalled(t, "IsAncestor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
