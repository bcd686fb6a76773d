package mocks

import (
	"context"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockDirectory is a mock implementation of rules.Directory interface.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)

	return args.String(0), args.Error(1)
}

func (m *MockDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)

	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// MockHierarchy is a mock implementation of rules.Hierarchy interface.
type MockHierarchy struct {
	mock.Mock
}

func (m *MockHierarchy) IsAncestor(ctx context.Context, field models.OrgField, ancestorID, descendantID string) (bool, error) {
	args := m.Called(ctx, field, ancestorID, descendantID)

	return args.Bool(0), args.Error(1)
}
