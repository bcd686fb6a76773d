package mocks

import (
	"context"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows *MockWorkflowRepository
	Versions  *MockVersionRepository
	Runs      *MockRunRepository
}

// NewMockPersistence returns a MockPersistence with fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows: &MockWorkflowRepository{},
		Versions:  &MockVersionRepository{},
		Runs:      &MockRunRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) VersionRepository() persistence.VersionRepository {
	return m.Versions
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.Runs
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition, draft *models.WorkflowVersion) error {
	args := m.Called(ctx, workflow, draft)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

// MockVersionRepository is a mock implementation of persistence.VersionRepository interface.
type MockVersionRepository struct {
	mock.Mock
}

func (m *MockVersionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) ListByStatus(ctx context.Context, workflowID string, status models.VersionStatus) ([]*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) CreateDraft(ctx context.Context, version *models.WorkflowVersion) error {
	args := m.Called(ctx, version)

	return args.Error(0)
}

func (m *MockVersionRepository) UpdateDraft(ctx context.Context, version *models.WorkflowVersion) error {
	args := m.Called(ctx, version)

	return args.Error(0)
}

func (m *MockVersionRepository) Activate(ctx context.Context, params persistence.ActivateParams) error {
	args := m.Called(ctx, params)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error {
	args := m.Called(ctx, run, nodeRuns)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) GetNodeRun(ctx context.Context, id string) (*models.NodeRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.NodeRun), args.Error(1)
}

func (m *MockRunRepository) ApplyTransition(ctx context.Context, transition persistence.Transition) error {
	args := m.Called(ctx, transition)

	return args.Error(0)
}

func (m *MockRunRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.NodeRun, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.NodeRun), args.Error(1)
}
