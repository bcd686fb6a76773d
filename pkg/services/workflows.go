package services

import (
	"context"
	"strings"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
)

// Workflows manages workflow definitions.
type Workflows struct {
	*config

	persistence persistence.Persistence
}

// NewWorkflows creates a new workflow definitions service.
func NewWorkflows(p persistence.Persistence, opts ...Option) *Workflows {
	return &Workflows{
		config:      newConfig("workflows", opts),
		persistence: p,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflows) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a definition together with its first, empty draft.
func (w *Workflows) Create(ctx context.Context, tenantID, actorID, name string) (*models.WorkflowDefinition, *models.WorkflowVersion, error) {
	const op = "Workflows.Create"

	now := w.now()
	workflow := &models.WorkflowDefinition{
		ID:        newID(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(name),
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		return nil, nil, invalidInput(op, err)
	}

	draft := &models.WorkflowVersion{
		ID:            newID(),
		WorkflowID:    workflow.ID,
		VersionNumber: 1,
		Status:        models.VersionStatusDraft,
		Graph:         models.NewGraph(),
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = w.persistence.WorkflowRepository().Create(ctx, workflow, draft)
	if err != nil {
		return nil, nil, wrap(op, err)
	}

	w.logger.InfoContext(ctx, "workflow created", "tenant_id", tenantID, "workflow_id", workflow.ID, "draft_id", draft.ID)

	return workflow, draft, nil
}

// Get returns a definition of the tenant.
func (w *Workflows) Get(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	return loadWorkflow(ctx, w.persistence, "Workflows.Get", tenantID, id)
}

// List returns the tenant's definitions newest first, filtered by a case-insensitive name query.
func (w *Workflows) List(ctx context.Context, tenantID, query string) ([]*models.WorkflowDefinition, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		TenantID: tenantID,
		Query:    query,
	})
	if err != nil {
		return nil, wrap("Workflows.List", err)
	}

	return workflows, nil
}

// Rename changes the name of a definition.
func (w *Workflows) Rename(ctx context.Context, tenantID, actorID, id, name string) (*models.WorkflowDefinition, error) {
	const op = "Workflows.Rename"

	workflow, err := loadWorkflow(ctx, w.persistence, op, tenantID, id)
	if err != nil {
		return nil, err
	}

	updated := *workflow
	updated.Name = strings.TrimSpace(name)
	updated.UpdatedAt = w.now()

	err = w.validate.Struct(&updated)
	if err != nil {
		return nil, invalidInput(op, err)
	}

	err = w.persistence.WorkflowRepository().Update(ctx, &updated)
	if err != nil {
		return nil, wrap(op, err)
	}

	w.logger.InfoContext(ctx, "workflow renamed", "workflow_id", id, "actor_id", actorID)

	return &updated, nil
}

// loadWorkflow hides definitions of other tenants behind NotFound.
func loadWorkflow(ctx context.Context, p persistence.Persistence, op, tenantID, id string) (*models.WorkflowDefinition, error) {
	workflow, err := p.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound(op, "workflow", id)
		}

		return nil, wrap(op, err)
	}

	if workflow.TenantID != tenantID {
		return nil, notFound(op, "workflow", id)
	}

	return workflow, nil
}
