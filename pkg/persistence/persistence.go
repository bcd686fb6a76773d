// Package persistence provides the storage abstraction for workflow definitions, versions and runs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	VersionRepository() VersionRepository
	RunRepository() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings.
type ListWorkflowsOptions struct {
	TenantID string
	Query    string // case-insensitive substring of the name
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	// Create stores a new definition together with its first draft version.
	Create(ctx context.Context, workflow *models.WorkflowDefinition, draft *models.WorkflowVersion) error
	// GetByID returns ErrWorkflowNotFound when no definition has the id.
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// List returns definitions newest first.
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.WorkflowDefinition, error)
	Update(ctx context.Context, workflow *models.WorkflowDefinition) error
}

// ActivateParams describes an atomic activation.
type ActivateParams struct {
	WorkflowID  string
	VersionID   string
	Metadata    map[string]any // metadata stored on the activated version
	ActivatedAt time.Time
	NewDraft    *models.WorkflowVersion
}

// VersionRepository stores workflow versions. Implementations keep at most one DRAFT and one ACTIVE
// version per workflow.
type VersionRepository interface {
	// GetByID returns ErrVersionNotFound when no version has the id.
	GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error)
	// ListByWorkflow returns every version of a workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)
	ListByStatus(ctx context.Context, workflowID string, status models.VersionStatus) ([]*models.WorkflowVersion, error)
	// CreateDraft returns ErrDraftExists when the workflow already has a draft.
	CreateDraft(ctx context.Context, version *models.WorkflowVersion) error
	// UpdateDraft returns ErrVersionNotDraft when the stored version is no longer a draft.
	UpdateDraft(ctx context.Context, version *models.WorkflowVersion) error
	// Activate retires the current ACTIVE version, activates the draft and stores the new draft
	// in one step. It returns ErrVersionNotDraft when the target is not a draft anymore.
	Activate(ctx context.Context, params ActivateParams) error
}

// Expectation guards a transition on the current status of a node run.
type Expectation struct {
	NodeRunID string
	Status    models.NodeRunStatus
}

// Transition is an atomic change of a run and its node runs.
type Transition struct {
	Run       *models.WorkflowRun // new run header
	ExpectRun models.RunStatus    // status the stored run must still have
	Expect    []Expectation
	Updated   []*models.NodeRun
	Created   []*models.NodeRun
}

// RunRepository stores runs and their node runs.
type RunRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error
	// GetByID returns the run with its node runs ordered by sequence, or ErrRunNotFound.
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// GetNodeRun returns ErrNodeRunNotFound when no node run has the id.
	GetNodeRun(ctx context.Context, id string) (*models.NodeRun, error)
	// ApplyTransition returns ErrStaleTransition when an expectation no longer holds.
	ApplyTransition(ctx context.Context, transition Transition) error
	// ListOverdue returns open node runs of running runs that are due before cutoff, oldest due first.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.NodeRun, error)
}
