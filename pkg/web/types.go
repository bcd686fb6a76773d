// Package web provides HTTP request and response types for the onboarding API.
package web

import "github.com/dukex/onboardflow/pkg/models"

const (
	// TenantHeader carries the tenant every request is scoped to.
	TenantHeader = "X-Tenant-ID"
	// ActorHeader carries the id of the user performing the request.
	ActorHeader = "X-Actor-ID"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// CreateWorkflowResponse returns the new definition together with its first draft.
type CreateWorkflowResponse struct {
	Workflow *models.WorkflowDefinition `json:"workflow"`
	Draft    *models.WorkflowVersion    `json:"draft"`
}

// RenameWorkflowRequest represents the request body for renaming a workflow.
type RenameWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// CreateDraftRequest optionally seeds the new draft with a graph.
type CreateDraftRequest struct {
	Graph *models.Graph `json:"graph,omitempty"`
}

// UpdateDraftRequest replaces the graph and/or metadata of a draft. Omitted fields are kept.
type UpdateDraftRequest struct {
	Graph    *models.Graph  `json:"graph,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ActivateVersionRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=2000"`
}

type EnsureDraftResponse struct {
	Draft   *models.WorkflowVersion `json:"draft"`
	Created bool                    `json:"created"`
}

// StartRunRequest represents the request body for starting a run for a subject.
type StartRunRequest struct {
	Subject  models.SubjectContext `json:"subject"`
	Metadata map[string]any        `json:"metadata,omitempty"`
}

type CompleteNodeRunRequest struct {
	Outcome map[string]any `json:"outcome,omitempty"`
}

type CancelRunRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}
