// Package models defines the core domain models for onboarding workflow definitions and runs.
package models

import "time"

// VersionStatus represents the lifecycle state of a workflow version.
type VersionStatus string

const (
	VersionStatusDraft    VersionStatus = "DRAFT"    // Editable, not runnable
	VersionStatusActive   VersionStatus = "ACTIVE"   // Current runnable version
	VersionStatusInactive VersionStatus = "INACTIVE" // Superseded, kept for the runs bound to it
)

// WorkflowDefinition is the stable identity of an onboarding workflow across its versions.
type WorkflowDefinition struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"  validate:"required"`
	Name      string    `json:"name"       validate:"required,min=1,max=255"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowVersion is one immutable-once-activated snapshot of a workflow graph.
type WorkflowVersion struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	VersionNumber int            `json:"version_number"`
	Status        VersionStatus  `json:"status"`
	Graph         *Graph         `json:"graph"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ActivatedAt   *time.Time     `json:"activated_at,omitempty"`
}

// Clone returns a deep copy of the version, graph and metadata included.
func (v *WorkflowVersion) Clone() *WorkflowVersion {
	if v == nil {
		return nil
	}

	clone := *v
	clone.Graph = v.Graph.Clone()
	clone.Metadata = CloneMap(v.Metadata)

	if v.ActivatedAt != nil {
		activatedAt := *v.ActivatedAt
		clone.ActivatedAt = &activatedAt
	}

	return &clone
}
