package services

import (
	"context"
	"errors"

	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/otelhelper"
	"github.com/dukex/onboardflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// ActivationNotesKey is the metadata key activation notes are stored under.
const ActivationNotesKey = "activation_notes"

// DraftUpdate carries the editable parts of a draft. Nil fields are left unchanged.
type DraftUpdate struct {
	Graph    *models.Graph
	Metadata map[string]any
}

// Versions drives the DRAFT → ACTIVE → INACTIVE lifecycle of workflow versions.
type Versions struct {
	*config

	persistence persistence.Persistence
}

// NewVersions creates a new version lifecycle service.
func NewVersions(p persistence.Persistence, opts ...Option) *Versions {
	return &Versions{
		config:      newConfig("versions", opts),
		persistence: p,
	}
}

// CreateDraft adds a draft to a workflow that has none, seeded with a copy of seed or an empty graph.
func (v *Versions) CreateDraft(ctx context.Context, tenantID, actorID, workflowID string, seed *models.Graph) (*models.WorkflowVersion, error) {
	const op = "Versions.CreateDraft"

	unlock, err := v.locker.Lock(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer unlock()

	_, err = loadWorkflow(ctx, v.persistence, op, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	graphCopy := models.NewGraph()
	if seed != nil {
		result := graph.Validate(seed)
		if !result.Valid() {
			return nil, invalidGraph(op, "", result)
		}

		graphCopy = seed.Clone()
	}

	versions, err := v.persistence.VersionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, wrap(op, err)
	}

	if len(byStatus(versions, models.VersionStatusDraft)) > 0 {
		return nil, &EngineError{Op: op, Kind: KindConflict, Entity: "workflow", ID: workflowID, Message: "workflow already has a draft"}
	}

	draft := v.newDraft(workflowID, actorID, nextVersionNumber(versions), graphCopy, nil)

	err = v.persistence.VersionRepository().CreateDraft(ctx, draft)
	if err != nil {
		return nil, wrap(op, err)
	}

	v.logger.InfoContext(ctx, "draft created", "workflow_id", workflowID, "version_id", draft.ID, "version_number", draft.VersionNumber)

	return draft, nil
}

// UpdateDraft replaces the graph and/or metadata of a draft. An invalid graph leaves the draft untouched.
func (v *Versions) UpdateDraft(ctx context.Context, tenantID, versionID string, update DraftUpdate) (*models.WorkflowVersion, error) {
	const op = "Versions.UpdateDraft"

	version, err := v.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}

	unlock, err := v.locker.Lock(ctx, lock.WorkflowKey(version.WorkflowID))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer unlock()

	// Re-read under the lock.
	version, err = v.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}

	if version.Status != models.VersionStatusDraft {
		return nil, invalidState(op, "version", versionID, "version is %s, only drafts can be edited", version.Status)
	}

	updated := version.Clone()

	if update.Graph != nil {
		result := graph.Validate(update.Graph)
		if !result.Valid() {
			return nil, invalidGraph(op, versionID, result)
		}

		updated.Graph = update.Graph.Clone()
	}

	if update.Metadata != nil {
		updated.Metadata = models.CloneMap(update.Metadata)
	}

	updated.UpdatedAt = v.now()

	err = v.persistence.VersionRepository().UpdateDraft(ctx, updated)
	if err != nil {
		return nil, wrap(op, err)
	}

	v.logger.InfoContext(ctx, "draft updated", "workflow_id", updated.WorkflowID, "version_id", versionID)

	return updated, nil
}

// Activate makes the draft the ACTIVE version, retires the previous ACTIVE one and forks a new draft.
func (v *Versions) Activate(ctx context.Context, tenantID, actorID, workflowID, draftVersionID, notes string) (*models.WorkflowVersion, error) {
	const op = "Versions.Activate"

	ctx, span := otelhelper.StartSpan(ctx, v.tracer, "versions.activate",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.VersionIDKey, draftVersionID),
	)
	defer span.End()

	activated, err := v.activate(ctx, op, tenantID, actorID, workflowID, draftVersionID, notes)
	if err != nil {
		otelhelper.SetError(span, err, string(KindOf(err)))
		v.logger.ErrorContext(ctx, "activation failed", "workflow_id", workflowID, "version_id", draftVersionID, "error", err)

		return nil, err
	}

	return activated, nil
}

func (v *Versions) activate(ctx context.Context, op, tenantID, actorID, workflowID, draftVersionID, notes string) (*models.WorkflowVersion, error) {
	unlock, err := v.locker.Lock(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer unlock()

	workflow, err := loadWorkflow(ctx, v.persistence, op, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	versions, err := v.persistence.VersionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, wrap(op, err)
	}

	target := findVersion(versions, draftVersionID)
	if target == nil {
		return nil, notFound(op, "version", draftVersionID)
	}

	if target.Status != models.VersionStatusDraft {
		return nil, invalidState(op, "version", draftVersionID, "version is %s, only drafts can be activated", target.Status)
	}

	result := graph.ValidateForActivation(target.Graph)
	if !result.Valid() {
		return nil, invalidGraph(op, draftVersionID, result)
	}

	active := byStatus(versions, models.VersionStatusActive)
	if len(active) > 1 {
		return nil, corruptState(op, "workflow", workflowID, "%d active versions", len(active))
	}

	now := v.now()

	metadata := models.CloneMap(target.Metadata)
	if notes != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}

		metadata[ActivationNotesKey] = notes
	}

	draftMetadata := models.CloneMap(target.Metadata)
	delete(draftMetadata, ActivationNotesKey)

	if len(draftMetadata) == 0 {
		draftMetadata = nil
	}

	newDraft := v.newDraft(workflowID, actorID, nextVersionNumber(versions), target.Graph.Clone(), draftMetadata)

	err = v.persistence.VersionRepository().Activate(ctx, persistence.ActivateParams{
		WorkflowID:  workflowID,
		VersionID:   draftVersionID,
		Metadata:    metadata,
		ActivatedAt: now,
		NewDraft:    newDraft,
	})
	if err != nil {
		return nil, wrap(op, err)
	}

	activated := target.Clone()
	activated.Status = models.VersionStatusActive
	activated.Metadata = metadata
	activated.ActivatedAt = &now
	activated.UpdatedAt = now

	previousID := ""
	if len(active) == 1 {
		previousID = active[0].ID
	}

	v.logger.InfoContext(ctx, "version activated",
		"workflow_id", workflowID,
		"version_id", activated.ID,
		"version_number", activated.VersionNumber,
		"previous_version_id", previousID,
		"new_draft_id", newDraft.ID,
	)

	v.notify(ctx, workflowID, &events.VersionActivated{
		BaseEvent:         events.NewBaseEvent(events.VersionActivatedEvent, now, workflow.TenantID, workflowID),
		VersionID:         activated.ID,
		VersionNumber:     activated.VersionNumber,
		PreviousVersionID: previousID,
		NewDraftID:        newDraft.ID,
		ActivatedBy:       actorID,
	})

	return activated, nil
}

// EnsureDraftExists forks a draft from the ACTIVE version when the workflow has no draft.
// It reports whether a draft was created and returns nil without error when there is neither a draft nor an active version.
func (v *Versions) EnsureDraftExists(ctx context.Context, tenantID, actorID, workflowID string) (*models.WorkflowVersion, bool, error) {
	const op = "Versions.EnsureDraftExists"

	unlock, err := v.locker.Lock(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, false, wrap(op, err)
	}
	defer unlock()

	_, err = loadWorkflow(ctx, v.persistence, op, tenantID, workflowID)
	if err != nil {
		return nil, false, err
	}

	versions, err := v.persistence.VersionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, false, wrap(op, err)
	}

	drafts := byStatus(versions, models.VersionStatusDraft)
	switch len(drafts) {
	case 0:
	case 1:
		return drafts[0], false, nil
	default:
		return nil, false, corruptState(op, "workflow", workflowID, "%d draft versions", len(drafts))
	}

	active := byStatus(versions, models.VersionStatusActive)
	switch len(active) {
	case 0:
		return nil, false, nil
	case 1:
	default:
		return nil, false, corruptState(op, "workflow", workflowID, "%d active versions", len(active))
	}

	source := active[0]
	metadata := models.CloneMap(source.Metadata)
	delete(metadata, ActivationNotesKey)

	if len(metadata) == 0 {
		metadata = nil
	}

	draft := v.newDraft(workflowID, actorID, nextVersionNumber(versions), source.Graph.Clone(), metadata)

	err = v.persistence.VersionRepository().CreateDraft(ctx, draft)
	if err != nil {
		if errors.Is(err, persistence.ErrDraftExists) {
			// Created by another process between our read and write.
			existing, err := v.persistence.VersionRepository().ListByStatus(ctx, workflowID, models.VersionStatusDraft)
			if err != nil {
				return nil, false, wrap(op, err)
			}

			if len(existing) == 1 {
				return existing[0], false, nil
			}
		}

		return nil, false, wrap(op, err)
	}

	v.logger.InfoContext(ctx, "draft forked from active version", "workflow_id", workflowID, "source_version_id", source.ID, "version_id", draft.ID)

	return draft, true, nil
}

// GetVersion returns a version of one of the tenant's workflows.
func (v *Versions) GetVersion(ctx context.Context, tenantID, versionID string) (*models.WorkflowVersion, error) {
	const op = "Versions.GetVersion"

	version, err := v.persistence.VersionRepository().GetByID(ctx, versionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound(op, "version", versionID)
		}

		return nil, wrap(op, err)
	}

	_, err = loadWorkflow(ctx, v.persistence, op, tenantID, version.WorkflowID)
	if err != nil {
		if IsNotFound(err) {
			return nil, notFound(op, "version", versionID)
		}

		return nil, err
	}

	return version, nil
}

// ListVersions returns every version of the workflow, newest first.
func (v *Versions) ListVersions(ctx context.Context, tenantID, workflowID string) ([]*models.WorkflowVersion, error) {
	const op = "Versions.ListVersions"

	_, err := loadWorkflow(ctx, v.persistence, op, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	versions, err := v.persistence.VersionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, wrap(op, err)
	}

	if n := len(byStatus(versions, models.VersionStatusActive)); n > 1 {
		return nil, corruptState(op, "workflow", workflowID, "%d active versions", n)
	}

	if n := len(byStatus(versions, models.VersionStatusDraft)); n > 1 {
		return nil, corruptState(op, "workflow", workflowID, "%d draft versions", n)
	}

	return versions, nil
}

// ActiveVersion returns the runnable version of the workflow, or NotFound when none is active.
func (v *Versions) ActiveVersion(ctx context.Context, tenantID, workflowID string) (*models.WorkflowVersion, error) {
	return activeVersion(ctx, v.persistence, "Versions.ActiveVersion", tenantID, workflowID)
}

func activeVersion(ctx context.Context, p persistence.Persistence, op, tenantID, workflowID string) (*models.WorkflowVersion, error) {
	_, err := loadWorkflow(ctx, p, op, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	active, err := p.VersionRepository().ListByStatus(ctx, workflowID, models.VersionStatusActive)
	if err != nil {
		return nil, wrap(op, err)
	}

	switch len(active) {
	case 0:
		return nil, &EngineError{Op: op, Kind: KindNotFound, Entity: "workflow", ID: workflowID, Message: "workflow has no active version"}
	case 1:
		return active[0], nil
	default:
		return nil, corruptState(op, "workflow", workflowID, "%d active versions", len(active))
	}
}

func (v *Versions) newDraft(workflowID, actorID string, number int, g *models.Graph, metadata map[string]any) *models.WorkflowVersion {
	now := v.now()

	return &models.WorkflowVersion{
		ID:            newID(),
		WorkflowID:    workflowID,
		VersionNumber: number,
		Status:        models.VersionStatusDraft,
		Graph:         g,
		Metadata:      metadata,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func byStatus(versions []*models.WorkflowVersion, status models.VersionStatus) []*models.WorkflowVersion {
	matching := make([]*models.WorkflowVersion, 0, 1)

	for _, version := range versions {
		if version.Status == status {
			matching = append(matching, version)
		}
	}

	return matching
}

func findVersion(versions []*models.WorkflowVersion, id string) *models.WorkflowVersion {
	for _, version := range versions {
		if version.ID == id {
			return version
		}
	}

	return nil
}

func nextVersionNumber(versions []*models.WorkflowVersion) int {
	highest := 0

	for _, version := range versions {
		highest = max(highest, version.VersionNumber)
	}

	return highest + 1
}
