package file

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
)

// workflowDocument is the on-disk aggregate of a definition and all of its versions.
type workflowDocument struct {
	Workflow *models.WorkflowDefinition `json:"workflow"`
	Versions []*models.WorkflowVersion  `json:"versions"`
}

func (d *workflowDocument) version(id string) *models.WorkflowVersion {
	for _, version := range d.Versions {
		if version.ID == id {
			return version
		}
	}

	return nil
}

func (d *workflowDocument) byStatus(status models.VersionStatus) []*models.WorkflowVersion {
	versions := make([]*models.WorkflowVersion, 0)

	for _, version := range d.Versions {
		if version.Status == status {
			versions = append(versions, version)
		}
	}

	return versions
}

func (s *store) loadWorkflow(op, workflowID string) (*workflowDocument, error) {
	var doc workflowDocument

	if err := s.read(workflowsDir, workflowID, &doc); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewWorkflowError(op, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	return &doc, nil
}

func (s *store) saveWorkflow(doc *workflowDocument) error {
	return s.write(workflowsDir, doc.Workflow.ID, doc)
}

// WorkflowRepository handles workflow definition file operations.
type WorkflowRepository struct {
	store *store
}

// Create stores the definition and its first draft in a single document.
func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.WorkflowDefinition, draft *models.WorkflowVersion) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if _, err := wr.store.loadWorkflow("Create", workflow.ID); err == nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("workflow %s already exists", workflow.ID))
	}

	doc := &workflowDocument{Workflow: workflow, Versions: []*models.WorkflowVersion{}}
	if draft != nil {
		doc.Versions = append(doc.Versions, draft)
	}

	if draft != nil {
		if err := wr.store.writeIndex(versionsDir, draft.ID, workflow.ID); err != nil {
			return err
		}
	}

	return wr.store.saveWorkflow(doc)
}

// GetByID retrieves a workflow definition by its ID.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	doc, err := wr.store.loadWorkflow("GetByID", id)
	if err != nil {
		return nil, err
	}

	return doc.Workflow, nil
}

// List returns the tenant's definitions newest first, optionally filtered by name.
func (wr *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	ids, err := wr.store.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		doc, err := wr.store.loadWorkflow("List", id)
		if err != nil {
			return nil, err
		}

		if opts.TenantID != "" && doc.Workflow.TenantID != opts.TenantID {
			continue
		}

		if query != "" && !strings.Contains(strings.ToLower(doc.Workflow.Name), query) {
			continue
		}

		workflows = append(workflows, doc.Workflow)
	}

	slices.SortFunc(workflows, func(a, b *models.WorkflowDefinition) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

// Update replaces the stored definition.
func (wr *WorkflowRepository) Update(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	doc, err := wr.store.loadWorkflow("Update", workflow.ID)
	if err != nil {
		return err
	}

	doc.Workflow = workflow

	return wr.store.saveWorkflow(doc)
}

// VersionRepository handles workflow version file operations inside the workflow document.
type VersionRepository struct {
	store *store
}

func (vr *VersionRepository) loadByVersion(op, versionID string) (*workflowDocument, *models.WorkflowVersion, error) {
	workflowID, err := vr.store.readIndex(versionsDir, versionID)
	if err != nil {
		if isNotExist(err) {
			return nil, nil, persistence.NewVersionError(op, versionID, persistence.ErrVersionNotFound)
		}

		return nil, nil, fmt.Errorf("failed to read version index %s: %w", versionID, err)
	}

	doc, err := vr.store.loadWorkflow(op, workflowID)
	if err != nil {
		return nil, nil, err
	}

	version := doc.version(versionID)
	if version == nil {
		return nil, nil, persistence.NewVersionError(op, versionID, persistence.ErrVersionNotFound)
	}

	return doc, version, nil
}

// GetByID retrieves a version by its ID.
func (vr *VersionRepository) GetByID(_ context.Context, id string) (*models.WorkflowVersion, error) {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	_, version, err := vr.loadByVersion("GetByID", id)

	return version, err
}

// ListByWorkflow returns every version of the workflow, highest version number first.
func (vr *VersionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	doc, err := vr.store.loadWorkflow("ListByWorkflow", workflowID)
	if err != nil {
		return nil, err
	}

	versions := slices.Clone(doc.Versions)
	slices.SortFunc(versions, func(a, b *models.WorkflowVersion) int {
		return cmp.Compare(b.VersionNumber, a.VersionNumber)
	})

	return versions, nil
}

// ListByStatus returns the workflow's versions with the given status.
func (vr *VersionRepository) ListByStatus(_ context.Context, workflowID string, status models.VersionStatus) ([]*models.WorkflowVersion, error) {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	doc, err := vr.store.loadWorkflow("ListByStatus", workflowID)
	if err != nil {
		return nil, err
	}

	return doc.byStatus(status), nil
}

// CreateDraft appends a draft version unless the workflow already has one.
func (vr *VersionRepository) CreateDraft(_ context.Context, version *models.WorkflowVersion) error {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	doc, err := vr.store.loadWorkflow("CreateDraft", version.WorkflowID)
	if err != nil {
		return err
	}

	if len(doc.byStatus(models.VersionStatusDraft)) > 0 {
		return persistence.NewWorkflowError("CreateDraft", version.WorkflowID, persistence.ErrDraftExists)
	}

	doc.Versions = append(doc.Versions, version)

	if err := vr.store.writeIndex(versionsDir, version.ID, version.WorkflowID); err != nil {
		return err
	}

	return vr.store.saveWorkflow(doc)
}

// UpdateDraft replaces the graph and metadata of a stored draft.
func (vr *VersionRepository) UpdateDraft(_ context.Context, version *models.WorkflowVersion) error {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	doc, stored, err := vr.loadByVersion("UpdateDraft", version.ID)
	if err != nil {
		return err
	}

	if stored.Status != models.VersionStatusDraft {
		return persistence.NewVersionError("UpdateDraft", version.ID, persistence.ErrVersionNotDraft)
	}

	stored.Graph = version.Graph
	stored.Metadata = version.Metadata
	stored.UpdatedAt = version.UpdatedAt

	return vr.store.saveWorkflow(doc)
}

// Activate performs the activation inside a single document write.
func (vr *VersionRepository) Activate(_ context.Context, params persistence.ActivateParams) error {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	doc, err := vr.store.loadWorkflow("Activate", params.WorkflowID)
	if err != nil {
		return err
	}

	target := doc.version(params.VersionID)
	if target == nil {
		return persistence.NewVersionError("Activate", params.VersionID, persistence.ErrVersionNotFound)
	}

	if target.Status != models.VersionStatusDraft {
		return persistence.NewVersionError("Activate", params.VersionID, persistence.ErrVersionNotDraft)
	}

	for _, version := range doc.byStatus(models.VersionStatusActive) {
		version.Status = models.VersionStatusInactive
		version.UpdatedAt = params.ActivatedAt
	}

	activatedAt := params.ActivatedAt
	target.Status = models.VersionStatusActive
	target.Metadata = params.Metadata
	target.ActivatedAt = &activatedAt
	target.UpdatedAt = activatedAt

	if params.NewDraft != nil {
		doc.Versions = append(doc.Versions, params.NewDraft)

		if err := vr.store.writeIndex(versionsDir, params.NewDraft.ID, params.WorkflowID); err != nil {
			return err
		}
	}

	return vr.store.saveWorkflow(doc)
}
