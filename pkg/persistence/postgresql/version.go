package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
)

const versionColumns = `id, workflow_id, version_number, status, graph, metadata, created_by, created_at, updated_at, activated_at`

// VersionRepository handles workflow version database operations.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

// GetByID retrieves a version by its ID.
func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE id = $1`, id)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewVersionError("GetByID", id, persistence.ErrVersionNotFound)
		}

		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	return version, nil
}

// ListByWorkflow returns every version of a workflow, newest first.
func (r *VersionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	exists, err := r.workflowExists(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, persistence.NewWorkflowError("ListByWorkflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return r.query(ctx, `
		SELECT `+versionColumns+` FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_number DESC
	`, workflowID)
}

// ListByStatus returns the workflow's versions with the given status.
func (r *VersionRepository) ListByStatus(ctx context.Context, workflowID string, status models.VersionStatus) ([]*models.WorkflowVersion, error) {
	exists, err := r.workflowExists(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, persistence.NewWorkflowError("ListByStatus", workflowID, persistence.ErrWorkflowNotFound)
	}

	return r.query(ctx, `
		SELECT `+versionColumns+` FROM workflow_versions
		WHERE workflow_id = $1 AND status = $2
		ORDER BY version_number DESC
	`, workflowID, string(status))
}

// CreateDraft inserts a draft. The partial unique index rejects a second draft.
func (r *VersionRepository) CreateDraft(ctx context.Context, version *models.WorkflowVersion) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	err = lockWorkflow(ctx, tx, "CreateDraft", version.WorkflowID)
	if err != nil {
		return err
	}

	err = insertVersion(ctx, tx, version)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateDraft replaces graph and metadata, only while the version is still a draft.
func (r *VersionRepository) UpdateDraft(ctx context.Context, version *models.WorkflowVersion) error {
	graph, err := marshalJSON(version.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	metadata, err := marshalJSON(version.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_versions SET graph = $2, metadata = $3, updated_at = $4
		WHERE id = $1 AND status = 'DRAFT'
	`, version.ID, graph, metadata, version.UpdatedAt)
	if err != nil {
		return persistence.NewVersionError("UpdateDraft", version.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	// Distinguish a missing version from one that left the draft state.
	_, err = r.GetByID(ctx, version.ID)
	if err != nil {
		return err
	}

	return persistence.NewVersionError("UpdateDraft", version.ID, persistence.ErrVersionNotDraft)
}

// Activate retires the active version, activates the draft and inserts the next draft in one transaction.
func (r *VersionRepository) Activate(ctx context.Context, params persistence.ActivateParams) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	err = lockWorkflow(ctx, tx, "Activate", params.WorkflowID)
	if err != nil {
		return err
	}

	var status string

	err = tx.QueryRowContext(ctx, `
		SELECT status FROM workflow_versions WHERE id = $1 AND workflow_id = $2 FOR UPDATE
	`, params.VersionID, params.WorkflowID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewVersionError("Activate", params.VersionID, persistence.ErrVersionNotFound)
		}

		return fmt.Errorf("failed to lock version: %w", err)
	}

	if models.VersionStatus(status) != models.VersionStatusDraft {
		return persistence.NewVersionError("Activate", params.VersionID, persistence.ErrVersionNotDraft)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_versions SET status = 'INACTIVE', updated_at = $2
		WHERE workflow_id = $1 AND status = 'ACTIVE'
	`, params.WorkflowID, params.ActivatedAt)
	if err != nil {
		return fmt.Errorf("failed to retire active version: %w", err)
	}

	metadata, err := marshalJSON(params.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_versions SET status = 'ACTIVE', metadata = $2, activated_at = $3, updated_at = $3
		WHERE id = $1
	`, params.VersionID, metadata, params.ActivatedAt)
	if err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}

	if params.NewDraft != nil {
		err = insertVersion(ctx, tx, params.NewDraft)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *VersionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

func (r *VersionRepository) workflowExists(ctx context.Context, workflowID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_definitions WHERE id = $1)`, workflowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow: %w", err)
	}

	return exists, nil
}

// lockWorkflow serializes version changes of one workflow on its definition row.
func lockWorkflow(ctx context.Context, tx *sql.Tx, op, workflowID string) error {
	var id string

	err := tx.QueryRowContext(ctx, `SELECT id FROM workflow_definitions WHERE id = $1 FOR UPDATE`, workflowID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError(op, workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to lock workflow: %w", err)
	}

	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, version *models.WorkflowVersion) error {
	graph, err := marshalJSON(version.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	if graph == nil {
		graph = []byte(`{}`)
	}

	metadata, err := marshalJSON(version.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		version.ID,
		version.WorkflowID,
		version.VersionNumber,
		string(version.Status),
		graph,
		metadata,
		version.CreatedBy,
		version.CreatedAt,
		version.UpdatedAt,
		version.ActivatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewWorkflowError("CreateDraft", version.WorkflowID, persistence.ErrDraftExists)
		}

		return persistence.NewVersionError("CreateDraft", version.ID, fmt.Errorf("failed to insert version: %w", err))
	}

	return nil
}

func scanVersion(row scanner) (*models.WorkflowVersion, error) {
	var (
		version   models.WorkflowVersion
		status    string
		graph     []byte
		metadata  []byte
		createdBy sql.NullString
		activated sql.NullTime
	)

	err := row.Scan(
		&version.ID,
		&version.WorkflowID,
		&version.VersionNumber,
		&status,
		&graph,
		&metadata,
		&createdBy,
		&version.CreatedAt,
		&version.UpdatedAt,
		&activated,
	)
	if err != nil {
		return nil, err
	}

	version.Status = models.VersionStatus(status)
	version.CreatedBy = createdBy.String

	var g models.Graph

	err = unmarshalJSON(graph, &g)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	version.Graph = &g

	err = unmarshalJSON(metadata, &version.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	if activated.Valid {
		activatedAt := activated.Time
		version.ActivatedAt = &activatedAt
	}

	return &version, nil
}
