package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
)

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts the definition and its first draft in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition, draft *models.WorkflowVersion) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, tenant_id, name, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, workflow.ID, workflow.TenantID, workflow.Name, workflow.CreatedBy, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to insert workflow: %w", err))
	}

	if draft != nil {
		err = insertVersion(ctx, tx, draft)
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

// GetByID retrieves a workflow definition by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, created_by, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	return workflow, nil
}

// List returns definitions newest first, filtered by tenant and name.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, tenant_id, name, created_by, created_at, updated_at
		FROM workflow_definitions
		WHERE ($1::text = '' OR tenant_id = $1::text)
		  AND ($2::text = '' OR name ILIKE '%' || $2::text || '%')
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, opts.TenantID, escapeLike(strings.TrimSpace(opts.Query)))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// Update replaces the mutable fields of a definition.
func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_definitions SET name = $2, updated_at = $3 WHERE id = $1
	`, workflow.ID, workflow.Name, workflow.UpdatedAt)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	return expectAffected(result, persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound))
}

func scanWorkflow(row scanner) (*models.WorkflowDefinition, error) {
	var (
		workflow  models.WorkflowDefinition
		createdBy sql.NullString
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.TenantID,
		&workflow.Name,
		&createdBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.CreatedBy = createdBy.String

	return &workflow, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func expectAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
