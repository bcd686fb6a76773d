package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/lib/pq"
)

const (
	runColumns = `id, tenant_id, workflow_id, workflow_version_id, subject_id, subject, status, started_at, ended_at,
		cancel_reason, metadata, created_by`
	nodeRunColumns = `id, run_id, node_id, node_type, sequence, status, started_at, completed_at, outcome, assignees, due_at`
)

// RunRepository handles workflow run and node run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Create inserts a run and its first node runs in one transaction.
func (r *RunRepository) Create(ctx context.Context, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error {
	subject, err := marshalJSON(run.Subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}

	metadata, err := marshalJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		run.ID,
		run.TenantID,
		run.WorkflowID,
		run.WorkflowVersionID,
		run.SubjectID,
		subject,
		string(run.Status),
		run.StartedAt,
		run.EndedAt,
		run.CancelReason,
		metadata,
		run.CreatedBy,
	)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to insert run: %w", err))
	}

	for _, nodeRun := range nodeRuns {
		err = insertNodeRun(ctx, tx, nodeRun)
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

// GetByID retrieves a run with its node runs ordered by sequence.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run.NodeRuns, err = r.queryNodeRuns(ctx, `
		SELECT `+nodeRunColumns+` FROM node_runs WHERE run_id = $1 ORDER BY sequence
	`, id)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetNodeRun retrieves a single node run by its ID.
func (r *RunRepository) GetNodeRun(ctx context.Context, id string) (*models.NodeRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeRunColumns+` FROM node_runs WHERE id = $1`, id)

	nodeRun, err := scanNodeRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNodeRunError("GetNodeRun", id, persistence.ErrNodeRunNotFound)
		}

		return nil, fmt.Errorf("failed to query node run: %w", err)
	}

	return nodeRun, nil
}

// ApplyTransition locks the run row, verifies the expectations and writes the change.
func (r *RunRepository) ApplyTransition(ctx context.Context, transition persistence.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	run := transition.Run

	var status string

	err = tx.QueryRowContext(ctx, `SELECT status FROM workflow_runs WHERE id = $1 FOR UPDATE`, run.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewRunError("ApplyTransition", run.ID, persistence.ErrRunNotFound)
		}

		return fmt.Errorf("failed to lock run: %w", err)
	}

	if transition.ExpectRun != "" && models.RunStatus(status) != transition.ExpectRun {
		return persistence.NewRunError("ApplyTransition", run.ID,
			fmt.Errorf("%w: run is %s, expected %s", persistence.ErrStaleTransition, status, transition.ExpectRun))
	}

	err = checkExpectations(ctx, tx, run.ID, transition.Expect)
	if err != nil {
		return err
	}

	for _, nodeRun := range transition.Updated {
		err = updateNodeRun(ctx, tx, nodeRun)
		if err != nil {
			return err
		}
	}

	for _, nodeRun := range transition.Created {
		err = insertNodeRun(ctx, tx, nodeRun)
		if err != nil {
			return err
		}
	}

	metadata, err := marshalJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $2, ended_at = $3, cancel_reason = $4, metadata = $5
		WHERE id = $1
	`, run.ID, string(run.Status), run.EndedAt, run.CancelReason, metadata)
	if err != nil {
		return persistence.NewRunError("ApplyTransition", run.ID, fmt.Errorf("failed to update run: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListOverdue returns open node runs of running runs due before cutoff, oldest due first.
func (r *RunRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.NodeRun, error) {
	query := `
		SELECT n.id, n.run_id, n.node_id, n.node_type, n.sequence, n.status, n.started_at, n.completed_at,
			n.outcome, n.assignees, n.due_at
		FROM node_runs n
		JOIN workflow_runs w ON w.id = n.run_id
		WHERE n.status IN ('PENDING', 'IN_PROGRESS')
		  AND n.due_at IS NOT NULL
		  AND n.due_at < $1
		  AND w.status = 'RUNNING'
		ORDER BY n.due_at, n.id
	`
	args := []any{cutoff}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	return r.queryNodeRuns(ctx, query, args...)
}

func (r *RunRepository) queryNodeRuns(ctx context.Context, query string, args ...any) ([]*models.NodeRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	nodeRuns := make([]*models.NodeRun, 0)

	for rows.Next() {
		nodeRun, err := scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

func checkExpectations(ctx context.Context, tx *sql.Tx, runID string, expectations []persistence.Expectation) error {
	if len(expectations) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expectations))
	for _, expectation := range expectations {
		ids = append(ids, expectation.NodeRunID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, status FROM node_runs WHERE run_id = $1 AND id = ANY($2)
	`, runID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query node run statuses: %w", err)
	}

	statuses := make(map[string]models.NodeRunStatus, len(ids))

	for rows.Next() {
		var id, status string

		err = rows.Scan(&id, &status)
		if err != nil {
			_ = rows.Close()

			return fmt.Errorf("failed to scan node run status: %w", err)
		}

		statuses[id] = models.NodeRunStatus(status)
	}

	err = rows.Close()
	if err != nil {
		return fmt.Errorf("failed to close rows: %w", err)
	}

	for _, expectation := range expectations {
		status, ok := statuses[expectation.NodeRunID]
		if !ok {
			return persistence.NewNodeRunError("ApplyTransition", expectation.NodeRunID, persistence.ErrNodeRunNotFound)
		}

		if status != expectation.Status {
			return persistence.NewNodeRunError("ApplyTransition", expectation.NodeRunID,
				fmt.Errorf("%w: node run is %s, expected %s", persistence.ErrStaleTransition, status, expectation.Status))
		}
	}

	return nil
}

func insertNodeRun(ctx context.Context, tx *sql.Tx, nodeRun *models.NodeRun) error {
	outcome, assignees, err := encodeNodeRun(nodeRun)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO node_runs (`+nodeRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		nodeRun.ID,
		nodeRun.RunID,
		nodeRun.NodeID,
		string(nodeRun.NodeType),
		nodeRun.Sequence,
		string(nodeRun.Status),
		nodeRun.StartedAt,
		nodeRun.CompletedAt,
		outcome,
		assignees,
		nodeRun.DueAt,
	)
	if err != nil {
		return persistence.NewNodeRunError("ApplyTransition", nodeRun.ID, fmt.Errorf("failed to insert node run: %w", err))
	}

	return nil
}

func updateNodeRun(ctx context.Context, tx *sql.Tx, nodeRun *models.NodeRun) error {
	outcome, assignees, err := encodeNodeRun(nodeRun)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE node_runs SET status = $3, completed_at = $4, outcome = $5, assignees = $6, due_at = $7
		WHERE id = $1 AND run_id = $2
	`,
		nodeRun.ID,
		nodeRun.RunID,
		string(nodeRun.Status),
		nodeRun.CompletedAt,
		outcome,
		assignees,
		nodeRun.DueAt,
	)
	if err != nil {
		return persistence.NewNodeRunError("ApplyTransition", nodeRun.ID, fmt.Errorf("failed to update node run: %w", err))
	}

	return expectAffected(result, persistence.NewNodeRunError("ApplyTransition", nodeRun.ID, persistence.ErrNodeRunNotFound))
}

func encodeNodeRun(nodeRun *models.NodeRun) ([]byte, []byte, error) {
	outcome, err := marshalJSON(nodeRun.Outcome)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}

	assignees, err := marshalJSON(nodeRun.Assignees)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal assignees: %w", err)
	}

	return outcome, assignees, nil
}

func scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run          models.WorkflowRun
		status       string
		subject      []byte
		metadata     []byte
		endedAt      sql.NullTime
		cancelReason sql.NullString
		createdBy    sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.WorkflowID,
		&run.WorkflowVersionID,
		&run.SubjectID,
		&subject,
		&status,
		&run.StartedAt,
		&endedAt,
		&cancelReason,
		&metadata,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.CancelReason = cancelReason.String
	run.CreatedBy = createdBy.String

	if endedAt.Valid {
		ended := endedAt.Time
		run.EndedAt = &ended
	}

	err = unmarshalJSON(subject, &run.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
	}

	err = unmarshalJSON(metadata, &run.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &run, nil
}

func scanNodeRun(row scanner) (*models.NodeRun, error) {
	var (
		nodeRun     models.NodeRun
		nodeType    string
		status      string
		completedAt sql.NullTime
		outcome     []byte
		assignees   []byte
		dueAt       sql.NullTime
	)

	err := row.Scan(
		&nodeRun.ID,
		&nodeRun.RunID,
		&nodeRun.NodeID,
		&nodeType,
		&nodeRun.Sequence,
		&status,
		&nodeRun.StartedAt,
		&completedAt,
		&outcome,
		&assignees,
		&dueAt,
	)
	if err != nil {
		return nil, err
	}

	nodeRun.NodeType = models.NodeType(nodeType)
	nodeRun.Status = models.NodeRunStatus(status)

	if completedAt.Valid {
		completed := completedAt.Time
		nodeRun.CompletedAt = &completed
	}

	if dueAt.Valid {
		due := dueAt.Time
		nodeRun.DueAt = &due
	}

	err = unmarshalJSON(outcome, &nodeRun.Outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}

	err = unmarshalJSON(assignees, &nodeRun.Assignees)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignees: %w", err)
	}

	return &nodeRun, nil
}
