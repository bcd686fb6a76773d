package file

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
)

// RunRepository handles run file operations. A run document embeds its node runs.
type RunRepository struct {
	store *store
}

func (s *store) loadRun(op, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun

	if err := s.read(runsDir, runID, &run); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	slices.SortFunc(run.NodeRuns, func(a, b *models.NodeRun) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	return &run, nil
}

func (s *store) saveRun(run *models.WorkflowRun) error {
	return s.write(runsDir, run.ID, run)
}

// Create stores a run together with its first node runs.
func (rr *RunRepository) Create(_ context.Context, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	if _, err := rr.store.loadRun("Create", run.ID); err == nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("run %s already exists", run.ID))
	}

	doc := *run
	doc.NodeRuns = slices.Clone(nodeRuns)

	for _, nodeRun := range nodeRuns {
		if err := rr.store.writeIndex(nodeRunsDir, nodeRun.ID, run.ID); err != nil {
			return err
		}
	}

	return rr.store.saveRun(&doc)
}

// GetByID retrieves a run and its node runs ordered by sequence.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	return rr.store.loadRun("GetByID", id)
}

// GetNodeRun retrieves a node run through the node run index.
func (rr *RunRepository) GetNodeRun(_ context.Context, id string) (*models.NodeRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	runID, err := rr.store.readIndex(nodeRunsDir, id)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewNodeRunError("GetNodeRun", id, persistence.ErrNodeRunNotFound)
		}

		return nil, fmt.Errorf("failed to read node run index %s: %w", id, err)
	}

	run, err := rr.store.loadRun("GetNodeRun", runID)
	if err != nil {
		return nil, err
	}

	for _, nodeRun := range run.NodeRuns {
		if nodeRun.ID == id {
			return nodeRun, nil
		}
	}

	return nil, persistence.NewNodeRunError("GetNodeRun", id, persistence.ErrNodeRunNotFound)
}

// ApplyTransition checks every expectation against the stored run and rewrites the run document.
func (rr *RunRepository) ApplyTransition(_ context.Context, transition persistence.Transition) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	run, err := rr.store.loadRun("ApplyTransition", transition.Run.ID)
	if err != nil {
		return err
	}

	if transition.ExpectRun != "" && run.Status != transition.ExpectRun {
		return persistence.NewRunError("ApplyTransition", run.ID,
			fmt.Errorf("%w: run is %s, expected %s", persistence.ErrStaleTransition, run.Status, transition.ExpectRun))
	}

	byID := make(map[string]int, len(run.NodeRuns))
	for i, nodeRun := range run.NodeRuns {
		byID[nodeRun.ID] = i
	}

	for _, expectation := range transition.Expect {
		i, ok := byID[expectation.NodeRunID]
		if !ok {
			return persistence.NewNodeRunError("ApplyTransition", expectation.NodeRunID, persistence.ErrNodeRunNotFound)
		}

		if status := run.NodeRuns[i].Status; status != expectation.Status {
			return persistence.NewNodeRunError("ApplyTransition", expectation.NodeRunID,
				fmt.Errorf("%w: node run is %s, expected %s", persistence.ErrStaleTransition, status, expectation.Status))
		}
	}

	for _, updated := range transition.Updated {
		i, ok := byID[updated.ID]
		if !ok {
			return persistence.NewNodeRunError("ApplyTransition", updated.ID, persistence.ErrNodeRunNotFound)
		}

		run.NodeRuns[i] = updated
	}

	for _, created := range transition.Created {
		if err := rr.store.writeIndex(nodeRunsDir, created.ID, run.ID); err != nil {
			return err
		}

		run.NodeRuns = append(run.NodeRuns, created)
	}

	header := *transition.Run
	header.NodeRuns = run.NodeRuns

	return rr.store.saveRun(&header)
}

// ListOverdue scans running runs for open node runs due before cutoff.
func (rr *RunRepository) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]*models.NodeRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	ids, err := rr.store.ids(runsDir)
	if err != nil {
		return nil, err
	}

	overdue := make([]*models.NodeRun, 0)

	for _, id := range ids {
		run, err := rr.store.loadRun("ListOverdue", id)
		if err != nil {
			return nil, err
		}

		if run.Status != models.RunStatusRunning {
			continue
		}

		for _, nodeRun := range run.NodeRuns {
			if nodeRun.Status.IsOpen() && nodeRun.DueAt != nil && nodeRun.DueAt.Before(cutoff) {
				overdue = append(overdue, nodeRun)
			}
		}
	}

	slices.SortFunc(overdue, func(a, b *models.NodeRun) int {
		if c := a.DueAt.Compare(*b.DueAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}

	return overdue, nil
}
