package models

import "time"

// RunStatus is the state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// NodeRunStatus is the state of a single step execution.
type NodeRunStatus string

const (
	NodeRunStatusPending    NodeRunStatus = "PENDING"
	NodeRunStatusInProgress NodeRunStatus = "IN_PROGRESS"
	NodeRunStatusCompleted  NodeRunStatus = "COMPLETED"
	NodeRunStatusSkipped    NodeRunStatus = "SKIPPED"
)

// IsOpen reports whether the node run still awaits completion.
func (s NodeRunStatus) IsOpen() bool {
	return s == NodeRunStatusPending || s == NodeRunStatusInProgress
}

// SubjectContext is the snapshot of the person being onboarded, taken when the run starts.
type SubjectContext struct {
	SubjectID  string              `json:"subject_id"           validate:"required"`
	ManagerID  string              `json:"manager_id,omitempty"`
	StartDate  *time.Time          `json:"start_date,omitempty" validate:"required"`
	EndDate    *time.Time          `json:"end_date,omitempty"`
	Org        map[OrgField]string `json:"org,omitempty"        validate:"omitempty,dive,keys,oneof=department location position manager legal_entity,endkeys,required"`
	Attributes map[string]any      `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the subject.
func (s SubjectContext) Clone() SubjectContext {
	clone := s

	if s.StartDate != nil {
		startDate := *s.StartDate
		clone.StartDate = &startDate
	}

	if s.EndDate != nil {
		endDate := *s.EndDate
		clone.EndDate = &endDate
	}

	if s.Org != nil {
		clone.Org = make(map[OrgField]string, len(s.Org))
		for k, v := range s.Org {
			clone.Org[k] = v
		}
	}

	clone.Attributes = CloneMap(s.Attributes)

	return clone
}

// WorkflowRun is one subject's execution of an ACTIVE workflow version.
type WorkflowRun struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	WorkflowID        string         `json:"workflow_id"`
	WorkflowVersionID string         `json:"workflow_version_id"`
	SubjectID         string         `json:"subject_id"`
	Subject           SubjectContext `json:"subject"`
	Status            RunStatus      `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedBy         string         `json:"created_by,omitempty"`
	NodeRuns          []*NodeRun     `json:"node_runs,omitempty"`
}

// OpenNodeRuns returns the node runs that are still pending or in progress.
func (r *WorkflowRun) OpenNodeRuns() []*NodeRun {
	open := make([]*NodeRun, 0)

	for _, nodeRun := range r.NodeRuns {
		if nodeRun.Status.IsOpen() {
			open = append(open, nodeRun)
		}
	}

	return open
}

// LastSequence returns the highest node run sequence of the run, or zero.
func (r *WorkflowRun) LastSequence() int {
	last := 0

	for _, nodeRun := range r.NodeRuns {
		if nodeRun.Sequence > last {
			last = nodeRun.Sequence
		}
	}

	return last
}

// NodeRun is the execution record of a single node within a run.
type NodeRun struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	Sequence    int            `json:"sequence"`
	Status      NodeRunStatus  `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Outcome     map[string]any `json:"outcome,omitempty"`
	Assignees   []string       `json:"assignees,omitempty"`
	DueAt       *time.Time     `json:"due_at,omitempty"`
}
