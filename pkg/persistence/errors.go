// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates a workflow version was not found by the given identifier.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrDraftExists indicates the workflow already has a draft version.
	ErrDraftExists = errors.New("draft version already exists")

	// ErrVersionNotDraft indicates a draft-only operation hit a version that is not a draft.
	ErrVersionNotDraft = errors.New("version is not a draft")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrNodeRunNotFound indicates a node run was not found by the given identifier.
	ErrNodeRunNotFound = errors.New("node run not found")

	// ErrStaleTransition indicates the stored run changed since the transition was computed.
	ErrStaleTransition = errors.New("stale transition")

	// ErrCorruptDocument indicates a stored document or column could not be decoded.
	ErrCorruptDocument = errors.New("corrupt stored document")
)

// WorkflowError wraps workflow and version errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Activate")
	WorkflowID string // Workflow ID if applicable
	VersionID  string // Version ID if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	target := "workflow " + e.WorkflowID
	if e.VersionID != "" {
		target = "version " + e.VersionID
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, target, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// NewVersionError creates a new workflow error for version operations.
func NewVersionError(op, versionID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, VersionID: versionID, Err: err}
}

// RunError wraps run and node run errors with additional context.
type RunError struct {
	Op        string
	RunID     string
	NodeRunID string
	Err       error
}

func (e *RunError) Error() string {
	if e.NodeRunID != "" {
		return fmt.Sprintf("%s operation failed for node run %s: %v", e.Op, e.NodeRunID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// NewNodeRunError creates a new run error for node run operations.
func NewNodeRunError(op, nodeRunID string, err error) *RunError {
	return &RunError{Op: op, NodeRunID: nodeRunID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsVersionNotFound checks if an error indicates a version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsRunNotFound checks if an error indicates a run or node run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrNodeRunNotFound)
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsVersionNotFound(err) || IsRunNotFound(err)
}

// IsCorruptDocument checks if an error indicates stored data that cannot be decoded.
func IsCorruptDocument(err error) bool {
	return errors.Is(err, ErrCorruptDocument)
}

// IsStaleTransition checks if an error indicates a lost compare-and-swap.
func IsStaleTransition(err error) bool {
	return errors.Is(err, ErrStaleTransition)
}
