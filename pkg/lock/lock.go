// Package lock serializes mutations of one workflow or one run across goroutines and processes.
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when the lock could not be taken before the context ended.
var ErrLockTimeout = errors.New("lock not acquired")

// Locker takes an exclusive lock on a key. The returned function releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// WorkflowKey is the lock key guarding the versions of a workflow.
func WorkflowKey(workflowID string) string {
	return "workflow:" + workflowID
}

// RunKey is the lock key guarding a run and its node runs.
func RunKey(runID string) string {
	return "run:" + runID
}
