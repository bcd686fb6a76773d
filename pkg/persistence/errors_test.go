package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		versionErr := persistence.NewVersionError("GetByID", "version-9", persistence.ErrVersionNotFound)
		nodeRunErr := persistence.NewNodeRunError("GetNodeRun", "node-run-1", persistence.ErrNodeRunNotFound)
		staleErr := persistence.NewRunError("ApplyTransition", "run-1", persistence.ErrStaleTransition)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsVersionNotFound(versionErr))
		assert.True(t, persistence.IsRunNotFound(nodeRunErr))
		assert.True(t, persistence.IsStaleTransition(staleErr))
		assert.True(t, persistence.IsNotFound(versionErr))
		assert.False(t, persistence.IsNotFound(staleErr))

		corruptErr := persistence.NewRunError("GetByID", "run-1", fmt.Errorf("%w: unexpected end of JSON input", persistence.ErrCorruptDocument))
		assert.True(t, persistence.IsCorruptDocument(corruptErr))
		assert.False(t, persistence.IsCorruptDocument(staleErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.False(t, errors.Is(workflowErr, persistence.ErrVersionNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Activate", "workflow-123", persistence.ErrVersionNotDraft)

		assert.Contains(t, err.Error(), "Activate")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "version is not a draft")
	})

	t.Run("version error names the version", func(t *testing.T) {
		err := persistence.NewVersionError("UpdateDraft", "version-9", persistence.ErrVersionNotDraft)

		assert.Contains(t, err.Error(), "version version-9")
	})

	t.Run("run error contains context", func(t *testing.T) {
		err := persistence.NewRunError("GetByID", "run-42", persistence.ErrRunNotFound)

		assert.Contains(t, err.Error(), "run run-42")
		assert.Contains(t, err.Error(), "run not found")
	})
}
