package services_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/dukex/onboardflow/pkg/mocks"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/persistence/file"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	tenantID = "tenant-1"
	actorID  = "admin-1"
)

type engine struct {
	store      persistence.Persistence
	clock      *clockwork.FakeClock
	dispatcher *mocks.MockDispatcher
	workflows  *services.Workflows
	versions   *services.Versions
	runs       *services.Runs
}

func newEngine(t *testing.T, opts ...services.Option) *engine {
	t.Helper()

	return newEngineWith(t, file.NewPersistence(t.TempDir()), opts...)
}

func newEngineWith(t *testing.T, store persistence.Persistence, opts ...services.Option) *engine {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC))

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Maybe()
	dispatcher.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	all := []services.Option{
		services.WithClock(clock),
		services.WithLocker(lock.NewLocal()),
		services.WithLogger(slog.New(slog.DiscardHandler)),
		services.WithDispatcher(dispatcher),
		services.WithNotifier(dispatcher),
	}
	all = append(all, opts...)

	return &engine{
		store:      store,
		clock:      clock,
		dispatcher: dispatcher,
		workflows:  services.NewWorkflows(store, all...),
		versions:   services.NewVersions(store, all...),
		runs:       services.NewRuns(store, all...),
	}
}

// publish creates a workflow whose first version carries g and activates it.
func (e *engine) publish(t *testing.T, g *models.Graph) (*models.WorkflowDefinition, *models.WorkflowVersion) {
	t.Helper()

	ctx := context.Background()

	workflow, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Engineering onboarding")
	require.NoError(t, err)

	_, err = e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{Graph: g})
	require.NoError(t, err)

	active, err := e.versions.Activate(ctx, tenantID, actorID, workflow.ID, draft.ID, "")
	require.NoError(t, err)

	return workflow, active
}

func (e *engine) dispatched() []*events.NodeActivated {
	activated := make([]*events.NodeActivated, 0)

	for _, call := range e.dispatcher.Calls {
		if call.Method == "Dispatch" {
			activated = append(activated, call.Arguments.Get(1).(*events.NodeActivated))
		}
	}

	return activated
}

func (e *engine) notified(eventType events.EventType) []any {
	matching := make([]any, 0)

	for _, call := range e.dispatcher.Calls {
		if call.Method != "Notify" {
			continue
		}

		event := call.Arguments.Get(2)
		if typed, ok := event.(eventbus.Event); ok && typed.GetType() == eventType {
			matching = append(matching, event)
		}
	}

	return matching
}

func nodeRunFor(t *testing.T, run *models.WorkflowRun, nodeID string) *models.NodeRun {
	t.Helper()

	for _, nodeRun := range run.NodeRuns {
		if nodeRun.NodeID == nodeID {
			return nodeRun
		}
	}

	require.Failf(t, "node run not found", "run %s has no node run for %q", run.ID, nodeID)

	return nil
}

func versionsByStatus(versions []*models.WorkflowVersion, status models.VersionStatus) []*models.WorkflowVersion {
	matching := make([]*models.WorkflowVersion, 0)

	for _, version := range versions {
		if version.Status == status {
			matching = append(matching, version)
		}
	}

	return matching
}
