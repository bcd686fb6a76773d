package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/mocks"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/dukex/onboardflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestVersions_ActivateForksNewDraft(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	workflow, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
	require.NoError(t, err)

	_, err = e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{
		Graph:    testutil.OnboardingGraph(),
		Metadata: map[string]any{"owner": "people-team"},
	})
	require.NoError(t, err)

	active, err := e.versions.Activate(ctx, tenantID, actorID, workflow.ID, draft.ID, "first release")
	require.NoError(t, err)

	assert.Equal(t, models.VersionStatusActive, active.Status)
	assert.Equal(t, "first release", active.Metadata[services.ActivationNotesKey])
	assert.Equal(t, "people-team", active.Metadata["owner"])
	require.NotNil(t, active.ActivatedAt)
	assert.Equal(t, e.clock.Now().UTC(), *active.ActivatedAt)

	versions, err := e.versions.ListVersions(ctx, tenantID, workflow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	drafts := versionsByStatus(versions, models.VersionStatusDraft)
	require.Len(t, drafts, 1)

	newDraft := drafts[0]
	assert.Equal(t, 2, newDraft.VersionNumber)
	assert.Equal(t, active.Graph, newDraft.Graph)
	assert.Equal(t, "people-team", newDraft.Metadata["owner"])
	assert.NotContains(t, newDraft.Metadata, services.ActivationNotesKey)

	notified := e.notified(events.VersionActivatedEvent)
	require.Len(t, notified, 1)

	activated := notified[0].(*events.VersionActivated)
	assert.Equal(t, active.ID, activated.VersionID)
	assert.Equal(t, newDraft.ID, activated.NewDraftID)
	assert.Empty(t, activated.PreviousVersionID)
}

func TestVersions_ActivateRetiresPreviousActive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	workflow, first := e.publish(t, testutil.OnboardingGraph())

	draft, created, err := e.versions.EnsureDraftExists(ctx, tenantID, actorID, workflow.ID)
	require.NoError(t, err)
	assert.False(t, created)

	second, err := e.versions.Activate(ctx, tenantID, actorID, workflow.ID, draft.ID, "")
	require.NoError(t, err)
	assert.NotContains(t, second.Metadata, services.ActivationNotesKey)

	versions, err := e.versions.ListVersions(ctx, tenantID, workflow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)

	active := versionsByStatus(versions, models.VersionStatusActive)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	inactive := versionsByStatus(versions, models.VersionStatusInactive)
	require.Len(t, inactive, 1)
	assert.Equal(t, first.ID, inactive[0].ID)

	assert.Len(t, versionsByStatus(versions, models.VersionStatusDraft), 1)

	current, err := e.versions.ActiveVersion(ctx, tenantID, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestVersions_ActivateEmptyGraphLeavesStateUnchanged(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	workflow, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
	require.NoError(t, err)

	_, err = e.versions.Activate(ctx, tenantID, actorID, workflow.ID, draft.ID, "")
	require.Error(t, err)

	assert.True(t, services.IsValidationFailed(err))

	violations := services.ViolationsOf(err)
	require.Len(t, violations, 1)
	assert.Equal(t, graph.CodeEmptyGraph, violations[0].Code)

	versions, err := e.versions.ListVersions(ctx, tenantID, workflow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, models.VersionStatusDraft, versions[0].Status)

	_, err = e.versions.ActiveVersion(ctx, tenantID, workflow.ID)
	assert.True(t, services.IsNotFound(err))
	assert.Empty(t, e.notified(events.VersionActivatedEvent))
}

func TestVersions_ActivateRejectsNonDraft(t *testing.T) {
	e := newEngine(t)

	workflow, active := e.publish(t, testutil.OnboardingGraph())

	_, err := e.versions.Activate(context.Background(), tenantID, actorID, workflow.ID, active.ID, "")
	require.Error(t, err)

	assert.True(t, services.IsInvalidState(err))
}

func TestVersions_ConcurrentActivationHasOneWinner(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	workflow, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
	require.NoError(t, err)

	_, err = e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{Graph: testutil.OnboardingGraph()})
	require.NoError(t, err)

	const attempts = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := e.versions.Activate(ctx, tenantID, actorID, workflow.ID, draft.ID, "")

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				succeeded++
			} else if services.IsInvalidState(err) {
				rejected++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	versions, err := e.versions.ListVersions(ctx, tenantID, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, versionsByStatus(versions, models.VersionStatusActive), 1)
	assert.Len(t, versionsByStatus(versions, models.VersionStatusDraft), 1)
}

func TestVersions_UpdateDraft(t *testing.T) {
	t.Run("invalid graph leaves the draft untouched", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
		require.NoError(t, err)

		broken := testutil.Graph("welcome",
			[]*models.Node{testutil.Node("welcome", models.NodeTypeTask)},
			testutil.Edge("welcome", "missing"),
		)

		_, err = e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{Graph: broken})
		require.Error(t, err)
		assert.True(t, services.IsValidationFailed(err))
		assert.NotEmpty(t, services.ViolationsOf(err))

		stored, err := e.versions.GetVersion(ctx, tenantID, draft.ID)
		require.NoError(t, err)
		assert.True(t, stored.Graph.IsEmpty())
	})

	t.Run("metadata only keeps the graph", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, draft, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
		require.NoError(t, err)

		_, err = e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{Graph: testutil.OnboardingGraph()})
		require.NoError(t, err)

		updated, err := e.versions.UpdateDraft(ctx, tenantID, draft.ID, services.DraftUpdate{Metadata: map[string]any{"owner": "hr"}})
		require.NoError(t, err)

		assert.Len(t, updated.Graph.Nodes, 4)
		assert.Equal(t, "hr", updated.Metadata["owner"])
	})

	t.Run("active versions are read-only", func(t *testing.T) {
		e := newEngine(t)

		_, active := e.publish(t, testutil.OnboardingGraph())

		_, err := e.versions.UpdateDraft(context.Background(), tenantID, active.ID, services.DraftUpdate{Graph: testutil.OnboardingGraph()})
		require.Error(t, err)
		assert.True(t, services.IsInvalidState(err))
	})
}

func TestVersions_CreateDraftConflictsWithExistingDraft(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	workflow, _, err := e.workflows.Create(ctx, tenantID, actorID, "Onboarding")
	require.NoError(t, err)

	_, err = e.versions.CreateDraft(ctx, tenantID, actorID, workflow.ID, nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestVersions_EnsureDraftExistsForksActive(t *testing.T) {
	store := mocks.NewMockPersistence()
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{ID: "wf-1", TenantID: tenantID, Name: "Onboarding"}
	active := &models.WorkflowVersion{
		ID:            "v-3",
		WorkflowID:    workflow.ID,
		VersionNumber: 3,
		Status:        models.VersionStatusActive,
		Graph:         testutil.OnboardingGraph(),
		Metadata:      map[string]any{services.ActivationNotesKey: "hotfix", "owner": "hr"},
	}
	retired := &models.WorkflowVersion{ID: "v-2", WorkflowID: workflow.ID, VersionNumber: 2, Status: models.VersionStatusInactive}

	store.Workflows.On("GetByID", mock.Anything, workflow.ID).Return(workflow, nil)
	store.Versions.On("ListByWorkflow", mock.Anything, workflow.ID).Return([]*models.WorkflowVersion{active, retired}, nil)
	store.Versions.On("CreateDraft", mock.Anything, mock.AnythingOfType("*models.WorkflowVersion")).Return(nil)

	e := newEngineWith(t, store)

	draft, created, err := e.versions.EnsureDraftExists(ctx, tenantID, actorID, workflow.ID)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, 4, draft.VersionNumber)
	assert.Equal(t, models.VersionStatusDraft, draft.Status)
	assert.Equal(t, active.Graph, draft.Graph)
	assert.Equal(t, map[string]any{"owner": "hr"}, draft.Metadata)

	store.Versions.AssertExpectations(t)
}

func TestVersions_EnsureDraftExistsRecoversFromRace(t *testing.T) {
	store := mocks.NewMockPersistence()

	workflow := &models.WorkflowDefinition{ID: "wf-1", TenantID: tenantID, Name: "Onboarding"}
	active := &models.WorkflowVersion{ID: "v-1", WorkflowID: workflow.ID, VersionNumber: 1, Status: models.VersionStatusActive, Graph: testutil.OnboardingGraph()}
	raced := &models.WorkflowVersion{ID: "v-2", WorkflowID: workflow.ID, VersionNumber: 2, Status: models.VersionStatusDraft}

	store.Workflows.On("GetByID", mock.Anything, workflow.ID).Return(workflow, nil)
	store.Versions.On("ListByWorkflow", mock.Anything, workflow.ID).Return([]*models.WorkflowVersion{active}, nil)
	store.Versions.On("CreateDraft", mock.Anything, mock.Anything).Return(persistence.ErrDraftExists)
	store.Versions.On("ListByStatus", mock.Anything, workflow.ID, models.VersionStatusDraft).Return([]*models.WorkflowVersion{raced}, nil)

	e := newEngineWith(t, store)

	draft, created, err := e.versions.EnsureDraftExists(context.Background(), tenantID, actorID, workflow.ID)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, raced.ID, draft.ID)
}

func TestVersions_ListVersionsDetectsCorruption(t *testing.T) {
	store := mocks.NewMockPersistence()

	workflow := &models.WorkflowDefinition{ID: "wf-1", TenantID: tenantID, Name: "Onboarding"}
	store.Workflows.On("GetByID", mock.Anything, workflow.ID).Return(workflow, nil)
	store.Versions.On("ListByWorkflow", mock.Anything, workflow.ID).Return([]*models.WorkflowVersion{
		{ID: "v-1", WorkflowID: workflow.ID, Status: models.VersionStatusActive},
		{ID: "v-2", WorkflowID: workflow.ID, Status: models.VersionStatusActive},
	}, nil)

	_, err := services.NewVersions(store).ListVersions(context.Background(), tenantID, workflow.ID)
	require.Error(t, err)

	assert.Equal(t, services.KindCorruptState, services.KindOf(err))
}
