package reminders_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/mocks"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/reminders"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func overdueFixture(now time.Time) (*models.WorkflowRun, []*models.NodeRun) {
	due := now.Add(-time.Hour)

	run := &models.WorkflowRun{
		ID:         "run-1",
		TenantID:   "tenant-1",
		WorkflowID: "wf-1",
		Status:     models.RunStatusRunning,
	}

	nodeRuns := []*models.NodeRun{
		{ID: "nr-1", RunID: run.ID, NodeID: "welcome", NodeType: models.NodeTypeTask, Status: models.NodeRunStatusPending, Assignees: []string{"u-1"}, DueAt: &due},
		{ID: "nr-2", RunID: run.ID, NodeID: "laptop", NodeType: models.NodeTypeForm, Status: models.NodeRunStatusInProgress, Assignees: []string{"it"}, DueAt: &due},
	}

	return run, nodeRuns
}

func TestNewSweeper_RejectsInvalidSchedule(t *testing.T) {
	_, err := reminders.NewSweeper(&mocks.MockRunRepository{}, &mocks.MockDispatcher{}, slog.New(slog.DiscardHandler), reminders.WithSchedule("every minute"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestSweeper_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC))
	run, overdue := overdueFixture(clock.Now())

	runs := &mocks.MockRunRepository{}
	runs.On("ListOverdue", mock.Anything, mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).Return(overdue, nil)
	runs.On("GetByID", mock.Anything, run.ID).Return(run, nil)

	notifier := &mocks.MockDispatcher{}
	notifier.On("Notify", mock.Anything, run.ID, mock.AnythingOfType("*events.NodeRunOverdue")).Return(nil)

	sweeper, err := reminders.NewSweeper(runs, notifier, slog.New(slog.DiscardHandler),
		reminders.WithClock(clock),
		reminders.WithBatchSize(50),
		reminders.WithRepeatAfter(6*time.Hour),
	)
	require.NoError(t, err)

	published, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	event := notifier.Calls[0].Arguments.Get(2).(*events.NodeRunOverdue)
	assert.Equal(t, "tenant-1", event.TenantID)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "nr-1", event.NodeRunID)
	assert.Equal(t, []string{"u-1"}, event.Assignees)

	runs.AssertNumberOfCalls(t, "GetByID", 1)
	assert.Equal(t, 50, runs.Calls[0].Arguments.Int(2))

	// Within the repeat window nothing is reported again.
	clock.Advance(time.Hour)

	published, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, published)

	clock.Advance(6 * time.Hour)

	published, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	notifier.AssertNumberOfCalls(t, "Notify", 4)
}

func TestSweeper_ReportedRowsDoNotFillTheBatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC))
	run, overdue := overdueFixture(clock.Now())

	runs := &mocks.MockRunRepository{}
	runs.On("ListOverdue", mock.Anything, mock.Anything, 1).Return(overdue[:1], nil)
	runs.On("ListOverdue", mock.Anything, mock.Anything, 2).Return(overdue, nil)
	runs.On("ListOverdue", mock.Anything, mock.Anything, 3).Return(overdue, nil)
	runs.On("GetByID", mock.Anything, run.ID).Return(run, nil)

	notifier := &mocks.MockDispatcher{}
	notifier.On("Notify", mock.Anything, run.ID, mock.AnythingOfType("*events.NodeRunOverdue")).Return(nil)

	sweeper, err := reminders.NewSweeper(runs, notifier, slog.New(slog.DiscardHandler),
		reminders.WithClock(clock),
		reminders.WithBatchSize(1),
	)
	require.NoError(t, err)

	want := []int{1, 1, 0}
	for i, expected := range want {
		if i > 0 {
			clock.Advance(15 * time.Minute)
		}

		published, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected, published, "sweep %d", i+1)
	}

	reported := make([]string, 0, len(notifier.Calls))
	for _, call := range notifier.Calls {
		reported = append(reported, call.Arguments.Get(2).(*events.NodeRunOverdue).NodeRunID)
	}

	assert.Equal(t, []string{"nr-1", "nr-2"}, reported)
}

func TestSweeper_BatchSizeCapsNotifications(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC))
	run, overdue := overdueFixture(clock.Now())

	runs := &mocks.MockRunRepository{}
	runs.On("ListOverdue", mock.Anything, mock.Anything, mock.AnythingOfType("int")).Return(overdue, nil)
	runs.On("GetByID", mock.Anything, run.ID).Return(run, nil)

	notifier := &mocks.MockDispatcher{}
	notifier.On("Notify", mock.Anything, run.ID, mock.Anything).Return(nil)

	sweeper, err := reminders.NewSweeper(runs, notifier, slog.New(slog.DiscardHandler),
		reminders.WithClock(clock),
		reminders.WithBatchSize(1),
	)
	require.NoError(t, err)

	published, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestSweeper_NotifyFailureIsRetriedNextSweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC))
	run, overdue := overdueFixture(clock.Now())

	runs := &mocks.MockRunRepository{}
	runs.On("ListOverdue", mock.Anything, mock.Anything, reminders.DefaultBatchSize).Return(overdue[:1], nil)
	runs.On("GetByID", mock.Anything, run.ID).Return(run, nil)

	notifier := &mocks.MockDispatcher{}
	notifier.On("Notify", mock.Anything, run.ID, mock.Anything).Return(errors.New("broker down")).Once()
	notifier.On("Notify", mock.Anything, run.ID, mock.Anything).Return(nil).Once()

	sweeper, err := reminders.NewSweeper(runs, notifier, slog.New(slog.DiscardHandler), reminders.WithClock(clock))
	require.NoError(t, err)

	published, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, published)

	published, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestSweeper_ListFailure(t *testing.T) {
	runs := &mocks.MockRunRepository{}
	runs.On("ListOverdue", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	sweeper, err := reminders.NewSweeper(runs, &mocks.MockDispatcher{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing overdue node runs")
}

func TestSweeper_StartStop(t *testing.T) {
	runs := &mocks.MockRunRepository{}

	sweeper, err := reminders.NewSweeper(runs, &mocks.MockDispatcher{}, slog.New(slog.DiscardHandler), reminders.WithSchedule("0 3 * * *"))
	require.NoError(t, err)

	require.NoError(t, sweeper.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sweeper.Stop(ctx))
}
