// Package reminders periodically reports open node runs whose due date has passed.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule    = "*/15 * * * *"
	DefaultBatchSize   = 500
	DefaultRepeatAfter = 24 * time.Hour
)

// Notifier publishes overdue notifications.
type Notifier interface {
	Notify(ctx context.Context, key string, event eventbus.Event) error
}

// Sweeper scans for overdue node runs on a cron schedule.
type Sweeper struct {
	runs        persistence.RunRepository
	notifier    Notifier
	logger      *slog.Logger
	clock       clockwork.Clock
	schedule    string
	batchSize   int
	repeatAfter time.Duration

	cron   *cron.Cron
	ctx    context.Context //nolint:containedctx // lifetime of the cron jobs
	cancel context.CancelFunc

	mu       sync.Mutex
	reported map[string]time.Time // node run id -> last notification
}

type Option func(*Sweeper)

// WithSchedule sets the standard five field cron expression of the sweep.
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) { s.schedule = schedule }
}

func WithBatchSize(size int) Option {
	return func(s *Sweeper) { s.batchSize = size }
}

// WithRepeatAfter sets how long a reported node run stays quiet before it is reported again.
func WithRepeatAfter(d time.Duration) Option {
	return func(s *Sweeper) { s.repeatAfter = d }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// NewSweeper creates a sweeper. It fails on an invalid cron expression.
func NewSweeper(runs persistence.RunRepository, notifier Notifier, logger *slog.Logger, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		runs:        runs,
		notifier:    notifier,
		logger:      logger.With("module", "reminders"),
		clock:       clockwork.NewRealClock(),
		schedule:    DefaultSchedule,
		batchSize:   DefaultBatchSize,
		repeatAfter: DefaultRepeatAfter,
		reported:    make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(s)
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", s.schedule, err)
	}

	return s, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		_, err := s.Sweep(s.ctx)
		if err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Reminder sweeper started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Reminder sweeper stopped")

	return nil
}

// Sweep reports up to the batch size of overdue node runs that were not reported within
// the repeat window. It returns the number of notifications published.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	// Quiet node runs are skipped below, so the listing is widened by their count
	// to keep them from filling the batch.
	quiet := s.forget(now)

	overdue, err := s.runs.ListOverdue(ctx, now, s.batchSize+quiet)
	if err != nil {
		return 0, fmt.Errorf("listing overdue node runs: %w", err)
	}

	runs := make(map[string]*models.WorkflowRun)
	published := 0
	attempted := 0

	var errs []error

	for _, nodeRun := range overdue {
		if attempted == s.batchSize {
			break
		}

		if nodeRun.DueAt == nil || s.recentlyReported(nodeRun.ID, now) {
			continue
		}

		attempted++

		run, ok := runs[nodeRun.RunID]
		if !ok {
			run, err = s.runs.GetByID(ctx, nodeRun.RunID)
			if err != nil {
				errs = append(errs, fmt.Errorf("loading run %s: %w", nodeRun.RunID, err))

				continue
			}

			runs[nodeRun.RunID] = run
		}

		err = s.notifier.Notify(ctx, run.ID, &events.NodeRunOverdue{
			BaseEvent: events.NewBaseEvent(events.NodeRunOverdueEvent, now, run.TenantID, run.WorkflowID),
			RunID:     run.ID,
			NodeRunID: nodeRun.ID,
			NodeID:    nodeRun.NodeID,
			NodeType:  nodeRun.NodeType,
			Assignees: nodeRun.Assignees,
			DueAt:     *nodeRun.DueAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notifying node run %s: %w", nodeRun.ID, err))

			continue
		}

		s.markReported(nodeRun.ID, now)
		published++
	}

	s.logger.Debug("Sweep finished", "overdue", len(overdue), "published", published)

	return published, errors.Join(errs...)
}

func (s *Sweeper) recentlyReported(nodeRunID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.reported[nodeRunID]

	return ok && now.Sub(last) < s.repeatAfter
}

func (s *Sweeper) markReported(nodeRunID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reported[nodeRunID] = now
}

// forget drops entries whose repeat window has passed and returns how many remain.
func (s *Sweeper) forget(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, last := range s.reported {
		if now.Sub(last) >= s.repeatAfter {
			delete(s.reported, id)
		}
	}

	return len(s.reported)
}
