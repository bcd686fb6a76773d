package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/onboardflow/pkg/reminders"
)

const shutdownTimeout = 30 * time.Second

type ReminderManager struct {
	id      string
	logger  *slog.Logger
	sweeper *reminders.Sweeper
}

func NewReminderManager(id string, sweeper *reminders.Sweeper, logger *slog.Logger) *ReminderManager {
	return &ReminderManager{
		id:      id,
		logger:  logger.With("module", "onboard-reminders", "reminder_id", id),
		sweeper: sweeper,
	}
}

// RunOnce performs a single sweep and returns.
func (m *ReminderManager) RunOnce(ctx context.Context) error {
	published, err := m.sweeper.Sweep(ctx)

	m.logger.InfoContext(ctx, "Sweep completed", "published", published)

	return err
}

// Start runs the sweeper on its schedule until the process receives SIGINT or SIGTERM.
func (m *ReminderManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting reminder manager")

	err := m.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	m.logger.InfoContext(ctx, "Shutting down reminder manager...")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return m.sweeper.Stop(stopCtx)
}
