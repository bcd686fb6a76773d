// Package main provides the reminder sweeper that reports overdue onboarding steps.
package main

import (
	"context"
	"os"

	"github.com/dukex/onboardflow/pkg/cmd"
	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/log"
	"github.com/dukex/onboardflow/pkg/reminders"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "onboard-reminders",
		EnableShellCompletion: true,
		Usage:                 "Publish node_run.overdue events for open steps past their due date",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "reminder-id",
				Aliases: []string{"id"},
				Usage:   "Custom instance ID (auto-generated if not provided)",
				Sources: cli.EnvVars("REMINDER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression of the sweep",
				Value:   reminders.DefaultSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum overdue node runs reported per sweep",
				Value:   reminders.DefaultBatchSize,
				Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "repeat-after",
				Usage:   "Quiet period before an overdue node run is reported again",
				Value:   reminders.DefaultRepeatAfter,
				Sources: cli.EnvVars("REMINDER_REPEAT_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "once",
				Usage:   "Run a single sweep and exit",
				Sources: cli.EnvVars("SWEEP_ONCE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			reminderID := command.String("reminder-id")
			if reminderID == "" {
				reminderID = "reminders-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("onboard-reminders").With("reminderId", reminderID)

			logger.InfoContext(ctx, "Initializing reminder sweeper")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "reminders", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			sweeper, err := reminders.NewSweeper(
				persistence.RunRepository(),
				eventbus.NewDispatcher(eventBus),
				logger,
				reminders.WithSchedule(command.String("schedule")),
				reminders.WithBatchSize(command.Int("batch-size")),
				reminders.WithRepeatAfter(command.Duration("repeat-after")),
			)
			if err != nil {
				return err
			}

			manager := NewReminderManager(reminderID, sweeper, logger)

			if command.Bool("once") {
				return manager.RunOnce(ctx)
			}

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to run reminder sweeper", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
