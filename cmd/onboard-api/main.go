// Package main provides the onboarding API server.
package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dukex/onboardflow/pkg/cmd"
	"github.com/dukex/onboardflow/pkg/log"
	"github.com/dukex/onboardflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "onboard-api",
		Usage:                 "Manage onboarding workflows and drive their runs over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Redis URL for cross-process locks, in-process locks when empty",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "directory-file",
				Usage:   "JSON file with users, groups and org units",
				Sources: cli.EnvVars("DIRECTORY_FILE"),
			},
			&cli.DurationFlag{
				Name:    "directory-ttl",
				Usage:   "How long directory lookups are cached",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("DIRECTORY_TTL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry spans over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			logger := log.WithModule("onboard-api")

			logger.InfoContext(ctx, "Initializing onboarding API")

			var tracer trace.Tracer

			if command.Bool("tracing") {
				t, shutdown, err := otelhelper.NewTracer(ctx, "onboard-api")
				if err != nil {
					return err
				}

				defer func() {
					err := shutdown(context.WithoutCancel(ctx))
					if err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = t
			}

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "api", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(ctx, logger, command.String("lock-url"))
			if err != nil {
				return err
			}

			if closer, ok := locker.(io.Closer); ok {
				defer func() {
					err := closer.Close()
					if err != nil {
						logger.ErrorContext(ctx, "Failed to close lock client", "error", err)
					}
				}()
			}

			var directory Directory

			dir, err := cmd.NewDirectory(command.String("directory-file"), command.Duration("directory-ttl"))
			if err != nil {
				return err
			}

			if dir != nil {
				directory = dir
			}

			api := NewAPI(logger, persistence, eventBus, locker, directory, tracer)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
