package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/onboardflow/pkg/cmd"
	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/log"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

var errInvalidGraph = errors.New("graph is invalid")

// session holds the services of one invocation.
type session struct {
	persistence persistence.Persistence
	workflows   *services.Workflows
	versions    *services.Versions
	tenantID    string
	actorID     string
}

func (s *session) Close(ctx context.Context) error {
	return s.persistence.Close(ctx)
}

func openSession(ctx context.Context, command *cli.Command) (*session, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("onboardctl")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithValidator(validator.New(validator.WithRequiredStructEnabled())),
	}

	return &session{
		persistence: store,
		workflows:   services.NewWorkflows(store, opts...),
		versions:    services.NewVersions(store, opts...),
		tenantID:    command.String("tenant"),
		actorID:     command.String("actor"),
	}, nil
}

// withSession opens the persistence for the duration of fn.
func withSession(fn func(ctx context.Context, command *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		s, err := openSession(ctx, command)
		if err != nil {
			return err
		}

		defer func() {
			err := s.Close(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to close persistence", "error", err)
			}
		}()

		return fn(ctx, command, s)
	}
}

func newCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:                  "onboardctl",
		Usage:                 "Validate onboarding graphs and manage workflow versions",
		EnableShellCompletion: true,
		Writer:                out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "tenant",
				Aliases: []string{"t"},
				Usage:   "Tenant the commands act on",
				Sources: cli.EnvVars("ONBOARD_TENANT"),
			},
			&cli.StringFlag{
				Name:    "actor",
				Usage:   "User recorded as the author of changes",
				Value:   "onboardctl",
				Sources: cli.EnvVars("ONBOARD_ACTOR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate a graph file",
				ArgsUsage: "<graph.json>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "activation",
						Usage: "Also apply the checks run before activation",
					},
				},
				Action: func(_ context.Context, command *cli.Command) error {
					return validateFile(out, command.Args().First(), command.Bool("activation"))
				},
			},
			{
				Name:    "workflows",
				Aliases: []string{"wf"},
				Usage:   "Manage workflow definitions",
				Commands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a workflow and its first draft",
						ArgsUsage: "<name>",
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							workflow, draft, err := s.workflows.Create(ctx, s.tenantID, s.actorID, command.Args().First())
							if err != nil {
								return err
							}

							return printJSON(out, map[string]any{"workflow": workflow, "draft": draft})
						}),
					},
					{
						Name:      "list",
						Usage:     "List workflows, optionally filtered by name",
						ArgsUsage: "[query]",
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							workflows, err := s.workflows.List(ctx, s.tenantID, command.Args().First())
							if err != nil {
								return err
							}

							return printJSON(out, workflows)
						}),
					},
				},
			},
			{
				Name:    "versions",
				Aliases: []string{"v"},
				Usage:   "Manage workflow versions",
				Commands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "List the versions of a workflow",
						ArgsUsage: "<workflow-id>",
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							versions, err := s.versions.ListVersions(ctx, s.tenantID, command.Args().First())
							if err != nil {
								return err
							}

							return printJSON(out, versions)
						}),
					},
					{
						Name:      "push",
						Usage:     "Replace the graph of a draft with the content of a file",
						ArgsUsage: "<version-id> <graph.json>",
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							g, err := readGraph(command.Args().Get(1))
							if err != nil {
								return err
							}

							version, err := s.versions.UpdateDraft(ctx, s.tenantID, command.Args().First(), services.DraftUpdate{Graph: g})
							if err != nil {
								return err
							}

							return printJSON(out, version)
						}),
					},
					{
						Name:      "ensure-draft",
						Usage:     "Return the draft of a workflow, creating one from the active version if needed",
						ArgsUsage: "<workflow-id>",
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							draft, created, err := s.versions.EnsureDraftExists(ctx, s.tenantID, s.actorID, command.Args().First())
							if err != nil {
								return err
							}

							return printJSON(out, map[string]any{"draft": draft, "created": created})
						}),
					},
					{
						Name:      "activate",
						Usage:     "Activate a draft",
						ArgsUsage: "<workflow-id> <version-id>",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "notes",
								Usage: "Activation notes stored on the version",
							},
						},
						Action: withSession(func(ctx context.Context, command *cli.Command, s *session) error {
							version, err := s.versions.Activate(ctx, s.tenantID, s.actorID, command.Args().First(), command.Args().Get(1), command.String("notes"))
							if err != nil {
								return err
							}

							return printJSON(out, version)
						}),
					},
				},
			},
		},
	}
}

func readGraph(path string) (*models.Graph, error) {
	if path == "" {
		return nil, errors.New("graph file is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var g models.Graph

	err = json.Unmarshal(raw, &g)
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph file %s: %w", path, err)
	}

	return &g, nil
}

func validateFile(out io.Writer, path string, activation bool) error {
	g, err := readGraph(path)
	if err != nil {
		return err
	}

	result := graph.Validate(g)
	if activation {
		result = graph.ValidateForActivation(g)
	}

	if result.Valid() {
		_, err = fmt.Fprintf(out, "%s: valid\n", path)

		return err
	}

	for _, v := range result.Violations {
		_, err = fmt.Fprintln(out, v.String())
		if err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %d violation(s)", errInvalidGraph, len(result.Violations))
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
