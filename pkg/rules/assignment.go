package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/onboardflow/pkg/models"
)

// AssignmentResolver turns an AssignmentConfig into a sorted set of user ids.
type AssignmentResolver struct {
	directory Directory
}

// NewAssignmentResolver creates a resolver backed by the given directory.
func NewAssignmentResolver(directory Directory) *AssignmentResolver {
	return &AssignmentResolver{directory: directory}
}

// Resolve returns the assignees for cfg. assignee_manager may resolve to nobody.
func (r *AssignmentResolver) Resolve(ctx context.Context, cfg models.AssignmentConfig, subject models.SubjectContext) ([]string, error) {
	switch cfg.Mode {
	case models.AssignmentModeAssignee:
		return []string{subject.SubjectID}, nil
	case models.AssignmentModeAssigneeManager:
		if subject.ManagerID != "" {
			return []string{subject.ManagerID}, nil
		}

		if r.directory == nil {
			return []string{}, nil
		}

		manager, err := r.directory.ManagerOf(ctx, subject.SubjectID)
		if err != nil {
			if errors.Is(err, ErrUnknownEntity) {
				return []string{}, nil
			}

			return nil, fmt.Errorf("manager lookup failed: %w", err)
		}

		if manager == "" {
			return []string{}, nil
		}

		return []string{manager}, nil
	case models.AssignmentModeUser:
		if cfg.ID == "" {
			return nil, notFound(cfg, "user id is missing")
		}

		if r.directory == nil {
			return nil, notFound(cfg, "no directory configured")
		}

		exists, err := r.directory.UserExists(ctx, cfg.ID)
		if err != nil {
			if errors.Is(err, ErrUnknownEntity) {
				return nil, notFound(cfg, "user is unknown")
			}

			return nil, fmt.Errorf("user lookup failed: %w", err)
		}

		if !exists {
			return nil, notFound(cfg, "user is unknown")
		}

		return []string{cfg.ID}, nil
	case models.AssignmentModeGroup:
		if cfg.ID == "" {
			return nil, notFound(cfg, "group id is missing")
		}

		if r.directory == nil {
			return nil, notFound(cfg, "no directory configured")
		}

		members, err := r.directory.GroupMembers(ctx, cfg.ID)
		if err != nil {
			if errors.Is(err, ErrUnknownEntity) {
				return nil, notFound(cfg, "group is unknown")
			}

			return nil, fmt.Errorf("group lookup failed: %w", err)
		}

		return sortedSet(members), nil
	default:
		return nil, &RuleError{Rule: "assignment", Err: fmt.Errorf("%w: mode %q", ErrUnsupportedRule, cfg.Mode)}
	}
}

func notFound(cfg models.AssignmentConfig, reason string) error {
	return &RuleError{
		Rule:   "assignment",
		Entity: fmt.Sprintf("%s %q", cfg.Mode, cfg.ID),
		Err:    fmt.Errorf("%w: %s", ErrAssigneeNotFound, reason),
	}
}

func sortedSet(ids []string) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}
