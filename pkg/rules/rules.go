// Package rules evaluates the small rule language of onboarding graphs: condition criteria,
// assignment resolution and due-date offsets.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/onboardflow/pkg/models"
)

var (
	// ErrUnknownEntity is returned by Directory and Hierarchy implementations for ids they do not know.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnresolvable indicates a condition referenced an entity the hierarchy does not know.
	ErrUnresolvable = errors.New("condition is unresolvable")

	// ErrAssigneeNotFound indicates an assignment id is missing or unknown.
	ErrAssigneeNotFound = errors.New("assignee not found")

	// ErrUnsupportedRule indicates a rule value outside the supported set.
	ErrUnsupportedRule = errors.New("unsupported rule")
)

// Hierarchy answers ancestry questions about organizational units.
type Hierarchy interface {
	// IsAncestor reports whether ancestorID is a transitive parent of descendantID in the given dimension.
	// Unknown ids return an error wrapping ErrUnknownEntity.
	IsAncestor(ctx context.Context, field models.OrgField, ancestorID, descendantID string) (bool, error)
}

// Directory resolves people and groups.
type Directory interface {
	// ManagerOf returns the manager of userID, or "" when the user has none.
	ManagerOf(ctx context.Context, userID string) (string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	// GroupMembers returns the members of groupID. Unknown groups return an error wrapping ErrUnknownEntity.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// RuleError wraps a rule failure with the rule and entity it concerns.
type RuleError struct {
	Rule   string // condition, assignment
	Entity string
	Err    error
}

func (e *RuleError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s rule failed for %s: %v", e.Rule, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s rule failed: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// IsUnresolvable checks if an error indicates a condition could not be resolved.
func IsUnresolvable(err error) bool {
	return errors.Is(err, ErrUnresolvable)
}

// IsAssigneeNotFound checks if an error indicates an assignment could not be resolved.
func IsAssigneeNotFound(err error) bool {
	return errors.Is(err, ErrAssigneeNotFound)
}
