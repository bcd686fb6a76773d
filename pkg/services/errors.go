// Package services implements the onboarding engine: workflow definitions, version lifecycle and run orchestration.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/rules"
)

// Kind classifies every error the engine returns.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindInvalidState     Kind = "invalid_state"
	KindValidationFailed Kind = "validation_failed"
	KindUnresolvable     Kind = "unresolvable"
	KindUnavailable      Kind = "unavailable"
	KindTimeout          Kind = "timeout"
	KindCorruptState     Kind = "corrupt_state"
)

// One sentinel per kind, matched with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidationFailed = errors.New("validation failed")
	ErrUnresolvable     = errors.New("unresolvable")
	ErrUnavailable      = errors.New("unavailable")
	ErrTimeout          = errors.New("timeout")
	ErrCorruptState     = errors.New("corrupt state")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindInvalidState:
		return ErrInvalidState
	case KindValidationFailed:
		return ErrValidationFailed
	case KindUnresolvable:
		return ErrUnresolvable
	case KindTimeout:
		return ErrTimeout
	case KindCorruptState:
		return ErrCorruptState
	default:
		return ErrUnavailable
	}
}

// EngineError wraps an engine failure with its operation, kind and subject entity.
type EngineError struct {
	Op         string            // Operation name
	Kind       Kind              // Error classification
	Entity     string            // workflow, version, run, node_run
	ID         string            // Entity id
	Message    string            // Human-readable message
	Violations []graph.Violation // Set for KindValidationFailed on graphs
	Err        error             // Underlying error
}

func (e *EngineError) Error() string {
	var b strings.Builder

	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))

	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s %s", e.Entity, e.ID)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}

	return classify(err)
}

// classify maps collaborator errors to kinds. Unknown failures of external collaborators are Unavailable.
func classify(err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindUnavailable
	case persistence.IsNotFound(err), rules.IsAssigneeNotFound(err):
		return KindNotFound
	case persistence.IsCorruptDocument(err):
		return KindCorruptState
	case errors.Is(err, persistence.ErrDraftExists):
		return KindConflict
	case errors.Is(err, persistence.ErrVersionNotDraft), persistence.IsStaleTransition(err):
		return KindInvalidState
	case rules.IsUnresolvable(err):
		return KindUnresolvable
	case errors.Is(err, rules.ErrUnsupportedRule):
		return KindValidationFailed
	default:
		return KindUnavailable
	}
}

// wrap attaches op to err. Errors that already carry a kind are returned unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}

	return &EngineError{Op: op, Kind: classify(err), Err: err}
}

func notFound(op, entity, id string) error {
	return &EngineError{Op: op, Kind: KindNotFound, Entity: entity, ID: id}
}

func invalidState(op, entity, id, format string, args ...any) error {
	return &EngineError{Op: op, Kind: KindInvalidState, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

func corruptState(op, entity, id, format string, args ...any) error {
	return &EngineError{Op: op, Kind: KindCorruptState, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

func invalidGraph(op, versionID string, result graph.Result) error {
	return &EngineError{
		Op:         op,
		Kind:       KindValidationFailed,
		Entity:     "version",
		ID:         versionID,
		Message:    fmt.Sprintf("graph has %d violation(s)", len(result.Violations)),
		Violations: result.Violations,
	}
}

func invalidInput(op string, err error) error {
	return &EngineError{Op: op, Kind: KindValidationFailed, Message: err.Error(), Err: err}
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState checks if an error reports an illegal state transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsValidationFailed checks if an error is a validation failure.
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// ViolationsOf returns the graph violations carried by err, if any.
func ViolationsOf(err error) []graph.Violation {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Violations
	}

	return nil
}
