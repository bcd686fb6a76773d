package web

import (
	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// validationProblem extends a problem with the graph violations of a rejected version.
type validationProblem struct {
	*problems.Problem

	Violations []graph.Violation `json:"violations,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("bad_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict, services.KindInvalidState:
		return fiber.StatusConflict
	case services.KindValidationFailed, services.KindUnresolvable:
		return fiber.StatusUnprocessableEntity
	case services.KindUnavailable:
		return fiber.StatusServiceUnavailable
	case services.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// handleServiceError maps an engine error kind to an RFC 7807 problem.
func (h *APIHandlers) handleServiceError(c fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	status := statusFor(kind)

	if status >= fiber.StatusInternalServerError {
		h.logger.ErrorContext(c.Context(), "request failed", "path", c.Path(), "kind", kind, "error", err)
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(string(kind))

	if status >= fiber.StatusInternalServerError {
		problem = problem.WithDetail(problem.Title)
	} else {
		problem = problem.WithError(err)
	}

	if violations := services.ViolationsOf(err); len(violations) > 0 {
		return c.Status(status).JSON(validationProblem{Problem: problem, Violations: violations})
	}

	return c.Status(status).JSON(problem)
}
