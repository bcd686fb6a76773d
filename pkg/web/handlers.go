// Package web provides HTTP handlers and REST API endpoints for onboarding workflows.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/onboardflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const tenantLocal = "tenant_id"

type APIHandlers struct {
	workflows *services.Workflows
	versions  *services.Versions
	runs      *services.Runs
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	workflows *services.Workflows,
	versions *services.Versions,
	runs *services.Runs,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		versions:  versions,
		runs:      runs,
		validator: validator,
		logger:    logger.With("module", "web"),
	}
}

// RequireTenant rejects requests without a tenant header.
func (h *APIHandlers) RequireTenant(c fiber.Ctx) error {
	tenantID := c.Get(TenantHeader)
	if tenantID == "" {
		return badRequest(c, TenantHeader+" header is required")
	}

	c.Locals(tenantLocal, tenantID)

	return c.Next()
}

func tenantOf(c fiber.Ctx) string {
	tenantID, _ := c.Locals(tenantLocal).(string)

	return tenantID
}

func actorOf(c fiber.Ctx) string {
	return c.Get(ActorHeader)
}

// bind decodes and validates a JSON body. An empty body leaves req untouched.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Onboarding API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if ok {
		status = "healthy"
		message = "Onboarding API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.List(c.Context(), tenantOf(c), c.Query("q"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	workflow, draft, err := h.workflows.Create(c.Context(), tenantOf(c), actorOf(c), req.Name)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateWorkflowResponse{Workflow: workflow, Draft: draft})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.Get(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) RenameWorkflow(c fiber.Ctx) error {
	var req RenameWorkflowRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	workflow, err := h.workflows.Rename(c.Context(), tenantOf(c), actorOf(c), c.Params("id"), req.Name)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	versions, err := h.versions.ListVersions(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetActiveVersion(c fiber.Ctx) error {
	version, err := h.versions.ActiveVersion(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) CreateDraft(c fiber.Ctx) error {
	var req CreateDraftRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	draft, err := h.versions.CreateDraft(c.Context(), tenantOf(c), actorOf(c), c.Params("id"), req.Graph)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) EnsureDraft(c fiber.Ctx) error {
	draft, created, err := h.versions.EnsureDraftExists(c.Context(), tenantOf(c), actorOf(c), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(EnsureDraftResponse{Draft: draft, Created: created})
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	version, err := h.versions.GetVersion(c.Context(), tenantOf(c), c.Params("versionId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	var req UpdateDraftRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	version, err := h.versions.UpdateDraft(c.Context(), tenantOf(c), c.Params("versionId"), services.DraftUpdate{
		Graph:    req.Graph,
		Metadata: req.Metadata,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) ActivateVersion(c fiber.Ctx) error {
	var req ActivateVersionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	version, err := h.versions.Activate(c.Context(), tenantOf(c), actorOf(c), c.Params("id"), c.Params("versionId"), req.Notes)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	run, err := h.runs.StartRun(c.Context(), tenantOf(c), actorOf(c), c.Params("id"), req.Subject, req.Metadata)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runs.GetRun(c.Context(), tenantOf(c), c.Params("runId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	var req CancelRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	run, err := h.runs.CancelRun(c.Context(), tenantOf(c), c.Params("runId"), req.Reason)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) StartNodeRun(c fiber.Ctx) error {
	nodeRun, err := h.runs.StartNodeRun(c.Context(), tenantOf(c), c.Params("nodeRunId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(nodeRun)
}

func (h *APIHandlers) CompleteNodeRun(c fiber.Ctx) error {
	var req CompleteNodeRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	run, err := h.runs.CompleteNodeRun(c.Context(), tenantOf(c), c.Params("nodeRunId"), req.Outcome)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) RedispatchNodeRun(c fiber.Ctx) error {
	err := h.runs.Redispatch(c.Context(), tenantOf(c), c.Params("nodeRunId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	api := router.Group("", h.RequireTenant)

	w := api.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.RenameWorkflow)
	w.Get("/:id/versions", h.ListVersions)
	w.Post("/:id/versions", h.CreateDraft)
	w.Post("/:id/versions/ensure-draft", h.EnsureDraft)
	w.Get("/:id/versions/active", h.GetActiveVersion)
	w.Post("/:id/versions/:versionId/activate", h.ActivateVersion)
	w.Post("/:id/runs", h.StartRun)

	api.Get("/versions/:versionId", h.GetVersion)
	api.Put("/versions/:versionId", h.UpdateDraft)

	api.Get("/runs/:runId", h.GetRun)
	api.Post("/runs/:runId/cancel", h.CancelRun)

	api.Post("/node-runs/:nodeRunId/start", h.StartNodeRun)
	api.Post("/node-runs/:nodeRunId/complete", h.CompleteNodeRun)
	api.Post("/node-runs/:nodeRunId/redispatch", h.RedispatchNodeRun)
}
