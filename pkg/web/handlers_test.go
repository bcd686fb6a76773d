package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/onboardflow/pkg/graph"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/persistence/file"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/dukex/onboardflow/pkg/testutil"
	"github.com/dukex/onboardflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "tenant-1"

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.DiscardHandler)
	opts := []services.Option{services.WithLogger(logger)}

	handlers := web.NewAPIHandlers(
		services.NewWorkflows(store, opts...),
		services.NewVersions(store, opts...),
		services.NewRuns(store, opts...),
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	app := fiber.New()
	handlers.Routes(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.TenantHeader, tenantID)
	req.Header.Set(web.ActorHeader, "admin-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(raw, &value), string(raw))

	return value
}

func createWorkflow(t *testing.T, app *fiber.App) web.CreateWorkflowResponse {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{Name: "Engineering onboarding"})
	require.Equal(t, http.StatusCreated, status, string(body))

	return decode[web.CreateWorkflowResponse](t, body)
}

func publish(t *testing.T, app *fiber.App) web.CreateWorkflowResponse {
	t.Helper()

	created := createWorkflow(t, app)

	status, body := doRequest(t, app, http.MethodPut, "/versions/"+created.Draft.ID, web.UpdateDraftRequest{Graph: testutil.OnboardingGraph()})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doRequest(t, app, http.MethodPost, "/workflows/"+created.Workflow.ID+"/versions/"+created.Draft.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	return created
}

func TestAPIHandlers_RequireTenant(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{name: "successful creation", requestBody: web.CreateWorkflowRequest{Name: "Sales onboarding"}, expectedStatus: http.StatusCreated},
		{name: "missing name", requestBody: web.CreateWorkflowRequest{}, expectedStatus: http.StatusBadRequest},
		{name: "invalid JSON", requestBody: "invalid-json", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if status != http.StatusCreated {
				return
			}

			created := decode[web.CreateWorkflowResponse](t, body)
			assert.Equal(t, "Sales onboarding", created.Workflow.Name)
			assert.Equal(t, tenantID, created.Workflow.TenantID)
			assert.Equal(t, 1, created.Draft.VersionNumber)
			assert.Equal(t, models.VersionStatusDraft, created.Draft.Status)
		})
	}
}

func TestAPIHandlers_GetAndRenameWorkflow(t *testing.T) {
	app := setupTestApp(t)
	created := createWorkflow(t, app)

	status, body := doRequest(t, app, http.MethodPatch, "/workflows/"+created.Workflow.ID, web.RenameWorkflowRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doRequest(t, app, http.MethodGet, "/workflows/"+created.Workflow.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", decode[models.WorkflowDefinition](t, body).Name)

	status, body = doRequest(t, app, http.MethodGet, "/workflows?q=renam", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", decode[map[string]any](t, body)["type"])
}

func TestAPIHandlers_UpdateDraftReportsViolations(t *testing.T) {
	app := setupTestApp(t)
	created := createWorkflow(t, app)

	broken := testutil.Graph("welcome",
		[]*models.Node{testutil.Node("welcome", models.NodeTypeTask)},
		testutil.Edge("welcome", "missing"),
	)

	status, body := doRequest(t, app, http.MethodPut, "/versions/"+created.Draft.ID, web.UpdateDraftRequest{Graph: broken})
	require.Equal(t, http.StatusUnprocessableEntity, status, string(body))

	problem := decode[struct {
		Type       string            `json:"type"`
		Status     int               `json:"status"`
		Violations []graph.Violation `json:"violations"`
	}](t, body)

	assert.Equal(t, string(services.KindValidationFailed), problem.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	require.NotEmpty(t, problem.Violations)
	assert.Equal(t, graph.CodeDanglingEdge, problem.Violations[0].Code)
}

func TestAPIHandlers_VersionLifecycle(t *testing.T) {
	app := setupTestApp(t)
	created := publish(t, app)
	base := "/workflows/" + created.Workflow.ID

	status, body := doRequest(t, app, http.MethodGet, base+"/versions/active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.Draft.ID, decode[models.WorkflowVersion](t, body).ID)

	status, body = doRequest(t, app, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[map[string][]models.WorkflowVersion](t, body)["versions"], 2)

	status, body = doRequest(t, app, http.MethodPost, base+"/versions/ensure-draft", nil)
	require.Equal(t, http.StatusOK, status)
	ensured := decode[web.EnsureDraftResponse](t, body)
	assert.False(t, ensured.Created)
	assert.Equal(t, 2, ensured.Draft.VersionNumber)

	status, _ = doRequest(t, app, http.MethodPost, base+"/versions", web.CreateDraftRequest{})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doRequest(t, app, http.MethodPost, base+"/versions/"+created.Draft.ID+"/activate", web.ActivateVersionRequest{Notes: "again"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doRequest(t, app, http.MethodPut, "/versions/"+created.Draft.ID, web.UpdateDraftRequest{Metadata: map[string]any{"k": "v"}})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	app := setupTestApp(t)
	created := publish(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.Workflow.ID+"/runs", web.StartRunRequest{Subject: testutil.Subject()})
	require.Equal(t, http.StatusCreated, status, string(body))

	run := decode[models.WorkflowRun](t, body)
	require.Len(t, run.NodeRuns, 1)

	welcome := run.NodeRuns[0]

	status, body = doRequest(t, app, http.MethodPost, "/node-runs/"+welcome.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.NodeRunStatusInProgress, decode[models.NodeRun](t, body).Status)

	status, body = doRequest(t, app, http.MethodPost, "/node-runs/"+welcome.ID+"/complete", web.CompleteNodeRunRequest{Outcome: map[string]any{"done": true}})
	require.Equal(t, http.StatusOK, status, string(body))

	run = decode[models.WorkflowRun](t, body)
	assert.Len(t, run.NodeRuns, 3)

	status, _ = doRequest(t, app, http.MethodPost, "/node-runs/"+welcome.ID+"/complete", web.CompleteNodeRunRequest{Outcome: map[string]any{"done": false}})
	assert.Equal(t, http.StatusConflict, status)

	status, body = doRequest(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{Reason: "withdrawn"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.RunStatusCancelled, decode[models.WorkflowRun](t, body).Status)

	status, body = doRequest(t, app, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "withdrawn", decode[models.WorkflowRun](t, body).CancelReason)
}

func TestAPIHandlers_StartRunFailures(t *testing.T) {
	app := setupTestApp(t)
	created := createWorkflow(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.Workflow.ID+"/runs", web.StartRunRequest{Subject: testutil.Subject()})
	assert.Equal(t, http.StatusNotFound, status, string(body))

	subject := testutil.Subject(func(s *models.SubjectContext) { s.SubjectID = "" })

	status, _ = doRequest(t, app, http.MethodPost, "/workflows/"+created.Workflow.ID+"/runs", web.StartRunRequest{Subject: subject})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_RedispatchWithoutDispatcher(t *testing.T) {
	app := setupTestApp(t)
	created := publish(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.Workflow.ID+"/runs", web.StartRunRequest{Subject: testutil.Subject()})
	require.Equal(t, http.StatusCreated, status, string(body))

	run := decode[models.WorkflowRun](t, body)

	status, body = doRequest(t, app, http.MethodPost, "/node-runs/"+run.NodeRuns[0].ID+"/redispatch", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, string(services.KindUnavailable), decode[map[string]any](t, body)["type"])
}
