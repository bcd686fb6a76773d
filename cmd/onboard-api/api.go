package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/rules"
	"github.com/dukex/onboardflow/pkg/services"
	"github.com/dukex/onboardflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

// Directory is the people directory and org hierarchy the engine resolves rules against.
type Directory interface {
	rules.Directory
	rules.Hierarchy
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	locker      lock.Locker
	directory   Directory
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	locker lock.Locker,
	directory Directory,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		locker:      locker,
		directory:   directory,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) options() []services.Option {
	opts := []services.Option{
		services.WithLogger(a.logger),
		services.WithLocker(a.locker),
		services.WithValidator(a.validate),
	}

	if a.tracer != nil {
		opts = append(opts, services.WithTracer(a.tracer))
	}

	if a.eventBus != nil {
		dispatcher := eventbus.NewDispatcher(a.eventBus)
		opts = append(opts, services.WithDispatcher(dispatcher), services.WithNotifier(dispatcher))
	}

	if a.directory != nil {
		opts = append(opts, services.WithDirectory(a.directory), services.WithHierarchy(a.directory))
	}

	return opts
}

func (a *API) App() *fiber.App {
	opts := a.options()

	handlers := web.NewAPIHandlers(
		services.NewWorkflows(a.persistence, opts...),
		services.NewVersions(a.persistence, opts...),
		services.NewRuns(a.persistence, opts...),
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Onboarding API")
	})

	handlers.Routes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
