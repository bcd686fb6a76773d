package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/dukex/onboardflow/pkg/otelhelper"
	"github.com/dukex/onboardflow/pkg/rules"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// StepDispatcher hands a pending node run to the step service of its type.
type StepDispatcher interface {
	Dispatch(ctx context.Context, event *events.NodeActivated) error
}

// Notifier publishes lifecycle notifications.
type Notifier interface {
	Notify(ctx context.Context, key string, event eventbus.Event) error
}

type config struct {
	clock      clockwork.Clock
	locker     lock.Locker
	logger     *slog.Logger
	tracer     trace.Tracer
	dispatcher StepDispatcher
	notifier   Notifier
	hierarchy  rules.Hierarchy
	directory  rules.Directory
	validate   *validator.Validate
}

// Option configures a service.
type Option func(*config)

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithLocker sets the per-key lock. Services sharing a store should share a locker.
func WithLocker(locker lock.Locker) Option {
	return func(c *config) { c.locker = locker }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) { c.tracer = tracer }
}

func WithDispatcher(dispatcher StepDispatcher) Option {
	return func(c *config) { c.dispatcher = dispatcher }
}

func WithNotifier(notifier Notifier) Option {
	return func(c *config) { c.notifier = notifier }
}

func WithHierarchy(hierarchy rules.Hierarchy) Option {
	return func(c *config) { c.hierarchy = hierarchy }
}

func WithDirectory(directory rules.Directory) Option {
	return func(c *config) { c.directory = directory }
}

func WithValidator(validate *validator.Validate) Option {
	return func(c *config) { c.validate = validate }
}

func newConfig(module string, opts []Option) *config {
	c := &config{
		clock:  clockwork.NewRealClock(),
		locker: lock.NewLocal(),
		logger: slog.Default(),
		tracer: otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.validate == nil {
		c.validate = validator.New(validator.WithRequiredStructEnabled())
	}

	c.logger = c.logger.With("module", module)

	return c
}

// now returns the clock's time in UTC.
func (c *config) now() time.Time {
	return c.clock.Now().UTC()
}

func (c *config) notify(ctx context.Context, key string, event eventbus.Event) {
	if c.notifier == nil {
		return
	}

	err := c.notifier.Notify(ctx, key, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to publish notification", "event_type", event.GetType(), "key", key, "error", err)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
