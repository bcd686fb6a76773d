package eventbus

import (
	"context"

	"github.com/dukex/onboardflow/pkg/events"
)

// Dispatcher hands node activations to step services and lifecycle notifications to observers.
type Dispatcher struct {
	publisher EventPublisher
}

func NewDispatcher(publisher EventPublisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

// Dispatch publishes a node activation keyed by run, so activations of one run stay ordered.
func (d *Dispatcher) Dispatch(ctx context.Context, event *events.NodeActivated) error {
	return d.publisher.Publish(ctx, event.RunID, event)
}

func (d *Dispatcher) Notify(ctx context.Context, key string, event Event) error {
	return d.publisher.Publish(ctx, key, event)
}
