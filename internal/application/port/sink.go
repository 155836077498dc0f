package port

import (
	"context"

	"pricehub/internal/domain"
)

// TriggerSink consumes trigger events produced by the alert engine.
type TriggerSink interface {
	PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error
}

// TriggerSinkFunc adapts a function to TriggerSink.
type TriggerSinkFunc func(ctx context.Context, ev domain.TriggerEvent) error

func (f TriggerSinkFunc) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	return f(ctx, ev)
}
