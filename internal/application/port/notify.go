package port

import (
	"context"

	"pricehub/internal/domain"
)

// NotificationGate decides whether a user wants a notification on a channel
// (quiet hours, channel toggles). It is owned by another service.
type NotificationGate interface {
	ShouldNotify(ctx context.Context, userID, kind, channel string) bool
}

// Notifier delivers a trigger on one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, ev domain.TriggerEvent) error
}
