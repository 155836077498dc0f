package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// NotificationDispatcher turns trigger events into user notifications. The gate is
// consulted per channel; the engine never sees it.
type NotificationDispatcher struct {
	gate      port.NotificationGate
	notifiers []port.Notifier
}

func NewNotificationDispatcher(gate port.NotificationGate, notifiers ...port.Notifier) *NotificationDispatcher {
	if gate == nil {
		gate = AllowAllGate{}
	}
	out := make([]port.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return &NotificationDispatcher{gate: gate, notifiers: out}
}

// PublishTrigger implements port.TriggerSink. Every channel is attempted; the joined
// error lists the channels that failed.
func (d *NotificationDispatcher) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	var errs []error
	for _, n := range d.notifiers {
		ch := n.Channel()
		if !d.gate.ShouldNotify(ctx, ev.UserID, domain.NotificationKindPriceAlert, ch) {
			log.Debug().Str("user_id", ev.UserID).Str("channel", ch).Str("alert_id", ev.AlertID).Msg("notification suppressed by gate")
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// AllowAllGate lets every notification through.
type AllowAllGate struct{}

func (AllowAllGate) ShouldNotify(context.Context, string, string, string) bool { return true }

// MutedUsersGate blocks every channel for the listed users and otherwise defers to Next.
type MutedUsersGate struct {
	muted map[string]struct{}
	Next  port.NotificationGate
}

func NewMutedUsersGate(userIDs []string, next port.NotificationGate) *MutedUsersGate {
	m := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	if next == nil {
		next = AllowAllGate{}
	}
	return &MutedUsersGate{muted: m, Next: next}
}

func (g *MutedUsersGate) ShouldNotify(ctx context.Context, userID, kind, channel string) bool {
	if _, ok := g.muted[userID]; ok {
		return false
	}
	return g.Next.ShouldNotify(ctx, userID, kind, channel)
}

// LogNotifier writes the notification to the log; used for the in_app channel when no
// other transport is configured.
type LogNotifier struct {
	channel string
}

func NewLogNotifier(channel string) *LogNotifier { return &LogNotifier{channel: channel} }

func (n *LogNotifier) Channel() string { return n.channel }

func (n *LogNotifier) Notify(_ context.Context, ev domain.TriggerEvent) error {
	log.Info().
		Str("channel", n.channel).
		Str("user_id", ev.UserID).
		Str("alert_id", ev.AlertID).
		Str("symbol", ev.Symbol).
		Str("price", ev.TriggerPrice.String()).
		Msg("notification")
	return nil
}

var _ port.TriggerSink = (*NotificationDispatcher)(nil)
