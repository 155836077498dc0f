package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

// AlertRepository is the persistence collaborator the engine reads through.
type AlertRepository interface {
	// FindActiveAlertsForSymbol returns only alerts whose active flag is set.
	FindActiveAlertsForSymbol(ctx context.Context, symbol string) ([]domain.AlertRule, error)

	// TryMarkTriggered atomically flips active->inactive and records price/time.
	// It returns false, nil when the alert was no longer active (another evaluator won).
	TryMarkTriggered(ctx context.Context, alertID string, price decimal.Decimal, at time.Time) (bool, error)

	// ActiveSymbols lists the distinct symbols that have at least one active alert.
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// AlertStore adds the write operations used by seeding tools and tests.
type AlertStore interface {
	AlertRepository
	CreateAlert(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error)
	GetAlert(ctx context.Context, id string) (domain.AlertRule, error)
	Close() error
}

// PriceMirror persists the latest known prices for out-of-process readers.
type PriceMirror interface {
	UpsertLatestPrices(ctx context.Context, ticks []domain.PriceTick) error
}
