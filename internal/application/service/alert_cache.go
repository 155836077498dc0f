package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// CachedAlertRepository is a read-through cache of active alerts per symbol.
// A stale entry can only cause a redundant TryMarkTriggered, which the CAS rejects.
type CachedAlertRepository struct {
	next port.AlertRepository
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedAlerts
}

type cachedAlerts struct {
	rules   []domain.AlertRule
	expires time.Time
}

func NewCachedAlertRepository(next port.AlertRepository, ttl time.Duration) *CachedAlertRepository {
	return &CachedAlertRepository{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedAlerts),
	}
}

func (c *CachedAlertRepository) FindActiveAlertsForSymbol(ctx context.Context, symbol string) ([]domain.AlertRule, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.rules, nil
	}

	rules, err := c.next.FindActiveAlertsForSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[symbol] = cachedAlerts{rules: rules, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return rules, nil
}

// TryMarkTriggered passes through and evicts the alert from cached entries whatever the outcome.
func (c *CachedAlertRepository) TryMarkTriggered(ctx context.Context, alertID string, price decimal.Decimal, at time.Time) (bool, error) {
	ok, err := c.next.TryMarkTriggered(ctx, alertID, price, at)
	if err == nil {
		c.evict(alertID)
	}
	return ok, err
}

func (c *CachedAlertRepository) ActiveSymbols(ctx context.Context) ([]string, error) {
	return c.next.ActiveSymbols(ctx)
}

// Invalidate drops the cached entry for a symbol.
func (c *CachedAlertRepository) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain.CanonicalSymbol(symbol))
}

func (c *CachedAlertRepository) evict(alertID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sym, e := range c.entries {
		for i, r := range e.rules {
			if r.ID != alertID {
				continue
			}
			kept := make([]domain.AlertRule, 0, len(e.rules)-1)
			kept = append(kept, e.rules[:i]...)
			kept = append(kept, e.rules[i+1:]...)
			e.rules = kept
			c.entries[sym] = e
			break
		}
	}
}

var _ port.AlertRepository = (*CachedAlertRepository)(nil)
