package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// InMemoryAlertStore is the default AlertStore and the one used by tests.
type InMemoryAlertStore struct {
	mu     sync.Mutex
	alerts map[string]domain.AlertRule
	now    func() time.Time
}

func NewInMemoryAlertStore() *InMemoryAlertStore {
	return &InMemoryAlertStore{
		alerts: make(map[string]domain.AlertRule),
		now:    time.Now,
	}
}

func (s *InMemoryAlertStore) CreateAlert(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	rule, err := domain.PrepareNewAlert(rule, s.now())
	if err != nil {
		return domain.AlertRule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[rule.ID] = rule
	return rule, nil
}

func (s *InMemoryAlertStore) GetAlert(ctx context.Context, id string) (domain.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.AlertRule{}, domain.ErrAlertNotFound
	}
	return a, nil
}

func (s *InMemoryAlertStore) FindActiveAlertsForSymbol(ctx context.Context, symbol string) ([]domain.AlertRule, error) {
	symbol = domain.CanonicalSymbol(symbol)

	s.mu.Lock()
	var out []domain.AlertRule
	for _, a := range s.alerts {
		if a.Active && a.Symbol == symbol {
			out = append(out, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryAlertStore) TryMarkTriggered(ctx context.Context, alertID string, price decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return false, domain.ErrAlertNotFound
	}
	if !a.Active {
		return false, nil
	}
	a.Active = false
	a.TriggerPrice = &price
	a.LastTriggeredAt = &at
	s.alerts[alertID] = a
	return true, nil
}

func (s *InMemoryAlertStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	seen := make(map[string]struct{})
	for _, a := range s.alerts {
		if a.Active {
			seen[a.Symbol] = struct{}{}
		}
	}
	s.mu.Unlock()

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryAlertStore) Close() error { return nil }

var _ port.AlertStore = (*InMemoryAlertStore)(nil)
