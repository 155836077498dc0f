package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tickAt(symbol, price string, at time.Time) domain.PriceTick {
	return domain.PriceTick{Symbol: symbol, Price: dec(price), ReceivedAt: at, Source: "test"}
}

// fakeUpstream records EnsureSubscribed/EnsureUnsubscribed and keeps the resulting set.
type fakeUpstream struct {
	mu    sync.Mutex
	subs  map[string]int // net subscribe count per symbol, must stay 0 or 1
	calls []string
}

func newFakeUpstream() *fakeUpstream { return &fakeUpstream{subs: map[string]int{}} }

func (f *fakeUpstream) EnsureSubscribed(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subs[s]++
		f.calls = append(f.calls, "+"+s)
	}
}

func (f *fakeUpstream) EnsureUnsubscribed(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subs[s]--
		f.calls = append(f.calls, "-"+s)
	}
}

func (f *fakeUpstream) active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for s, n := range f.subs {
		if n != 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeUpstream) counts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.subs))
	for k, v := range f.subs {
		out[k] = v
	}
	return out
}

// fakeAlertRepo is an in-memory AlertRepository with a real compare-and-swap.
type fakeAlertRepo struct {
	mu      sync.Mutex
	alerts  map[string]*domain.AlertRule
	finds   int
	findErr error
	markErr map[string]error
}

func newFakeAlertRepo(rules ...domain.AlertRule) *fakeAlertRepo {
	r := &fakeAlertRepo{alerts: map[string]*domain.AlertRule{}, markErr: map[string]error{}}
	for i := range rules {
		rule := rules[i]
		r.alerts[rule.ID] = &rule
	}
	return r
}

func (r *fakeAlertRepo) FindActiveAlertsForSymbol(_ context.Context, symbol string) ([]domain.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []domain.AlertRule
	for _, a := range r.alerts {
		if a.Active && a.Symbol == symbol {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAlertRepo) TryMarkTriggered(_ context.Context, id string, price decimal.Decimal, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.markErr[id]; err != nil {
		return false, err
	}
	a, ok := r.alerts[id]
	if !ok {
		return false, errors.New("alert not found")
	}
	if !a.Active {
		return false, nil
	}
	a.Active = false
	a.TriggerPrice = &price
	a.LastTriggeredAt = &at
	return true, nil
}

func (r *fakeAlertRepo) ActiveSymbols(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, a := range r.alerts {
		if _, ok := seen[a.Symbol]; a.Active && !ok {
			seen[a.Symbol] = struct{}{}
			out = append(out, a.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeAlertRepo) get(id string) domain.AlertRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.alerts[id]
}

func (r *fakeAlertRepo) deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[id].Active = false
}

func (r *fakeAlertRepo) findCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

// recordingSink collects published trigger events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
	err    error
}

func (s *recordingSink) PublishTrigger(_ context.Context, ev domain.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) all() []domain.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TriggerEvent(nil), s.events...)
}
