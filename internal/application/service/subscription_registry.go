package service

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// Synthetic holder ids that are not client connections.
const (
	HolderAlertEngine = "alert-engine"
	HolderConfig      = "config"
)

// SubscriptionRegistry reference-counts symbol interest across holders and drives the
// upstream subscription on 0->1 and 1->0 transitions. The reference count of a symbol
// is the number of distinct holders that acquired it.
type SubscriptionRegistry struct {
	mu       sync.Mutex
	holders  map[string]map[string]struct{} // symbol -> holder set
	bySymbol map[string]map[string]struct{} // holder -> symbol set
	upstream port.UpstreamSubscriber
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		holders:  make(map[string]map[string]struct{}),
		bySymbol: make(map[string]map[string]struct{}),
	}
}

// Attach binds the upstream and subscribes everything already held.
func (r *SubscriptionRegistry) Attach(up port.UpstreamSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upstream = up
	if up == nil || len(r.holders) == 0 {
		return
	}
	up.EnsureSubscribed(r.symbolsLocked())
}

// Acquire records holder's interest in symbols and returns the symbols that went 0->1.
// Acquiring a symbol the holder already holds is a no-op.
func (r *SubscriptionRegistry) Acquire(holder string, symbols []string) []string {
	symbols = domain.CanonicalSymbols(symbols)
	if holder == "" || len(symbols) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.bySymbol[holder]
	if held == nil {
		held = make(map[string]struct{})
		r.bySymbol[holder] = held
	}

	var added []string
	for _, sym := range symbols {
		if _, ok := held[sym]; ok {
			continue
		}
		held[sym] = struct{}{}

		hs := r.holders[sym]
		if hs == nil {
			hs = make(map[string]struct{})
			r.holders[sym] = hs
		}
		hs[holder] = struct{}{}
		if len(hs) == 1 {
			added = append(added, sym)
		}
	}

	if len(added) > 0 {
		log.Debug().Str("holder", holder).Strs("symbols", added).Msg("upstream subscribe")
		if r.upstream != nil {
			r.upstream.EnsureSubscribed(added)
		}
	}
	return added
}

// Release drops holder's interest in symbols and returns the symbols that went 1->0.
func (r *SubscriptionRegistry) Release(holder string, symbols []string) []string {
	symbols = domain.CanonicalSymbols(symbols)
	if holder == "" || len(symbols) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(holder, symbols)
}

// ReleaseAll drops everything holder acquired. Safe to call more than once.
func (r *SubscriptionRegistry) ReleaseAll(holder string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.bySymbol[holder]
	if len(held) == 0 {
		delete(r.bySymbol, holder)
		return nil
	}
	symbols := make([]string, 0, len(held))
	for sym := range held {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return r.releaseLocked(holder, symbols)
}

func (r *SubscriptionRegistry) releaseLocked(holder string, symbols []string) []string {
	held := r.bySymbol[holder]
	if held == nil {
		return nil
	}

	var removed []string
	for _, sym := range symbols {
		if _, ok := held[sym]; !ok {
			continue
		}
		delete(held, sym)

		hs := r.holders[sym]
		delete(hs, holder)
		if len(hs) == 0 {
			delete(r.holders, sym)
			removed = append(removed, sym)
		}
	}
	if len(held) == 0 {
		delete(r.bySymbol, holder)
	}

	if len(removed) > 0 {
		log.Debug().Str("holder", holder).Strs("symbols", removed).Msg("upstream unsubscribe")
		if r.upstream != nil {
			r.upstream.EnsureUnsubscribed(removed)
		}
	}
	return removed
}

// Symbols returns every symbol with a positive reference count, sorted.
func (r *SubscriptionRegistry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbolsLocked()
}

func (r *SubscriptionRegistry) symbolsLocked() []string {
	out := make([]string, 0, len(r.holders))
	for sym := range r.holders {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (r *SubscriptionRegistry) RefCount(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders[domain.CanonicalSymbol(symbol)])
}

// HeldBy returns the symbols a holder currently holds, sorted.
func (r *SubscriptionRegistry) HeldBy(holder string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.bySymbol[holder]))
	for sym := range r.bySymbol[holder] {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// HolderCount is the number of holders with at least one symbol.
func (r *SubscriptionRegistry) HolderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySymbol)
}

var _ port.Registry = (*SubscriptionRegistry)(nil)
var _ port.SymbolSource = (*SubscriptionRegistry)(nil)
