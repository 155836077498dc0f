package service

import (
	"sort"
	"sync"
	"time"

	"pricehub/internal/application/port"
)

// UpstreamState is the part of the feed connector the status view needs.
type UpstreamState interface {
	IsConnected() bool
}

// Status is the operator-facing snapshot served on /status.
type Status struct {
	UpstreamConnected bool           `json:"upstream_connected"`
	SubscribedSymbols []string       `json:"subscribed_symbols"`
	CachedPrices      int            `json:"cached_prices"`
	Uptime            string         `json:"uptime"`
	Components        map[string]any `json:"components,omitempty"`
}

// StatusService answers the three status questions and collects per-component stats.
type StatusService struct {
	upstream UpstreamState
	symbols  port.SymbolSource
	prices   port.PriceReader
	started  time.Time

	mu         sync.Mutex
	components map[string]func() any
}

func NewStatusService(upstream UpstreamState, symbols port.SymbolSource, prices port.PriceReader) *StatusService {
	return &StatusService{
		upstream:   upstream,
		symbols:    symbols,
		prices:     prices,
		started:    time.Now(),
		components: make(map[string]func() any),
	}
}

// Register adds a named stats provider; it is called on every Snapshot.
func (s *StatusService) Register(name string, fn func() any) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.components[name] = fn
	s.mu.Unlock()
}

func (s *StatusService) IsUpstreamConnected() bool {
	return s.upstream != nil && s.upstream.IsConnected()
}

// SubscribedSymbols is the registry view: every symbol with a non-zero reference count.
func (s *StatusService) SubscribedSymbols() []string {
	if s.symbols == nil {
		return []string{}
	}
	out := s.symbols.Symbols()
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}

func (s *StatusService) CachedPriceCount() int {
	if s.prices == nil {
		return 0
	}
	return s.prices.Len()
}

func (s *StatusService) Snapshot() Status {
	st := Status{
		UpstreamConnected: s.IsUpstreamConnected(),
		SubscribedSymbols: s.SubscribedSymbols(),
		CachedPrices:      s.CachedPriceCount(),
		Uptime:            time.Since(s.started).Truncate(time.Second).String(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.components) > 0 {
		st.Components = make(map[string]any, len(s.components))
		for name, fn := range s.components {
			st.Components[name] = fn()
		}
	}
	return st
}
