package service

import (
	"testing"
	"time"
)

type upstreamFlag bool

func (u upstreamFlag) IsConnected() bool { return bool(u) }

func TestStatusServiceSnapshot(t *testing.T) {
	cache := NewPriceCache()
	cache.Update(tickAt("BTCUSDT", "65000", time.Unix(1, 0)))
	cache.Update(tickAt("ETHUSDT", "3500", time.Unix(1, 0)))

	reg := NewSubscriptionRegistry()
	reg.Acquire("c1", []string{"ETHUSDT", "BTCUSDT"})

	s := NewStatusService(upstreamFlag(true), reg, cache)
	s.Register("queue", func() any { return 7 })

	st := s.Snapshot()
	if !st.UpstreamConnected {
		t.Fatalf("expected connected")
	}
	if st.CachedPrices != 2 {
		t.Fatalf("expected 2 cached prices, got %d", st.CachedPrices)
	}
	if len(st.SubscribedSymbols) != 2 || st.SubscribedSymbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols %v", st.SubscribedSymbols)
	}
	if st.Components["queue"] != 7 {
		t.Fatalf("component not collected: %v", st.Components)
	}
}

func TestStatusServiceNilCollaborators(t *testing.T) {
	s := NewStatusService(nil, nil, nil)
	if s.IsUpstreamConnected() || s.CachedPriceCount() != 0 || len(s.SubscribedSymbols()) != 0 {
		t.Fatalf("unexpected status with nil collaborators: %+v", s.Snapshot())
	}
}
