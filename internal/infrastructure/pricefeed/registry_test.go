package pricefeed_test

import (
	"errors"
	"testing"

	_ "pricehub/internal/infrastructure/exchange/binance"
	_ "pricehub/internal/infrastructure/exchange/bitget"
	_ "pricehub/internal/infrastructure/exchange/bybit"
	_ "pricehub/internal/infrastructure/exchange/okx"
	"pricehub/internal/infrastructure/pricefeed"
)

func TestRegisteredCodecs(t *testing.T) {
	names := pricefeed.Names()
	want := []string{"binance", "bitget", "bybit", "okx"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
		c, err := pricefeed.New(" " + want[i] + " ")
		if err != nil {
			t.Fatalf("New(%s): %v", want[i], err)
		}
		if c.Name() != want[i] {
			t.Fatalf("codec name = %q, want %q", c.Name(), want[i])
		}
	}

	if _, err := pricefeed.New("BYBIT"); err != nil {
		t.Fatalf("lookup should be case-insensitive: %v", err)
	}
	if _, err := pricefeed.New("kraken"); !errors.Is(err, pricefeed.ErrNoUpstream) {
		t.Fatalf("expected ErrNoUpstream, got %v", err)
	}
}
