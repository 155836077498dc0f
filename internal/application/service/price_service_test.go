package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pricehub/internal/domain"
)

type mockMirror struct {
	batches [][]domain.PriceTick
	err     error
}

func (m *mockMirror) UpsertLatestPrices(_ context.Context, ticks []domain.PriceTick) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, ticks)
	return nil
}

func TestPriceServiceFlushChanged(t *testing.T) {
	cache := NewPriceCache()
	mirror := &mockMirror{}
	svc := NewPriceService(cache, mirror)
	ctx := context.Background()
	now := time.Now()

	cache.Update(tickAt("BTCUSDT", "65000", now))
	cache.Update(tickAt("ETHUSDT", "3000", now))

	n, err := svc.FlushChanged(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first flush: %d %v", n, err)
	}
	if n, _ := svc.FlushChanged(ctx); n != 0 {
		t.Fatalf("nothing changed but flushed %d", n)
	}

	cache.Update(tickAt("BTCUSDT", "65100", now.Add(time.Second)))
	n, _ = svc.FlushChanged(ctx)
	if n != 1 || mirror.batches[1][0].Symbol != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT, got %d %+v", n, mirror.batches)
	}
}

func TestPriceServiceRetriesAfterMirrorError(t *testing.T) {
	cache := NewPriceCache()
	mirror := &mockMirror{err: errors.New("redis down")}
	svc := NewPriceService(cache, mirror)
	cache.Update(tickAt("BTCUSDT", "1", time.Now()))

	if _, err := svc.FlushChanged(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	mirror.err = nil
	if n, err := svc.FlushChanged(context.Background()); err != nil || n != 1 {
		t.Fatalf("failed flush should be retried, got %d %v", n, err)
	}
}
