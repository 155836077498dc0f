package redis

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

// Runs only against a real server: PRICEHUB_TEST_REDIS_ADDR=127.0.0.1:6379
func newTestRepo(t *testing.T) (*Repo, *redis.Client, string) {
	t.Helper()
	addr := os.Getenv("PRICEHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRICEHUB_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	prefix := "pricehub-test-" + uuid.NewString()
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return New(rdb, prefix, time.Minute, "", ""), rdb, prefix
}

func TestUpsertLatestPrices(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	cp := decimal.RequireFromString("1.25")
	ticks := []domain.PriceTick{
		{Symbol: "BTCUSDT", Price: decimal.RequireFromString("65000.10"), ChangePercent: &cp, ReceivedAt: time.UnixMilli(1700000000000)},
		{Symbol: "ETHUSDT", Price: decimal.RequireFromString("3500"), ReceivedAt: time.UnixMilli(1700000000001)},
		{Symbol: "BAD", Price: decimal.Zero, ReceivedAt: time.UnixMilli(1700000000002)},
	}
	if err := repo.UpsertLatestPrices(ctx, ticks); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.LatestPrices(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 prices, got %+v", got)
	}
	if got["BTCUSDT"].Price != "65000.1" || got["BTCUSDT"].ChangePercent == nil || *got["BTCUSDT"].ChangePercent != "1.25" {
		t.Fatalf("unexpected BTCUSDT: %+v", got["BTCUSDT"])
	}
}

func TestPublishTriggerAndNotify(t *testing.T) {
	repo, rdb, prefix := newTestRepo(t)
	ctx := context.Background()

	n := repo.Notifier()
	sub := rdb.Subscribe(ctx, prefix+":triggers:pub", n.UserChannel("u1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.TriggerEvent{
		AlertID:      "a1",
		UserID:       "u1",
		Symbol:       "BTCUSDT",
		Condition:    domain.ConditionAbove,
		TargetValue:  decimal.NewFromInt(64000),
		TriggerPrice: decimal.NewFromInt(65000),
		TriggeredAt:  time.UnixMilli(1700000000000),
	}
	if err := repo.PublishTrigger(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := n.Notify(ctx, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	n1, err := rdb.XLen(ctx, prefix+":triggers").Result()
	if err != nil || n1 != 1 {
		t.Fatalf("stream len: %d %v", n1, err)
	}

	ch := sub.Channel()
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case m := <-ch:
			var got domain.TriggerEvent
			if err := json.Unmarshal([]byte(m.Payload), &got); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if got.AlertID != "a1" || !got.TriggerPrice.Equal(ev.TriggerPrice) {
				t.Fatalf("unexpected event on %s: %+v", m.Channel, got)
			}
			seen[m.Channel] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, got %v", seen)
		}
	}
}
