package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

func TestNotifierLine(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf)
	ev := domain.TriggerEvent{
		AlertID:      "a1",
		UserID:       "u1",
		Symbol:       "BTCUSDT",
		Condition:    domain.ConditionAbove,
		TargetValue:  decimal.NewFromInt(64000),
		TriggerPrice: decimal.RequireFromString("65000.5"),
		TriggeredAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	want := "2024-01-02 03:04:05 ALERT BTCUSDT above 64000 @ 65000.5 user=u1 id=a1\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
	if n.Channel() != "console" {
		t.Fatalf("channel = %q", n.Channel())
	}
}
