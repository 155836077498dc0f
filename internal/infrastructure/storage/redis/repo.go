package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// Repo mirrors latest prices into a hash and fans trigger events out on a
// stream (durable) plus a pub/sub channel (live consumers).
type Repo struct {
	rdb           *redis.Client
	prefix        string
	ttl           time.Duration
	keyLatest     string // prefix + ":latest"
	triggerStream string
	triggerChan   string
}

type LatestPrice struct {
	Symbol        string  `json:"symbol"`
	Price         string  `json:"price"`
	ChangePercent *string `json:"changePercent,omitempty"`
	Ts            int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, triggerStream, triggerChan string) *Repo {
	if strings.TrimSpace(triggerStream) == "" {
		triggerStream = prefix + ":triggers"
	}
	if strings.TrimSpace(triggerChan) == "" {
		triggerChan = prefix + ":triggers:pub"
	}
	return &Repo{
		rdb:           rdb,
		prefix:        prefix,
		ttl:           ttl,
		keyLatest:     prefix + ":latest",
		triggerStream: triggerStream,
		triggerChan:   triggerChan,
	}
}

// UpsertLatestPrices writes all ticks in one pipeline.
// Hash: field = "BTCUSDT" -> json
func (r *Repo) UpsertLatestPrices(ctx context.Context, ticks []domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, t := range ticks {
		if !t.Price.IsPositive() {
			continue
		}
		lp := LatestPrice{Symbol: t.Symbol, Price: t.Price.String(), Ts: t.ReceivedAt.UnixMilli()}
		if t.ChangePercent != nil {
			s := t.ChangePercent.String()
			lp.ChangePercent = &s
		}
		b, _ := json.Marshal(lp)
		pipe.HSet(ctx, r.keyLatest, t.Symbol, string(b))
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LatestPrices reads the mirrored hash back, keyed by symbol.
func (r *Repo) LatestPrices(ctx context.Context) (map[string]LatestPrice, error) {
	raw, err := r.rdb.HGetAll(ctx, r.keyLatest).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]LatestPrice, len(raw))
	for sym, v := range raw {
		var lp LatestPrice
		if err := json.Unmarshal([]byte(v), &lp); err != nil {
			continue
		}
		out[sym] = lp
	}
	return out, nil
}

func (r *Repo) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * alert_id user_id symbol price ts_ms payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.triggerStream,
		Values: map[string]any{
			"alert_id": ev.AlertID,
			"user_id":  ev.UserID,
			"symbol":   ev.Symbol,
			"price":    ev.TriggerPrice.String(),
			"ts_ms":    ev.TriggeredAt.UnixMilli(),
			"payload":  string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.triggerChan, payload).Err()
}

func (r *Repo) Notifier() *Notifier {
	return &Notifier{rdb: r.rdb, prefix: r.prefix}
}

// Notifier is the in-app channel: one pub/sub channel per user that the
// session gateway relays to connected apps.
type Notifier struct {
	rdb    *redis.Client
	prefix string
}

const ChannelInApp = "in_app"

func (n *Notifier) Channel() string { return ChannelInApp }

func (n *Notifier) UserChannel(userID string) string {
	return n.prefix + ":notify:" + userID
}

func (n *Notifier) Notify(ctx context.Context, ev domain.TriggerEvent) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		domain.TriggerEvent
	}{Kind: domain.NotificationKindPriceAlert, TriggerEvent: ev})
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.UserChannel(ev.UserID), payload).Err()
}

var (
	_ port.PriceMirror = (*Repo)(nil)
	_ port.TriggerSink = (*Repo)(nil)
	_ port.Notifier    = (*Notifier)(nil)
)
