package port

import (
	"time"

	"pricehub/internal/domain"
)

// TickHandler receives every normalized tick, in upstream receive order.
// Implementations must not block.
type TickHandler interface {
	OnTick(t domain.PriceTick)
}

// TickHandlerFunc adapts a function to TickHandler.
type TickHandlerFunc func(t domain.PriceTick)

func (f TickHandlerFunc) OnTick(t domain.PriceTick) { f(t) }

// UpstreamSubscriber is the connector side of the subscription registry.
// Both calls are issued only on 0->1 and 1->0 reference-count transitions and must not block.
type UpstreamSubscriber interface {
	EnsureSubscribed(symbols []string)
	EnsureUnsubscribed(symbols []string)
}

// SymbolSource reports which symbols should currently be subscribed upstream.
type SymbolSource interface {
	Symbols() []string
}

// Registry is the reference-counted subscription set shared by clients and the alert engine.
type Registry interface {
	Acquire(holder string, symbols []string) []string
	Release(holder string, symbols []string) []string
	ReleaseAll(holder string) []string
}

// PriceReader is the read side of the price cache.
type PriceReader interface {
	Get(symbol string) (domain.PriceTick, bool)
	GetAll() map[string]domain.PriceTick
	Len() int
}

// FeedCodec translates between one venue's wire format and PriceTicks.
type FeedCodec interface {
	Name() string
	SubscribeMessages(symbols []string) ([][]byte, error)
	UnsubscribeMessages(symbols []string) ([][]byte, error)
	// Decode returns no ticks and no error for acks and other control frames.
	Decode(msg []byte, receivedAt time.Time) ([]domain.PriceTick, error)
}
