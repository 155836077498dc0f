package binance

import (
	"pricehub/internal/application/port"
	"pricehub/internal/infrastructure/pricefeed"
)

// init() registers the Binance codec so the connector does not hard-code venues
func init() {
	pricefeed.Register(Name, func() port.FeedCodec {
		return NewCodec()
	})
}
