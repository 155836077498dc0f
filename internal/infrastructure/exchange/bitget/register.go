package bitget

import (
	"pricehub/internal/application/port"
	"pricehub/internal/infrastructure/pricefeed"
)

// init() automatically registers the Bitget ticker codec
// 这样避免了在 svc 中硬编码 Bitget
func init() {
	pricefeed.Register(Name, func() port.FeedCodec { return NewCodec() })
}
