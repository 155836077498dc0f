package okx

import (
	"pricehub/internal/application/port"
	"pricehub/internal/infrastructure/pricefeed"
)

// init() automatically registers the OKX ticker codec
// 这样避免了在 svc 中硬编码 OKX
func init() {
	pricefeed.Register(Name, func() port.FeedCodec { return NewCodec() })
}
