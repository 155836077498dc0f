package pricefeed

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
)

var ErrNoUpstream = errors.New("no feed codec registered for exchange")

// Factory builds a fresh codec for one upstream connection.
type Factory func() port.FeedCodec

// registry maps exchange names to their codec factories
var registry = make(map[string]Factory)

// Register 由各交易所包的 init() 调用
func Register(exchangeName string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", exchangeName).Msg("invalid feed codec factory")
		return
	}
	if _, exists := registry[exchangeName]; exists {
		log.Warn().Str("exchange", exchangeName).Msg("feed codec factory already registered, overwriting")
	}
	registry[exchangeName] = factory
}

func Get(exchangeName string) (Factory, bool) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(exchangeName))]
	return factory, ok
}

// New returns a codec for the exchange or ErrNoUpstream.
func New(exchangeName string) (port.FeedCodec, error) {
	factory, ok := Get(exchangeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrNoUpstream, exchangeName, Names())
	}
	return factory(), nil
}

// Names lists registered exchanges, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
