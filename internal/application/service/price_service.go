package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// PriceService periodically copies the cache into an external mirror (redis hash) so
// other processes can read last prices without a websocket.
type PriceService struct {
	cache  port.PriceReader
	mirror port.PriceMirror

	lastSeen map[string]time.Time
}

func NewPriceService(cache port.PriceReader, mirror port.PriceMirror) *PriceService {
	return &PriceService{cache: cache, mirror: mirror, lastSeen: make(map[string]time.Time)}
}

// FlushChanged writes the ticks that changed since the previous flush.
func (s *PriceService) FlushChanged(ctx context.Context) (int, error) {
	all := s.cache.GetAll()
	changed := make([]domain.PriceTick, 0, len(all))
	for sym, t := range all {
		if prev, ok := s.lastSeen[sym]; ok && !t.ReceivedAt.After(prev) {
			continue
		}
		changed = append(changed, t)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.mirror.UpsertLatestPrices(ctx, changed); err != nil {
		return 0, err
	}
	for _, t := range changed {
		s.lastSeen[t.Symbol] = t.ReceivedAt
	}
	return len(changed), nil
}

// Run flushes every interval until ctx is done.
func (s *PriceService) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.FlushChanged(ctx); err != nil {
				log.Error().Err(err).Msg("price mirror flush failed")
			} else if n > 0 {
				log.Debug().Int("symbols", n).Msg("price mirror flushed")
			}
		}
	}
}
