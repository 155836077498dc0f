package service

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// TickDistributor is the connector's TickHandler. It writes the price cache and hands
// each tick to every consumer queue without blocking the connector's read loop.
type TickDistributor struct {
	cache *PriceCache

	mu     sync.RWMutex
	queues []*TickQueue
	closed bool

	published atomic.Int64
	stale     atomic.Int64
}

func NewTickDistributor(cache *PriceCache) *TickDistributor {
	return &TickDistributor{cache: cache}
}

// Subscribe registers a consumer queue. Call before ticks start flowing.
func (d *TickDistributor) Subscribe(name string, initialCapacity, maxCapacity int) *TickQueue {
	q := NewTickQueue(name, initialCapacity, maxCapacity)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		q.Close()
		return q
	}
	d.queues = append(d.queues, q)
	return q
}

// OnTick implements port.TickHandler.
func (d *TickDistributor) OnTick(t domain.PriceTick) {
	if !d.cache.Update(t) {
		// older than what is cached; fan-out would reorder the symbol
		d.stale.Add(1)
		log.Debug().Str("symbol", t.Symbol).Msg("stale tick dropped")
		return
	}
	d.published.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, q := range d.queues {
		q.Send(t)
	}
}

// Close closes every consumer queue. Further ticks only update the cache.
func (d *TickDistributor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, q := range d.queues {
		q.Close()
	}
}

func (d *TickDistributor) Published() int64 { return d.published.Load() }

func (d *TickDistributor) QueueStats() []QueueStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]QueueStats, 0, len(d.queues))
	for _, q := range d.queues {
		out = append(out, q.Stats())
	}
	return out
}

var _ port.TickHandler = (*TickDistributor)(nil)
