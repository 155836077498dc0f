package composite

import (
	"context"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// Sink fans a trigger out to every configured sink; all are attempted.
type Sink struct {
	sinks []port.TriggerSink
}

func NewSink(sinks ...port.TriggerSink) *Sink {
	// nil sinks are allowed; filter in constructor
	out := make([]port.TriggerSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Sink{sinks: out}
}

func (s *Sink) Len() int { return len(s.sinks) }

func (s *Sink) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.PublishTrigger(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Mirror writes price snapshots to every configured mirror.
type Mirror struct {
	mirrors []port.PriceMirror
}

func NewMirror(mirrors ...port.PriceMirror) *Mirror {
	out := make([]port.PriceMirror, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			out = append(out, m)
		}
	}
	return &Mirror{mirrors: out}
}

func (m *Mirror) Len() int { return len(m.mirrors) }

func (m *Mirror) UpsertLatestPrices(ctx context.Context, ticks []domain.PriceTick) error {
	var firstErr error
	for _, mirror := range m.mirrors {
		if err := mirror.UpsertLatestPrices(ctx, ticks); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ port.TriggerSink = (*Sink)(nil)
	_ port.PriceMirror = (*Mirror)(nil)
)
