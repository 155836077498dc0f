package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

const Channel = "console"

// Notifier prints one line per triggered alert, for local runs and demos.
type Notifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewNotifier(out io.Writer) *Notifier {
	if out == nil {
		out = os.Stdout
	}
	return &Notifier{out: out}
}

func (n *Notifier) Channel() string { return Channel }

// 2024-01-01 12:00:00 ALERT BTCUSDT above 64000 @ 65000 user=u1 id=...
func (n *Notifier) Notify(_ context.Context, ev domain.TriggerEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.out, "%s ALERT %s %s %s @ %s user=%s id=%s\n",
		ev.TriggeredAt.Format("2006-01-02 15:04:05"),
		ev.Symbol, ev.Condition, ev.TargetValue, ev.TriggerPrice, ev.UserID, ev.AlertID)
	return err
}

var _ port.Notifier = (*Notifier)(nil)
