package ws

import (
	"sync"
	"sync/atomic"
)

// frame is one encoded server->client message.
type frame struct {
	price  bool
	symbol string
	data   []byte
}

// Outbox is a client's bounded outbound queue. Push never blocks; when the queue is
// full a price frame replaces the oldest price frame of its symbol (or the oldest
// price frame), and a control frame replaces the oldest price frame (or the oldest
// control frame).
type Outbox struct {
	capacity int

	mu     sync.Mutex
	frames []frame
	closed bool

	ready chan struct{}
	done  chan struct{}

	dropped atomic.Int64
}

func NewOutbox(capacity int) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Outbox{
		capacity: capacity,
		frames:   make([]frame, 0, capacity),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues f and reports whether it was accepted without being dropped itself.
func (o *Outbox) Push(f frame) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}

	accepted := true
	if len(o.frames) >= o.capacity {
		victim := o.victim(f)
		if victim < 0 {
			// full of control frames and f is a price: f loses
			accepted = false
		} else {
			o.frames = append(o.frames[:victim], o.frames[victim+1:]...)
		}
		o.dropped.Add(1)
	}
	if accepted {
		o.frames = append(o.frames, f)
	}
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return accepted
}

// victim picks the index to evict for incoming f, or -1 to drop f.
func (o *Outbox) victim(f frame) int {
	oldestPrice, oldestControl := -1, -1
	for i, q := range o.frames {
		if q.price {
			if f.price && q.symbol == f.symbol {
				return i
			}
			if oldestPrice < 0 {
				oldestPrice = i
			}
		} else if oldestControl < 0 {
			oldestControl = i
		}
	}
	if oldestPrice >= 0 {
		return oldestPrice
	}
	if !f.price {
		return oldestControl
	}
	return -1
}

// Pop takes the oldest frame without blocking.
func (o *Outbox) Pop() (frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.frames) == 0 {
		return frame{}, false
	}
	f := o.frames[0]
	n := copy(o.frames, o.frames[1:])
	o.frames[n] = frame{}
	o.frames = o.frames[:n]
	return f, true
}

// Ready is signalled after every Push.
func (o *Outbox) Ready() <-chan struct{} { return o.ready }

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *Outbox) Dropped() int64 { return o.dropped.Load() }
