package service

import (
	"sync"

	"pricehub/internal/domain"
)

// TickQueue is a FIFO ring buffer between the distributor and one consumer.
// Send never blocks: the buffer doubles when 70% full, and once it reaches
// maxCapacity the oldest tick is overwritten and counted as dropped.
type TickQueue struct {
	name string

	mu          sync.Mutex
	cond        *sync.Cond
	buf         []domain.PriceTick
	head        int
	tail        int
	count       int
	capacity    int
	maxCapacity int
	closed      bool

	received int64
	sent     int64
	dropped  int64
	resizes  int
}

// QueueStats is a point-in-time view of a TickQueue.
type QueueStats struct {
	Name     string `json:"name"`
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Received int64  `json:"received"`
	Sent     int64  `json:"sent"`
	Dropped  int64  `json:"dropped"`
	Resizes  int    `json:"resizes"`
}

func NewTickQueue(name string, initialCapacity, maxCapacity int) *TickQueue {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	q := &TickQueue{
		name:        name,
		buf:         make([]domain.PriceTick, initialCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *TickQueue) Name() string { return q.name }

// Send appends t. It returns false only when the queue is closed.
func (q *TickQueue) Send(t domain.PriceTick) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && q.capacity < q.maxCapacity {
		q.grow()
	}

	if q.count == q.capacity {
		// full at max capacity: overwrite the oldest
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
	}

	q.buf[q.tail] = t
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.received++

	q.cond.Signal()
	return true
}

// Receive blocks until a tick is available or the queue is closed and empty.
func (q *TickQueue) Receive() (domain.PriceTick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return domain.PriceTick{}, false
	}
	return q.popLocked(), true
}

// TryReceive is the non-blocking form of Receive.
func (q *TickQueue) TryReceive() (domain.PriceTick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return domain.PriceTick{}, false
	}
	return q.popLocked(), true
}

func (q *TickQueue) popLocked() domain.PriceTick {
	t := q.buf[q.head]
	q.buf[q.head] = domain.PriceTick{}
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.sent++
	return t
}

// Close wakes all receivers; queued ticks can still be received.
func (q *TickQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *TickQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *TickQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Name:     q.name,
		Len:      q.count,
		Capacity: q.capacity,
		Received: q.received,
		Sent:     q.sent,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles capacity up to maxCapacity. Caller holds the lock.
func (q *TickQueue) grow() {
	newCapacity := q.capacity * 2
	if newCapacity > q.maxCapacity {
		newCapacity = q.maxCapacity
	}
	newBuf := make([]domain.PriceTick, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count % newCapacity
	q.capacity = newCapacity
	q.resizes++
}
