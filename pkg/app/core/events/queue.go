package events

import (
	"github.com/ethereum/go-ethereum/common"
)

// MaxEvent is the ring capacity. One slot always stays empty, so at most
// MaxEvent-1 events are pending.
const MaxEvent = 512

// Queue is the market-wide circular buffer of pending events. Head is the
// next write slot and tail the next read slot.
type Queue struct {
	Market common.Address

	head   uint16
	tail   uint16
	events [MaxEvent]Event
}

// NewQueue returns an empty queue for market.
func NewQueue(market common.Address) *Queue {
	return &Queue{Market: market}
}

// Size returns the number of pending events.
func (q *Queue) Size() int {
	return (int(q.head) - int(q.tail) + MaxEvent) % MaxEvent
}

func (q *Queue) IsEmpty() bool { return q.head == q.tail }

func (q *Queue) IsFull() bool { return (int(q.head)+1)%MaxEvent == int(q.tail) }

// Enqueue appends e and reports whether it was stored. A full queue is left
// untouched.
func (q *Queue) Enqueue(e Event) bool {
	if q.IsFull() {
		return false
	}
	q.events[q.head] = e
	q.head = uint16((int(q.head) + 1) % MaxEvent)
	return true
}

// Dequeue pops the oldest event.
func (q *Queue) Dequeue() (Event, bool) {
	if q.IsEmpty() {
		return Event{}, false
	}
	e := q.events[q.tail]
	q.tail = uint16((int(q.tail) + 1) % MaxEvent)
	return e, true
}

// Peek returns the i-th pending event without removing it; 0 is the oldest.
func (q *Queue) Peek(i int) (Event, bool) {
	if i < 0 || i >= q.Size() {
		return Event{}, false
	}
	return q.events[(int(q.tail)+i)%MaxEvent], true
}

// Pending returns up to limit pending events, oldest first. A limit of zero
// or less returns all of them.
func (q *Queue) Pending(limit int) []Event {
	n := q.Size()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e, _ := q.Peek(i)
		out = append(out, e)
	}
	return out
}

// Clone returns an independent copy.
func (q *Queue) Clone() *Queue {
	cp := *q
	return &cp
}
