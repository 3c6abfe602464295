package engine

import (
	"sync"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/types"
)

// event is one feed observation waiting for the control loop.
type event struct {
	tick  *types.Tick
	order *types.OrderUpdate
}

// Queue is the ordered hand-off between feed goroutines and the control
// loop. Feed callbacks push; only Step drains.
type Queue struct {
	mu     sync.Mutex
	events []event
}

var _ interfaces.EventSink = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) OnTick(tick types.Tick) {
	q.mu.Lock()
	q.events = append(q.events, event{tick: &tick})
	q.mu.Unlock()
}

func (q *Queue) OnOrderUpdate(update types.OrderUpdate) {
	q.mu.Lock()
	q.events = append(q.events, event{order: &update})
	q.mu.Unlock()
}

// drain returns every queued event in arrival order and empties the queue.
func (q *Queue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
