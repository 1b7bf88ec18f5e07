package bridge

import (
	"context"
	"sync"

	"p8link.dev/internal/gpio"
	"p8link.dev/internal/protocol"
)

type eventKind int

const (
	evConnected eventKind = iota + 1
	evItems
	evBounced
	evLocationInfo
	evPoll
	evDisconnected
)

func (k eventKind) String() string {
	switch k {
	case evConnected:
		return "connected"
	case evItems:
		return "items"
	case evBounced:
		return "bounced"
	case evLocationInfo:
		return "location_info"
	case evPoll:
		return "poll"
	case evDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type event struct {
	kind eventKind

	connected protocol.Connected
	items     protocol.ReceivedItems
	bounced   protocol.Bounced
	info      protocol.LocationInfo
	change    gpio.Change
	err       error
}

// eventQueue is an unbounded FIFO. push never blocks and never coalesces, so
// handlers running on the loop goroutine may enqueue (e.g. via their own
// memory writes) without deadlocking.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) tryPop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return event{}, false
	}
	ev := q.items[0]
	q.items[0] = event{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) pop(ctx context.Context) (event, error) {
	for {
		if ev, ok := q.tryPop(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
