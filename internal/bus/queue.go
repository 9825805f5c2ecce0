package bus

import "sync"

// queue hands events to a single reader without ever blocking the
// publisher.
type queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
}

func newQueue() *queue {
	return &queue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
	}
}

func (q *queue) push(evt Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, evt)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events in order and closes out once the queue is
// closed and empty.
func (q *queue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, evt := range items {
			q.out <- evt
		}
		if len(items) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}
