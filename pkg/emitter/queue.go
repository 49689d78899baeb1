// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package emitter

import "sync"

// eventQueue is an unbounded, thread-safe, multi-producer/single-consumer
// FIFO of pending events. Push never blocks; it rejects an event only once
// the queue is closed, and reports that to the caller so the event is never
// dropped silently before a delivery attempt.
//
// k8s.io/client-go/util/workqueue was considered for this role and
// rejected: workqueue.Type dedups items
// by key, which is correct for a reconciler's work-to-do set but wrong
// here, where every enqueued event must reach a delivery attempt exactly
// once, in submission order, with no coalescing.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends e to the queue. It reports whether the event was accepted;
// false means the queue is shutting down and the caller should log+drop.
func (q *eventQueue) push(e Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every currently queued event, along with
// whether the queue has been closed.
func (q *eventQueue) drain() ([]Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, q.closed
}

// close marks the queue closed: further push calls are rejected. It wakes
// the consumer so a final drain can happen.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
