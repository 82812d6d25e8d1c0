// File: server/outqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// outQueue is the bounded outbound-frame queue backing a connection's out
// buffer (spec section 3) for the case where a write would otherwise block
// the caller — a registry fanout delivery or a keep-alive PING racing a
// slow client. It wraps github.com/eapache/queue, the teacher's own
// dependency for exactly this kind of growable, non-blocking FIFO, instead
// of an unbounded [][]byte append.

package server

import (
	"sync"

	"github.com/eapache/queue"
)

// outQueue is a goroutine-safe FIFO of pending outbound frames, capped at
// maxPending entries to bound memory under a stalled peer.
type outQueue struct {
	mu         sync.Mutex
	q          *queue.Queue
	maxPending int
}

func newOutQueue(maxPending int) *outQueue {
	return &outQueue{q: queue.New(), maxPending: maxPending}
}

// push enqueues frame, returning false (without enqueueing) if the queue is
// already at capacity, so the queue never grows past maxPending. The frame
// is then dropped; push itself does not close the connection.
func (o *outQueue) push(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() >= o.maxPending {
		return false
	}
	o.q.Add(frame)
	return true
}

// pop dequeues the next frame, or returns (nil, false) if empty.
func (o *outQueue) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() == 0 {
		return nil, false
	}
	return o.q.Remove().([]byte), true
}

func (o *outQueue) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Length()
}
