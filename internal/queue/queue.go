// Package queue implements the single-consumer request queue described in
// spec.md §4.D: requests that no autoresponder claims are appended here for
// a test to retrieve later with Get or inspect with Peek.
package queue

import (
	"context"
	"sync"

	"github.com/mockupdb/mockupdb/internal/message"
)

// Queue is a FIFO of *message.Request with a one-slot, non-destructive peek
// buffer. Peek is safe from only one consumer goroutine at a time; Put may
// be called concurrently from any number of connection goroutines.
type Queue struct {
	mu      sync.Mutex
	items   []*message.Request
	notify  chan struct{}
	peeked  *message.Request
	hasPeek bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends req to the back of the queue and wakes one waiting consumer.
func (q *Queue) Put(req *message.Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get removes and returns the front request, blocking until one is
// available or ctx is done. A request previously returned by Peek is
// returned again here rather than re-read from the queue.
func (q *Queue) Get(ctx context.Context) (*message.Request, error) {
	for {
		q.mu.Lock()
		if q.hasPeek {
			req := q.peeked
			q.peeked = nil
			q.hasPeek = false
			q.mu.Unlock()
			return req, nil
		}
		if len(q.items) > 0 {
			req := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Peek returns the front request without removing it, blocking until one
// is available or ctx is done. A subsequent Peek or Get observes the same
// request until a Get finally consumes it.
func (q *Queue) Peek(ctx context.Context) (*message.Request, error) {
	for {
		q.mu.Lock()
		if q.hasPeek {
			req := q.peeked
			q.mu.Unlock()
			return req, nil
		}
		if len(q.items) > 0 {
			req := q.items[0]
			q.items = q.items[1:]
			q.peeked = req
			q.hasPeek = true
			q.mu.Unlock()
			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports the number of requests currently queued, including a pending
// peeked request but not yet consumed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.hasPeek {
		n++
	}
	return n
}
