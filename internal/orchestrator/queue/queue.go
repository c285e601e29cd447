// Package queue implements the bounded, per-session inbound request queue
// that sits between the Session Manager and a Session Worker.
package queue

import (
	"context"
	"sync"

	"github.com/kandev/personaorch/internal/common/errors"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// InboundQueue is a bounded FIFO of pending InboundRequests for one session.
// Put blocks up to a caller-supplied deadline (via ctx) before raising
// Overloaded; Pop blocks until an item is available or the queue is closed.
type InboundQueue struct {
	capacity int
	items    chan v1.InboundRequest

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns an InboundQueue that holds at most capacity pending requests.
func New(capacity int) *InboundQueue {
	return &InboundQueue{
		capacity: capacity,
		items:    make(chan v1.InboundRequest, capacity),
		closed:   make(chan struct{}),
	}
}

// Put enqueues req, blocking until space frees up, ctx is done, or the
// queue is closed. A ctx deadline exceeded while the queue is full surfaces
// as an Overloaded AppError so the caller can turn it into a 429 response.
func (q *InboundQueue) Put(ctx context.Context, req v1.InboundRequest) error {
	select {
	case q.items <- req:
		return nil
	case <-q.closed:
		return errors.Internal("queue closed", nil)
	default:
	}

	select {
	case q.items <- req:
		return nil
	case <-ctx.Done():
		return errors.Overloaded("inbound queue full for session " + req.SessionID)
	case <-q.closed:
		return errors.Internal("queue closed", nil)
	}
}

// Pop blocks until a request is available or ctx is done / the queue is
// closed, in which case ok is false.
func (q *InboundQueue) Pop(ctx context.Context) (req v1.InboundRequest, ok bool) {
	select {
	case req, ok = <-q.items:
		return req, ok
	case <-ctx.Done():
		return v1.InboundRequest{}, false
	case <-q.closed:
		select {
		case req, ok = <-q.items:
			return req, ok
		default:
			return v1.InboundRequest{}, false
		}
	}
}

// Len reports how many requests are currently buffered.
func (q *InboundQueue) Len() int {
	return len(q.items)
}

// Cap reports the queue's capacity.
func (q *InboundQueue) Cap() int {
	return q.capacity
}

// Close stops future Put calls from succeeding and unblocks any pending
// Pop once the buffered items drain. Idempotent.
func (q *InboundQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
