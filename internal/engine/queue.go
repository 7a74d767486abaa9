package engine

import (
	"sync"

	"github.com/roach88/flocksync/internal/strategy"
)

// RequestKind distinguishes the work the Run loop can be asked to do.
type RequestKind int

const (
	// RequestRefresh runs one hydration.
	RequestRefresh RequestKind = iota + 1
	// RequestSessionChange swaps the active strategy, then hydrates.
	RequestSessionChange
)

func (k RequestKind) String() string {
	switch k {
	case RequestRefresh:
		return "refresh"
	case RequestSessionChange:
		return "session_change"
	default:
		return "unknown"
	}
}

// Request is one unit of work for the Run loop.
type Request struct {
	Kind RequestKind

	// Strategy is the new active strategy for RequestSessionChange.
	Strategy strategy.Strategy

	// Reason is logged with the request (e.g. "ticker", "session_file").
	Reason string
}

// requestQueue is a thread-safe FIFO queue for requests.
//
// Watchers and tickers enqueue from their own goroutines while the Run loop
// dequeues, so hydrations they trigger never overlap each other.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type requestQueue struct {
	mu       sync.Mutex
	requests []Request
	closed   bool
	signal   chan struct{} // Signals request availability (buffered, size 1)
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		requests: make([]Request, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(r Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Request{}, false) if the queue is empty.
func (q *requestQueue) TryDequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return Request{}, false
	}

	r := q.requests[0]
	// Nil out the slot so the strategy reference can be collected.
	q.requests[0] = Request{}

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed when the queue is closed.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Close signals that no more requests will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
