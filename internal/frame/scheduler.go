// Package frame provides display-refresh style scheduling: one-shot
// callbacks that run on the next frame, and a render loop that keeps
// re-arming itself until stopped.
package frame

import (
	"sort"
	"sync"
	"time"
)

// Callback runs once on the frame it was registered for.
type Callback func(now time.Time)

// Handle identifies a registered callback.
type Handle uint64

// Scheduler delivers one-shot frame callbacks.
type Scheduler interface {
	Register(cb Callback) Handle
	Cancel(h Handle)
}

// queue is the pending-callback set shared by the scheduler implementations.
type queue struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]Callback
}

func (q *queue) Register(cb Callback) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[Handle]Callback)
	}
	q.next++
	q.pending[q.next] = cb
	return q.next
}

func (q *queue) Cancel(h Handle) {
	q.mu.Lock()
	delete(q.pending, h)
	q.mu.Unlock()
}

// Pending returns the number of callbacks waiting for the next frame.
func (q *queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// flush runs every callback registered before the call, in registration
// order. Callbacks registered while flushing wait for the next frame.
func (q *queue) flush(now time.Time) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	handles := make([]Handle, 0, len(q.pending))
	for h := range q.pending {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	q.mu.Unlock()

	for _, h := range handles {
		// Re-check under the lock: an earlier callback may have cancelled it.
		q.mu.Lock()
		cb, ok := q.pending[h]
		delete(q.pending, h)
		q.mu.Unlock()
		if ok {
			cb(now)
		}
	}
}

// Manual is a Scheduler driven by explicit Tick calls, for headless
// rendering and tests.
type Manual struct {
	queue
}

// NewManual returns an idle manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Tick runs the pending callbacks on the caller's goroutine.
func (m *Manual) Tick(now time.Time) {
	m.flush(now)
}
