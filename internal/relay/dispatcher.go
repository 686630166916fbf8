package relay

import (
	"sync"
)

// Dispatcher serializes work per session id. All persist-then-broadcast
// steps for one session run on a single goroutine in submission order, so
// every room member observes the same relative event order. Sessions do
// not serialize against each other.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*sessionQueue
	closed bool
}

type sessionQueue struct {
	jobs []func()
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queues: make(map[string]*sessionQueue),
	}
}

// Enqueue schedules fn on the session's queue. Jobs for the same session
// run one at a time, in Enqueue order.
func (d *Dispatcher) Enqueue(sessionID string, fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	q, running := d.queues[sessionID]
	if !running {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	q.jobs = append(q.jobs, fn)
	d.mu.Unlock()

	if !running {
		go d.drain(sessionID, q)
	}
}

func (d *Dispatcher) drain(sessionID string, q *sessionQueue) {
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, sessionID)
			d.mu.Unlock()
			return
		}
		fn := q.jobs[0]
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		fn()
	}
}

// Close stops accepting new work. Jobs already queued still run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Pending reports queued (not yet started) jobs for a session.
func (d *Dispatcher) Pending(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[sessionID]; ok {
		return len(q.jobs)
	}
	return 0
}
