// Package router fans worker output out to per-job subscribers.
//
// The worker writes every event for every job onto one shared output
// channel; the router republishes each event to the subscription
// registered for that job's identifier. Subscriptions are created at
// submission time, looked up by the streaming boundary, and retired by
// the router after the terminal event plus a grace delay so a slow
// reader can still drain the tail of its stream.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

const (
	// subscriberBuffer sizes each subscription channel. The worker can
	// outrun a slow SSE reader; the buffer absorbs the burst. Overflow is
	// dropped rather than blocking the router for every other job.
	subscriberBuffer = 4096
)

// retireGrace is how long a subscription survives after its terminal
// event has been delivered. Variable so tests can shorten it.
var retireGrace = time.Second

// Registry maps job identifiers to subscriber channels. One subscription
// per job; insert happens on the submission path, lookup on the
// streaming boundary, removal on the router. A single mutex is enough;
// per-key contention does not exist because each key has exactly one
// writer for each operation.
type Registry struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan job.Event
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uuid.UUID]chan job.Event)}
}

// Subscribe registers a subscription for a job and returns its channel.
// Registering the same job twice is a programming error.
func (r *Registry) Subscribe(id uuid.UUID) (<-chan job.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[id]; exists {
		return nil, fmt.Errorf("job %s already has a subscription", id)
	}
	ch := make(chan job.Event, subscriberBuffer)
	r.subs[id] = ch
	return ch, nil
}

// Lookup returns the subscription channel for a job, if one exists.
func (r *Registry) Lookup(id uuid.UUID) (<-chan job.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.subs[id]
	return ch, ok
}

// remove deletes a subscription. Missing entries are ignored; the grace
// timer may fire after an explicit removal.
func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// send forwards an event to a job's subscriber. Events for unknown jobs
// are dropped, as are events that would overflow the subscriber buffer.
func (r *Registry) send(ev job.Event) (delivered bool, overflow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.subs[ev.JobID]
	if !ok {
		return false, false
	}
	select {
	case ch <- ev:
		return true, false
	default:
		return false, true
	}
}

// Router distributes worker output for the lifetime of the process.
type Router struct {
	registry *Registry
	input    <-chan job.Event
	logger   log.Logger
}

// New creates a router reading from the worker's output channel.
func New(registry *Registry, input <-chan job.Event, logger log.Logger) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if input == nil {
		return nil, fmt.Errorf("input channel is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Router{registry: registry, input: input, logger: logger}, nil
}

// Run distributes events until the context is cancelled. It blocks on
// the shared channel instead of polling; channel receive is the genuine
// multi-producer wait the platform provides.
func (rt *Router) Run(ctx context.Context) {
	logger := rt.logger.With("component", "router")
	logger.Info("output router started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("output router stopped")
			return
		case ev := <-rt.input:
			rt.route(ev, logger)
		}
	}
}

func (rt *Router) route(ev job.Event, logger log.Logger) {
	delivered, overflow := rt.registry.send(ev)
	switch {
	case overflow:
		logger.Warn("subscriber buffer full, dropping event", "job_id", ev.JobID, "type", ev.Type)
	case !delivered:
		// No subscription: it never existed or already expired. Dropping
		// is the contract; there is no buffering for absent subscribers.
		logger.Debug("dropping event without subscription", "job_id", ev.JobID, "type", ev.Type)
	}

	if ev.Terminal() {
		logger.Info("job finished", "job_id", ev.JobID, "status", ev.Type)
		// Retire after a grace delay, not immediately, so a reader that is
		// mid-drain can still pick up the terminal event.
		id := ev.JobID
		time.AfterFunc(retireGrace, func() { rt.registry.remove(id) })
	}
}
