// Package worker runs the job queue: a single long-lived goroutine that
// consumes submitted jobs one at a time and executes them through the
// completion engine.
//
// The worker is the only component that touches the model-API client.
// The client is constructed inside the worker goroutine at start-up, so
// a hang or crash in a long model call never blocks request intake:
// submission only ever appends to a channel. Serializing jobs through
// one worker bounds resource usage at the cost of no intra-process
// parallelism across jobs.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatqd/chatqd/internal/engine"
	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

const (
	// inputBuffer sizes the job intake channel. Submissions are expected
	// to stay far below this; the buffer only exists so Submit never
	// blocks the HTTP handler behind a slow model call.
	inputBuffer = 1024

	// outputBuffer sizes the event channel drained by the router.
	outputBuffer = 1024

)

// stopGrace is how long Stop waits for the worker to finish its current
// job before forcing termination via context cancellation. Variable so
// tests can shorten the wait.
var stopGrace = 5 * time.Second

// EngineFactory builds the completion engine. It runs inside the worker
// goroutine so client construction is isolated from the submission path.
type EngineFactory func() (*engine.Engine, error)

// Queue accepts jobs and feeds them to the worker. Safe for concurrent
// submission; Start and Stop are idempotent.
type Queue struct {
	input  chan *job.Job
	output chan job.Event
	logger log.Logger

	newEngine EngineFactory

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewQueue creates a queue. The factory is invoked once, on the worker
// goroutine, when Start runs.
func NewQueue(newEngine EngineFactory, logger log.Logger) (*Queue, error) {
	if newEngine == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Queue{
		input:     make(chan *job.Job, inputBuffer),
		output:    make(chan job.Event, outputBuffer),
		logger:    logger,
		newEngine: newEngine,
		done:      make(chan struct{}),
	}, nil
}

// Output returns the event channel the router consumes.
func (q *Queue) Output() <-chan job.Event {
	return q.output
}

// Submit enqueues a job and returns its generated identifier without
// waiting for the worker. The job is immutable from here on.
func (q *Queue) Submit(messages []job.Message, model string, temperature float64, resources map[string]job.Resource) uuid.UUID {
	j := &job.Job{
		ID:          uuid.New(),
		Messages:    messages,
		Model:       model,
		Temperature: temperature,
		Resources:   resources,
	}
	q.SubmitJob(j)
	return j.ID
}

// SubmitJob enqueues a prepared job. The caller owns ID generation, so a
// subscription can be registered before the worker can emit any event
// for the job.
func (q *Queue) SubmitJob(j *job.Job) {
	q.input <- j
	q.logger.Info("job submitted", "job_id", j.ID, "model", j.Model, "messages", len(j.Messages))
}

// Start launches the worker goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		go q.run(ctx)
	})
}

// Stop shuts the worker down: a nil sentinel stops intake, then a
// bounded wait lets the current job finish. If it does not exit promptly
// the worker context is cancelled, aborting the in-flight model call,
// and the job surfaces as an error event.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		select {
		case q.input <- nil:
		default:
			// Intake full; fall through to forced cancellation below.
		}

		select {
		case <-q.done:
			return
		case <-time.After(stopGrace):
			q.logger.Warn("worker did not stop in time, cancelling in-flight job")
		}

		if q.cancel != nil {
			q.cancel()
		}
		select {
		case <-q.done:
		case <-time.After(stopGrace):
			q.logger.Error("worker abandoned while still running")
		}
	})
}

// run is the worker loop. The engine (and with it the API client) is
// built here, on the worker goroutine.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	logger := q.logger.With("component", "worker")
	logger.Info("worker started")

	eng, err := q.newEngine()
	if err != nil {
		// Keep consuming so submitted jobs still receive their terminal
		// event instead of hanging their subscribers.
		logger.Error("engine initialization failed", "error", err)
		q.drainWithError(ctx, fmt.Sprintf("worker initialization failed: %v", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case jb := <-q.input:
			if jb == nil {
				logger.Info("received shutdown signal")
				return
			}
			eng.Run(ctx, jb, q.output)
		}
	}
}

// drainWithError answers every remaining job with a single error event.
func (q *Queue) drainWithError(ctx context.Context, msg string) {
	for {
		select {
		case <-ctx.Done():
			return
		case jb := <-q.input:
			if jb == nil {
				return
			}
			q.output <- job.Event{JobID: jb.ID, Type: job.EventError, Data: msg}
		}
	}
}
