package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chatqd/chatqd/internal/engine"
	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/testutil"
	"github.com/chatqd/chatqd/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// factoryFor wraps a Completer into an EngineFactory for tests.
func factoryFor(t *testing.T, c engine.Completer) EngineFactory {
	t.Helper()
	return func() (*engine.Engine, error) {
		registry, err := tools.NewRegistry(log.NewNop())
		if err != nil {
			return nil, err
		}
		return engine.New(c, registry, log.NewNop())
	}
}

// collectTerminal reads events for one job until its terminal event.
func collectTerminal(t *testing.T, out <-chan job.Event, id uuid.UUID) []job.Event {
	t.Helper()
	var events []job.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-out:
			require.Equal(t, id, ev.JobID)
			events = append(events, ev)
			if ev.Terminal() {
				return events
			}
		case <-deadline:
			t.Fatalf("no terminal event for job %s (got %d events)", id, len(events))
		}
	}
}

func TestQueue_ProcessesJob(t *testing.T) {
	mock := testutil.NewMockCompleter()
	mock.EnqueueText("hello from the model")

	q, err := NewQueue(factoryFor(t, mock), log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())
	defer q.Stop()

	id := q.Submit([]job.Message{{Role: job.RoleUser, Content: "hi"}}, "kimi-k2.5", 1.0, nil)

	events := collectTerminal(t, q.Output(), id)
	assert.Equal(t, job.EventDone, events[len(events)-1].Type)
}

func TestQueue_SerializesJobsInOrder(t *testing.T) {
	mock := testutil.NewMockCompleter()
	mock.EnqueueText("first")
	mock.EnqueueText("second")

	q, err := NewQueue(factoryFor(t, mock), log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())
	defer q.Stop()

	id1 := q.Submit([]job.Message{{Role: job.RoleUser, Content: "a"}}, "m", 1.0, nil)
	id2 := q.Submit([]job.Message{{Role: job.RoleUser, Content: "b"}}, "m", 1.0, nil)

	ev1 := collectTerminal(t, q.Output(), id1)
	ev2 := collectTerminal(t, q.Output(), id2)

	text := func(events []job.Event) string {
		var s string
		for _, e := range events {
			if e.Type == job.EventChunk {
				s += e.Data
			}
		}
		return s
	}
	assert.Equal(t, "first", text(ev1))
	assert.Equal(t, "second", text(ev2))
}

// blockingCompleter parks until released, simulating a slow model call.
type blockingCompleter struct {
	release chan struct{}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "done"}}},
	}, nil
}

func TestQueue_SubmissionDoesNotBlockOnBusyWorker(t *testing.T) {
	blocker := &blockingCompleter{release: make(chan struct{})}

	q, err := NewQueue(factoryFor(t, blocker), log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())

	id1 := q.Submit([]job.Message{{Role: job.RoleUser, Content: "slow"}}, "m", 1.0, nil)

	// The worker is now stuck in the model call; further submissions must
	// still return immediately.
	start := time.Now()
	id2 := q.Submit([]job.Message{{Role: job.RoleUser, Content: "queued"}}, "m", 1.0, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotEqual(t, id1, id2)

	close(blocker.release)
	collectTerminal(t, q.Output(), id1)
	collectTerminal(t, q.Output(), id2)
	q.Stop()
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q, err := NewQueue(factoryFor(t, testutil.NewMockCompleter()), log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())

	q.Stop()
	q.Stop()
}

func TestQueue_StopCancelsInFlightJob(t *testing.T) {
	old := stopGrace
	stopGrace = 100 * time.Millisecond
	t.Cleanup(func() { stopGrace = old })

	blocker := &blockingCompleter{release: make(chan struct{})}

	q, err := NewQueue(factoryFor(t, blocker), log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())

	id := q.Submit([]job.Message{{Role: job.RoleUser, Content: "hang"}}, "m", 1.0, nil)

	// Give the worker a moment to pick the job up, then stop. The nil
	// sentinel queues behind the job; after the grace wait the context is
	// cancelled and the in-flight call aborts with an error event.
	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()

	events := collectTerminal(t, q.Output(), id)
	assert.Equal(t, job.EventError, events[len(events)-1].Type)

	select {
	case <-done:
	case <-time.After(2 * stopGrace):
		t.Fatal("Stop did not return")
	}
}

func TestQueue_EngineFactoryFailure(t *testing.T) {
	factory := func() (*engine.Engine, error) {
		return nil, errors.New("no credentials")
	}

	q, err := NewQueue(factory, log.NewNop())
	require.NoError(t, err)
	q.Start(context.Background())
	defer q.Stop()

	id := q.Submit([]job.Message{{Role: job.RoleUser, Content: "hi"}}, "m", 1.0, nil)

	events := collectTerminal(t, q.Output(), id)
	require.Len(t, events, 1)
	assert.Equal(t, job.EventError, events[0].Type)
	assert.Contains(t, events[0].Data, "worker initialization failed")
}

func TestNewQueue_Validation(t *testing.T) {
	_, err := NewQueue(nil, log.NewNop())
	assert.Error(t, err)

	_, err = NewQueue(func() (*engine.Engine, error) { return nil, nil }, nil)
	assert.Error(t, err)
}
