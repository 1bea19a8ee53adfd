package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startRouter runs a router over the given channel and tears it down with
// the test.
func startRouter(t *testing.T, registry *Registry, input chan job.Event) {
	t.Helper()
	rt, err := New(registry, input, log.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// recvEvent reads one event or fails the test.
func recvEvent(t *testing.T, ch <-chan job.Event) job.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return job.Event{}
	}
}

func TestRegistry_SubscribeTwice(t *testing.T) {
	registry := NewRegistry()
	id := uuid.New()

	_, err := registry.Subscribe(id)
	require.NoError(t, err)

	_, err = registry.Subscribe(id)
	assert.Error(t, err)
}

func TestRegistry_LookupMissing(t *testing.T) {
	registry := NewRegistry()
	_, ok := registry.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestRouter_ForwardsEventsToSubscriber(t *testing.T) {
	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	id := uuid.New()
	sub, err := registry.Subscribe(id)
	require.NoError(t, err)

	input <- job.Event{JobID: id, Type: job.EventChunk, Data: "hel"}
	input <- job.Event{JobID: id, Type: job.EventChunk, Data: "lo"}
	input <- job.Event{JobID: id, Type: job.EventDone}

	assert.Equal(t, "hel", recvEvent(t, sub).Data)
	assert.Equal(t, "lo", recvEvent(t, sub).Data)
	assert.Equal(t, job.EventDone, recvEvent(t, sub).Type)
}

func TestRouter_IsolatesJobs(t *testing.T) {
	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	id1, id2 := uuid.New(), uuid.New()
	sub1, err := registry.Subscribe(id1)
	require.NoError(t, err)
	sub2, err := registry.Subscribe(id2)
	require.NoError(t, err)

	input <- job.Event{JobID: id2, Type: job.EventChunk, Data: "for two"}
	input <- job.Event{JobID: id1, Type: job.EventChunk, Data: "for one"}

	assert.Equal(t, "for one", recvEvent(t, sub1).Data)
	assert.Equal(t, "for two", recvEvent(t, sub2).Data)
}

func TestRouter_DropsEventsWithoutSubscription(t *testing.T) {
	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	// Must not block or panic; there is nobody to deliver to.
	input <- job.Event{JobID: uuid.New(), Type: job.EventChunk, Data: "void"}
	input <- job.Event{JobID: uuid.New(), Type: job.EventDone}
}

func TestRouter_GraceWindowRetiresSubscription(t *testing.T) {
	old := retireGrace
	retireGrace = 50 * time.Millisecond
	t.Cleanup(func() { retireGrace = old })

	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	id := uuid.New()
	sub, err := registry.Subscribe(id)
	require.NoError(t, err)

	input <- job.Event{JobID: id, Type: job.EventDone}
	assert.Equal(t, job.EventDone, recvEvent(t, sub).Type)

	// Still present inside the grace window.
	_, ok := registry.Lookup(id)
	assert.True(t, ok, "subscription must survive until the grace delay elapses")

	// Gone after it.
	require.Eventually(t, func() bool {
		_, ok := registry.Lookup(id)
		return !ok
	}, time.Second, 10*time.Millisecond, "subscription must be retired after the grace delay")
}

func TestRouter_ErrorEventIsTerminal(t *testing.T) {
	old := retireGrace
	retireGrace = 50 * time.Millisecond
	t.Cleanup(func() { retireGrace = old })

	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	id := uuid.New()
	sub, err := registry.Subscribe(id)
	require.NoError(t, err)

	input <- job.Event{JobID: id, Type: job.EventError, Data: "API error: boom"}
	assert.Equal(t, job.EventError, recvEvent(t, sub).Type)

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup(id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_OverflowDropsNewestEvents(t *testing.T) {
	registry := NewRegistry()
	input := make(chan job.Event)
	startRouter(t, registry, input)

	id := uuid.New()
	sub, err := registry.Subscribe(id)
	require.NoError(t, err)

	// Nobody drains the subscriber, so everything past the buffer is lost.
	for i := 0; i < subscriberBuffer+10; i++ {
		input <- job.Event{JobID: id, Type: job.EventChunk, Data: "x"}
	}

	assert.Len(t, sub, subscriberBuffer)
}
