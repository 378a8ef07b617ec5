package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerlens/answerlens/internal/model"
)

// collector gathers streamed events and heartbeats under a lock so the
// streaming goroutine and the test can both touch them.
type collector struct {
	mu         sync.Mutex
	events     []model.RunEvent
	heartbeats int
}

func (c *collector) send(ev model.RunEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats++
	return nil
}

func (c *collector) snapshot() ([]model.RunEvent, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.RunEvent(nil), c.events...), c.heartbeats
}

func TestStreamDeliversBacklogThenHeartbeats(t *testing.T) {
	f := newFixture(t, newScriptedRunner())
	run := seedRun(t, f.store, 1, map[string]any{"timeout_seconds": 0})
	require.NoError(t, f.orch.Execute(context.Background(), run.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	streamer := NewStreamer(f.store, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, run.ID, c.send, c.heartbeat) }()

	// A completed run's whole history arrives as backlog, then the stream
	// idles on heartbeats.
	require.Eventually(t, func() bool {
		events, beats := c.snapshot()
		return len(events) > 0 && beats >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events, _ := c.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.StepCompleted, last.Step)
	assert.Equal(t, model.EventOK, last.Status)
}

func TestStreamTailsLiveEvents(t *testing.T) {
	f := newFixture(t, newScriptedRunner())
	run := seedRun(t, f.store, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	streamer := NewStreamer(f.store, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, run.ID, c.send, c.heartbeat) }()

	// Appended after the stream started, so they arrive via the polling tail.
	_, err := f.store.AppendEvent(ctx, run.ID, model.StepFetch, model.EventStarted, "cycle 1/1")
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, run.ID, model.StepFetch, model.EventOK, "12ms")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := c.snapshot()
		return len(events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	events, _ := c.snapshot()
	assert.Equal(t, model.EventStarted, events[0].Status)
	assert.Equal(t, model.EventOK, events[1].Status)

	cancel()
	require.NoError(t, <-done)
}

func TestStreamNoDuplicateDelivery(t *testing.T) {
	f := newFixture(t, newScriptedRunner())
	run := seedRun(t, f.store, 1, nil)

	for i := 0; i < 3; i++ {
		_, err := f.store.AppendEvent(context.Background(), run.ID, model.StepFetch, model.EventOK, "")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	streamer := NewStreamer(f.store, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- streamer.Stream(ctx, run.ID, c.send, c.heartbeat) }()

	// Let several polls elapse; the backlog must not be re-sent.
	require.Eventually(t, func() bool {
		_, beats := c.snapshot()
		return beats >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events, _ := c.snapshot()
	assert.Len(t, events, 3)
}

func TestStreamStopsWhenSendFails(t *testing.T) {
	f := newFixture(t, newScriptedRunner())
	run := seedRun(t, f.store, 1, nil)

	_, err := f.store.AppendEvent(context.Background(), run.ID, model.StepQueued, model.EventOK, "")
	require.NoError(t, err)

	clientGone := eris.New("client gone")
	streamer := NewStreamer(f.store, 10*time.Millisecond)
	err = streamer.Stream(context.Background(), run.ID,
		func(model.RunEvent) error { return clientGone },
		func() error { return nil },
	)
	assert.ErrorIs(t, err, clientGone)
}
