package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/colloquy/pkg/schema"
)

func TestEventLog_AppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	d := seedDialog(t, s)

	e1 := &Event{DialogID: d.ID, Type: schema.EventStarted}
	require.NoError(t, el.AppendEvent(ctx, e1))
	assert.Equal(t, int64(1), e1.Sequence)
	assert.False(t, e1.Timestamp.IsZero())

	e2 := &Event{DialogID: d.ID, Type: schema.EventCompleted}
	require.NoError(t, el.AppendEvent(ctx, e2))
	assert.Equal(t, int64(2), e2.Sequence)
}

func TestEventLog_ConcurrentAppendsStayContiguous(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	d := seedDialog(t, s)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = el.AppendEvent(ctx, &Event{DialogID: d.ID, Type: schema.EventStepCompleted, StepName: "s"})
		}()
	}
	wg.Wait()

	events, err := el.GetEvents(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_ReplayReconstructsStepResults(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	d := seedDialog(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{DialogID: d.ID, Type: schema.EventStarted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{DialogID: d.ID, Type: schema.EventStepStarted, StepName: "Greet"}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		DialogID: d.ID, Type: schema.EventStepCompleted, StepName: "Greet",
		Payload: json.RawMessage(`{"text":"hi"}`),
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{DialogID: d.ID, Type: schema.EventStepStarted, StepName: "Ask"}))
	require.NoError(t, el.AppendEvent(ctx, &Event{DialogID: d.ID, Type: schema.EventStepRetrying, StepName: "Ask"}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		DialogID: d.ID, Type: schema.EventStepFailed, StepName: "Ask",
		Payload: json.RawMessage(`{"code":"LLM_ERROR"}`),
	}))

	results, err := el.ReplayEvents(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	greet := results["Greet"]
	require.NotNil(t, greet)
	assert.Equal(t, schema.StepResultComplete, greet.Status)
	assert.JSONEq(t, `{"text":"hi"}`, string(greet.Output))
	assert.Equal(t, 0, greet.Position)

	ask := results["Ask"]
	require.NotNil(t, ask)
	assert.Equal(t, schema.StepResultError, ask.Status)
	assert.Equal(t, 1, ask.Attempts)
	assert.Equal(t, 1, ask.Position)
}

func TestEventLog_ReplayEmptyDialog(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)

	results, err := el.ReplayEvents(context.Background(), "no-such-dialog")
	require.NoError(t, err)
	assert.Empty(t, results)
}
