package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runstream/runtime/eventid"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/runlog/inmem"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*runlog.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e *runlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func newTestEmitter(t *testing.T, sink *recordingSink) *Emitter {
	t.Helper()
	opts := Options{Store: inmem.New()}
	if sink != nil {
		opts.Sink = sink
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
}

func TestEmitAssignsSequentialEventIDs(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	e := newTestEmitter(t, sink)
	ctx := context.Background()

	start, err := e.Start(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1_event_1", start.ID)
	assert.Equal(t, runlog.EventMetadata, start.Type)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(start.Payload))

	ev, err := e.Emit(ctx, "run-1", runlog.EventValues, map[string]int{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Seq)
	assert.Equal(t, eventid.Encode("run-1", 2), ev.ID)
	assert.False(t, ev.Timestamp.IsZero())

	require.Len(t, sink.events, 2)
	assert.Equal(t, start.ID, sink.events[0].ID)
	assert.Equal(t, ev.ID, sink.events[1].ID)
}

func TestEmitAcceptsRawPayloads(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()

	ev, err := e.Emit(ctx, "r", runlog.EventCustom, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(ev.Payload))

	ev, err = e.Emit(ctx, "r", runlog.EventCustom, []byte(`[1,2]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(ev.Payload))

	ev, err = e.Emit(ctx, "r", runlog.EventCustom, nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)

	_, err = e.Emit(ctx, "r", runlog.EventCustom, []byte(`{not json`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = e.Emit(ctx, "r", runlog.EventCustom, make(chan int))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEmitSurvivesSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("broker down")}
	e := newTestEmitter(t, sink)

	ev, err := e.Emit(context.Background(), "r", runlog.EventValues, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "r_event_1", ev.ID)
}

func TestEndClosesRun(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()

	_, err := e.End(ctx, "r", "bogus")
	require.Error(t, err)

	end, err := e.End(ctx, "r", StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, runlog.EventEnd, end.Type)
	assert.JSONEq(t, `{"status":"completed"}`, string(end.Payload))

	_, err = e.Emit(ctx, "r", runlog.EventValues, map[string]string{})
	require.ErrorIs(t, err, runlog.ErrRunClosed)
}

func TestFailEmitsErrorThenEnd(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()

	end, err := e.Fail(ctx, "r", errors.New("search backend timed out"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), end.Seq)

	events, err := e.List(ctx, "r", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, runlog.EventError, events[0].Type)
	assert.JSONEq(t, `{"message":"search backend timed out"}`, string(events[0].Payload))
	assert.JSONEq(t, `{"status":"failed"}`, string(events[1].Payload))
}

func TestStartRejectsExistingRun(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()

	_, err := e.Start(ctx, "run-1", nil)
	require.NoError(t, err)
	_, err = e.Start(ctx, "run-1", nil)
	require.ErrorIs(t, err, runlog.ErrRunExists)

	_, err = e.Start(ctx, "bad\nid", nil)
	require.ErrorIs(t, err, runlog.ErrInvalidRunID)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()

	s, err := e.Summary(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, "Run run1 has no events", s)

	_, err = e.Start(ctx, "run1", nil)
	require.NoError(t, err)
	s, err = e.Summary(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, "Run run1 has 1 event", s)

	for i := 0; i < 4; i++ {
		_, err = e.Emit(ctx, "run1", runlog.EventMessages, map[string]int{"i": i})
		require.NoError(t, err)
	}
	s, err = e.Summary(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, "Run run1 has 5 events", s)
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	id := NewRunID("agent.v1_event_x")
	assert.True(t, strings.HasPrefix(id, "agent-v1-x-"), id)
	assert.NotContains(t, id, eventid.Separator)
	assert.NotEqual(t, id, NewRunID("agent.v1_event_x"))
	assert.Len(t, NewRunID(""), 36)
}
