package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/runstream/runtime/runlog"
)

func event(runID string, seq int64, typ runlog.EventType) *runlog.Event {
	e := &runlog.Event{RunID: runID, Type: typ}
	runlog.Assign(e, seq)
	return e
}

func TestHubFansOutPerRun(t *testing.T) {
	t.Parallel()

	h := New(4)
	ctx := context.Background()

	a1, cancelA1, err := h.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancelA1()
	a2, cancelA2, err := h.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancelA2()
	b, cancelB, err := h.Subscribe(ctx, "b")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, h.Send(ctx, event("a", 1, runlog.EventValues)))

	require.Equal(t, "a_event_1", (<-a1).ID)
	require.Equal(t, "a_event_1", (<-a2).ID)
	select {
	case ev := <-b:
		t.Fatalf("unexpected event on run b: %v", ev)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	h := New(1)
	ctx := context.Background()
	ch, cancel, err := h.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, h.Send(ctx, event("r", 1, runlog.EventValues)))
	require.NoError(t, h.Send(ctx, event("r", 2, runlog.EventValues)))

	first, ok := <-ch
	require.True(t, ok)
	require.Equal(t, int64(1), first.Seq)
	_, ok = <-ch
	require.False(t, ok, "slow subscriber must be dropped")
	require.Zero(t, h.Subscribers("r"))
}

func TestHubClosesSubscriptionsOnEnd(t *testing.T) {
	t.Parallel()

	h := New(4)
	ctx := context.Background()
	ch, cancel, err := h.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, h.Send(ctx, event("r", 1, runlog.EventEnd)))
	ev, ok := <-ch
	require.True(t, ok)
	require.Equal(t, runlog.EventEnd, ev.Type)
	_, ok = <-ch
	require.False(t, ok)
}

func TestHubCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	h := New(4)
	ch, cancel, err := h.Subscribe(context.Background(), "r")
	require.NoError(t, err)
	require.Equal(t, 1, h.Subscribers("r"))

	cancel()
	require.Eventually(t, func() bool { return h.Subscribers("r") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	h := New(4)
	ctx := context.Background()
	ch, cancel, err := h.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))
	_, ok := <-ch
	require.False(t, ok)
	require.ErrorIs(t, h.Send(ctx, event("r", 1, runlog.EventValues)), ErrClosed)
	_, _, err = h.Subscribe(ctx, "r")
	require.ErrorIs(t, err, ErrClosed)
}
