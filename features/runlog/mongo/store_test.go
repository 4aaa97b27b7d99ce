package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runstream/runtime/runlog"
)

type stubClient struct {
	appended  []*runlog.Event
	lastAfter int64
	latest    int64
	pingErr   error
}

func (c *stubClient) Name() string { return "stub" }

func (c *stubClient) Ping(context.Context) error { return c.pingErr }

func (c *stubClient) Append(_ context.Context, e *runlog.Event) error {
	c.appended = append(c.appended, e)
	return nil
}

func (c *stubClient) List(_ context.Context, _ string, afterSeq int64, _ int) ([]*runlog.Event, error) {
	c.lastAfter = afterSeq
	return nil, nil
}

func (c *stubClient) LatestSeq(context.Context, string) (int64, error) {
	return c.latest, nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestStoreDelegates(t *testing.T) {
	t.Parallel()

	c := &stubClient{latest: 7, pingErr: errors.New("down")}
	s, err := NewStore(c)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &runlog.Event{RunID: "r", Type: runlog.EventValues}))
	assert.Len(t, c.appended, 1)

	_, err = s.List(ctx, "r", -3, 10)
	require.NoError(t, err)
	assert.Zero(t, c.lastAfter)

	latest, err := s.LatestSeq(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest)

	assert.Equal(t, "stub", s.Name())
	assert.EqualError(t, s.Ping(ctx), "down")
}
