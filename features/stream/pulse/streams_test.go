package pulse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	clientspulse "goa.design/runstream/features/stream/pulse/clients/pulse"
	mockpulse "goa.design/runstream/features/stream/pulse/clients/pulse/mocks"
	"goa.design/runstream/runtime/runlog"
)

func TestStreamsShareClient(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)
	cli.AddStream(func(name string) (clientspulse.Stream, error) {
		require.Equal(t, "run/r", name)
		return str, nil
	})
	str.AddAdd(func(context.Context, string, []byte) (string, error) { return "1-0", nil })
	cli.AddClose(func(context.Context) error { return nil })

	s, err := NewStreams(StreamsOptions{Client: cli})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), testEvent("r", 1, runlog.EventValues)))
	require.NoError(t, s.Close(context.Background()))
	require.False(t, cli.HasMore())

	_, err = NewStreams(StreamsOptions{})
	require.Error(t, err)
}
