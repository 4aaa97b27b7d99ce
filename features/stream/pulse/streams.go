package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/runstream/features/stream/pulse/clients/pulse"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/stream"
)

type (
	// Streams publishes and subscribes through one Pulse client.
	Streams struct {
		sink *Sink
		sub  *Subscriber
	}

	// StreamsOptions configures NewStreams.
	StreamsOptions struct {
		// Client is shared by the sink and the subscriber. Required.
		Client clientspulse.Client
		// Sink holds optional sink overrides; its Client is ignored.
		Sink Options
		// Subscriber holds optional subscriber overrides; its Client is
		// ignored.
		Subscriber SubscriberOptions
	}
)

var _ stream.Stream = (*Streams)(nil)

// NewStreams returns a stream.Stream backed by Pulse.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	subOpts := opts.Subscriber
	subOpts.Client = opts.Client
	sub, err := NewSubscriber(subOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, sub: sub}, nil
}

// Send implements stream.Sink.
func (s *Streams) Send(ctx context.Context, event *runlog.Event) error {
	return s.sink.Send(ctx, event)
}

// Subscribe implements stream.Subscriber.
func (s *Streams) Subscribe(ctx context.Context, runID string) (<-chan *runlog.Event, context.CancelFunc, error) {
	return s.sub.Subscribe(ctx, runID)
}

// Close closes the publishing sink. Cancel subscriptions first.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
