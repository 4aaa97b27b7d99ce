package pulse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	clientspulse "goa.design/runstream/features/stream/pulse/clients/pulse"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/stream"
	"goa.design/runstream/runtime/telemetry"
)

type (
	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkPrefix prefixes the consumer group created for each
		// subscription. Defaults to "runstream".
		SinkPrefix string
		// Buffer is the capacity of subscription channels. Defaults to 64.
		Buffer int
		// Logger reports decode and ack failures.
		Logger telemetry.Logger
	}

	// Subscriber opens one Pulse consumer group per subscription so every
	// listener sees every event of the run.
	Subscriber struct {
		client clientspulse.Client
		prefix string
		buffer int
		logger telemetry.Logger
	}
)

const (
	defaultSinkPrefix = "runstream"
	defaultBuffer     = 64
)

var _ stream.Subscriber = (*Subscriber)(nil)

// NewSubscriber returns a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	prefix := opts.SinkPrefix
	if prefix == "" {
		prefix = defaultSinkPrefix
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Subscriber{client: opts.Client, prefix: prefix, buffer: buffer, logger: logger}, nil
}

// Subscribe opens a consumer group on the stream of runID. The returned
// channel is closed after the terminal event of the run, when ctx is
// canceled, when cancel is called or when the consumer fails.
func (s *Subscriber) Subscribe(ctx context.Context, runID string) (<-chan *runlog.Event, context.CancelFunc, error) {
	if runID == "" {
		return nil, nil, runlog.ErrRunIDRequired
	}
	str, err := s.client.Stream(stream.StreamID(runID))
	if err != nil {
		return nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.sinkName())
	if err != nil {
		return nil, nil, err
	}

	runCtx, stop := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		stop()
		once.Do(func() { sink.Close(context.Background()) })
	}
	out := make(chan *runlog.Event, s.buffer)
	go func() {
		defer cancel()
		defer close(out)
		if err := s.consume(runCtx, runID, sink, out); err != nil {
			s.logger.Warn(runCtx, "pulse subscription ended", "run_id", runID, "err", err)
		}
	}()
	return out, cancel, nil
}

func (s *Subscriber) consume(ctx context.Context, runID string, sink clientspulse.Sink, out chan<- *runlog.Event) error {
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := decodeEvent(msg.Payload)
			if err != nil {
				return fmt.Errorf("pulse decode: %w", err)
			}
			if e.RunID != runID {
				return fmt.Errorf("pulse decode: event %q does not belong to run %q", e.ID, runID)
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
			if err := sink.Ack(ctx, msg); err != nil {
				return fmt.Errorf("pulse ack: %w", err)
			}
			if e.Type.Terminal() {
				return nil
			}
		}
	}
}

// sinkName returns a consumer group name unique to one subscription.
func (s *Subscriber) sinkName() string {
	return s.prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
