// Package pulse carries run events across processes on goa.design/pulse
// streams backed by Redis. Each run publishes to its own stream; every live
// listener reads it through a dedicated consumer group.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/runstream/features/stream/pulse/clients/pulse"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes the events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// stream.StreamID of the event run.
		StreamID func(*runlog.Event) (string, error)
	}

	// Sink publishes run events to Pulse streams. It is safe for concurrent
	// use.
	Sink struct {
		client   pulse.Client
		streamID func(*runlog.Event) (string, error)
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink returns a Pulse-backed stream sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Send publishes event under its type name. The entry body is the JSON
// encoding of the event, ID and sequence included.
func (s *Sink) Send(ctx context.Context, event *runlog.Event) error {
	if event == nil {
		return errors.New("event is required")
	}
	id, err := s.streamID(event)
	if err != nil {
		return err
	}
	h, err := s.client.Stream(id)
	if err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if _, err := h.Add(ctx, string(event.Type), body); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event *runlog.Event) (string, error) {
	if event.RunID == "" {
		return "", errors.New("stream event missing run id")
	}
	return stream.StreamID(event.RunID), nil
}

func decodeEvent(body []byte) (*runlog.Event, error) {
	var e runlog.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	if e.RunID == "" || e.Seq <= 0 {
		return nil, fmt.Errorf("incomplete event %q", e.ID)
	}
	return &e, nil
}
