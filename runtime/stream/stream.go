// Package stream delivers run events to live listeners.
//
// The run log (see package runlog) is the canonical, replayable record of a
// run. A stream carries the same events to listeners that are connected while
// the run executes, possibly in other processes. Transports such as SSE
// combine both: they replay from the run log after the client's cursor, then
// tail the stream, dropping events whose sequence they already delivered.
//
// Streams are best effort: a listener that cannot keep up may be dropped and
// is expected to reconnect and resume from the run log.
package stream

import (
	"context"

	"goa.design/runstream/runtime/runlog"
)

type (
	// Sink publishes events appended to the run log to live listeners.
	// Implementations must be safe for concurrent use.
	Sink interface {
		// Send publishes the event. The event ID and sequence have already
		// been assigned by the run log.
		Send(ctx context.Context, event *runlog.Event) error
		// Close releases resources owned by the sink. Close is idempotent.
		Close(ctx context.Context) error
	}

	// Subscriber opens live subscriptions to the events of a run.
	Subscriber interface {
		// Subscribe returns a channel receiving the events of runID published
		// after the call. The channel is closed when ctx is canceled, when the
		// returned cancel function is called, or when the subscription is
		// dropped by the implementation.
		Subscribe(ctx context.Context, runID string) (<-chan *runlog.Event, context.CancelFunc, error)
	}

	// Stream is implemented by transports that both publish and subscribe.
	Stream interface {
		Sink
		Subscriber
	}
)

// StreamID returns the name of the per-run stream used by broker-backed
// implementations.
func StreamID(runID string) string {
	return "run/" + runID
}
