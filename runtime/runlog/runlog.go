// Package runlog provides a durable, append-only event log for runs.
//
// The runlog is the canonical source of truth for everything pushed on a run
// stream. Emitters append events as a run executes; the store assigns each
// event the next sequence number of its run and the matching event ID. Stream
// transports list events after a sequence to replay them to reconnecting
// clients.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"goa.design/runstream/runtime/eventid"
)

type (
	// Event is a single immutable run event appended to the run log.
	Event struct {
		// ID is the event token, always eventid.Encode(RunID, Seq).
		ID string `json:"id"`
		// RunID is the identifier of the run this event belongs to.
		RunID string `json:"run_id"`
		// Seq is the store-assigned sequence number. Sequences start at 1 and
		// increase by one per appended event within a run.
		Seq int64 `json:"seq"`
		// Type is the event type (see the Event* constants).
		Type EventType `json:"type"`
		// Payload is the JSON-encoded payload for the event.
		Payload json.RawMessage `json:"payload,omitempty"`
		// Timestamp is the event time.
		Timestamp time.Time `json:"timestamp"`
	}

	// EventType enumerates run event kinds.
	EventType string

	// Store is an append-only event store for runs.
	//
	// Implementations must be safe for concurrent use and provide gapless,
	// strictly increasing sequences per run.
	Store interface {
		// Append assigns the next sequence of e.RunID to e, sets e.Seq and e.ID
		// and persists the event. Allocating the sequence and persisting the
		// event happen atomically: a failed Append consumes no sequence and an
		// event with sequence n is never visible before the event with n-1.
		// Append returns ErrRunClosed when the run already recorded an
		// EventEnd event and ErrRunExists when e is an EventMetadata event and
		// the run already has events.
		Append(ctx context.Context, e *Event) error

		// List returns at most limit events of the run with a sequence greater
		// than afterSeq, oldest first. Limit must be greater than zero.
		List(ctx context.Context, runID string, afterSeq int64, limit int) ([]*Event, error)

		// LatestSeq returns the sequence of the last event appended to the run
		// or 0 if the run has no events.
		LatestSeq(ctx context.Context, runID string) (int64, error)
	}
)

const (
	// EventMetadata is the first event of a run. Stores only accept it as
	// the event with sequence 1.
	EventMetadata EventType = "metadata"
	// EventValues carries a full snapshot of the run state.
	EventValues EventType = "values"
	// EventUpdates carries a partial state update.
	EventUpdates EventType = "updates"
	// EventMessages carries incremental message content.
	EventMessages EventType = "messages"
	// EventCustom carries application specific data.
	EventCustom EventType = "custom"
	// EventError reports a run failure.
	EventError EventType = "error"
	// EventEnd is the terminal event of a run.
	EventEnd EventType = "end"
)

var (
	// ErrRunClosed is returned when appending to a run that has ended.
	ErrRunClosed = errors.New("run is closed")
	// ErrRunExists is returned when appending an EventMetadata event to a
	// run that already has events.
	ErrRunExists = errors.New("run already exists")
	// ErrRunIDRequired is returned when an event or query has no run ID.
	ErrRunIDRequired = errors.New("run id is required")
	// ErrInvalidRunID is returned for run IDs containing line breaks or NUL.
	// Event IDs are written on a single SSE line and such IDs would end it.
	ErrInvalidRunID = errors.New("run id must not contain CR, LF or NUL")
)

// Terminal reports whether no event may follow an event of type t.
func (t EventType) Terminal() bool {
	return t == EventEnd
}

// Validate checks the fields callers must set before appending e.
func Validate(e *Event) error {
	if e == nil {
		return errors.New("event is required")
	}
	if err := ValidateRunID(e.RunID); err != nil {
		return err
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	return nil
}

// ValidateRunID checks that runID is usable in an event ID.
func ValidateRunID(runID string) error {
	if runID == "" {
		return ErrRunIDRequired
	}
	if strings.ContainsAny(runID, "\r\n\x00") {
		return ErrInvalidRunID
	}
	return nil
}

// Assign sets the sequence and event ID of e.
func Assign(e *Event, seq int64) {
	e.Seq = seq
	e.ID = eventid.Encode(e.RunID, seq)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
