package emitter

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"goa.design/runstream/runtime/eventid"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/telemetry"
)

type (
	// Resumption is the outcome of resuming a run stream from a cursor.
	Resumption struct {
		// AfterSeq is the sequence replay starts after.
		AfterSeq int64
		// Events are the buffered events following AfterSeq, oldest first.
		Events []*runlog.Event
		// Restarted is true when the cursor could not be used and replay
		// restarts from the beginning of the run.
		Restarted bool
		// Outcome classifies the cursor.
		Outcome ResumeOutcome
	}

	// ResumeOutcome classifies a resumption cursor.
	ResumeOutcome string
)

const (
	// ResumeFresh means no cursor was supplied.
	ResumeFresh ResumeOutcome = "fresh"
	// ResumeValid means the cursor is a well-formed event ID of the run.
	ResumeValid ResumeOutcome = "valid"
	// ResumeMalformed means the cursor is not a well-formed event ID.
	ResumeMalformed ResumeOutcome = "malformed"
	// ResumeForeignRun means the cursor is an event ID of another run.
	ResumeForeignRun ResumeOutcome = "foreign_run"
)

// ResumePoint returns the sequence after which a stream of runID resumes
// given the client's last event ID. Malformed cursors and cursors of other
// runs restart the stream from the beginning (sequence 0).
func ResumePoint(runID, lastEventID string) (int64, ResumeOutcome) {
	if lastEventID == "" {
		return 0, ResumeFresh
	}
	tok, err := eventid.Parse(lastEventID)
	if err != nil {
		return 0, ResumeMalformed
	}
	if tok.RunID != runID {
		return 0, ResumeForeignRun
	}
	if tok.Seq < 0 {
		return 0, ResumeValid
	}
	return tok.Seq, ResumeValid
}

// Resume returns at most limit buffered events of runID following the event
// identified by lastEventID.
func (e *Emitter) Resume(ctx context.Context, runID, lastEventID string, limit int) (Resumption, error) {
	ctx, span := e.tracer.Start(ctx, "runstream.resume")
	defer span.End()

	after, outcome := ResumePoint(runID, lastEventID)
	e.metrics.IncCounter(telemetry.MetricResumeTotal, 1, "outcome", string(outcome))
	restarted := outcome == ResumeMalformed || outcome == ResumeForeignRun
	if restarted {
		e.logger.Warn(ctx, "unusable resumption cursor, replaying run from the start",
			"run_id", runID, "last_event_id", lastEventID, "outcome", string(outcome))
	}

	events, err := e.store.List(ctx, runID, after, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Resumption{}, err
	}
	span.AddEvent("resumed", "run_id", runID, "after_seq", after, "outcome", string(outcome), "events", len(events))
	return Resumption{
		AfterSeq:  after,
		Events:    events,
		Restarted: restarted,
		Outcome:   outcome,
	}, nil
}
