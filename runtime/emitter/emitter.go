// Package emitter assigns run events their place in the run stream.
//
// The Emitter is the single writer of run events: it validates payloads,
// appends events to the run log (which assigns the per-run sequence number and
// event ID), and forwards the stored events to the live stream. It also
// implements the resumption protocol used by stream transports: a client's
// Last-Event-ID is decoded back into a sequence number and replay starts right
// after it.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/runstream/runtime/eventid"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/stream"
	"goa.design/runstream/runtime/telemetry"
)

type (
	// Options configures an Emitter.
	Options struct {
		// Store is the run log events are appended to. Required.
		Store runlog.Store
		// Sink receives events after they are stored. Optional.
		Sink stream.Sink
		// Validator checks event payloads before they are stored. Optional.
		Validator Validator
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer
		// Now returns the event timestamp. Defaults to time.Now.
		Now func() time.Time
	}

	// Emitter appends run events and publishes them. Safe for concurrent use.
	Emitter struct {
		store     runlog.Store
		sink      stream.Sink
		validator Validator
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		now       func() time.Time
	}

	// Status is the final status of a run recorded by its end event.
	Status string

	// EndPayload is the payload of the terminal event of a run.
	EndPayload struct {
		Status Status `json:"status"`
	}

	// ErrorPayload is the payload of an error event.
	ErrorPayload struct {
		Message string `json:"message"`
	}
)

const (
	// StatusCompleted marks a run that finished normally.
	StatusCompleted Status = "completed"
	// StatusFailed marks a run that ended with an error.
	StatusFailed Status = "failed"
	// StatusCancelled marks a run stopped by a client or operator.
	StatusCancelled Status = "cancelled"
)

// ErrInvalidPayload is wrapped by errors reporting payloads rejected by the
// validator or that are not valid JSON.
var ErrInvalidPayload = errors.New("invalid event payload")

// New returns an Emitter.
func New(opts Options) (*Emitter, error) {
	if opts.Store == nil {
		return nil, errors.New("run log store is required")
	}
	e := &Emitter{
		store:     opts.Store,
		sink:      opts.Sink,
		validator: opts.Validator,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// NewRunID returns a globally unique run identifier prefixed with prefix.
// Dots and the event ID separator are removed from the prefix so generated
// identifiers never contain the separator.
func NewRunID(prefix string) string {
	prefix = strings.ReplaceAll(prefix, eventid.Separator, "-")
	prefix = strings.ReplaceAll(prefix, ".", "-")
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Valid reports whether s is a known terminal status.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Start emits the metadata event that opens a run. It fails with
// runlog.ErrRunExists when the run already has events.
func (e *Emitter) Start(ctx context.Context, runID string, metadata any) (*runlog.Event, error) {
	if metadata == nil {
		metadata = map[string]string{"run_id": runID}
	}
	return e.Emit(ctx, runID, runlog.EventMetadata, metadata)
}

// Emit appends an event of type typ to the run log and forwards it to the
// sink. payload is marshaled to JSON unless it already is a json.RawMessage
// or []byte. The returned event carries the assigned sequence and event ID.
//
// Sink failures are logged and do not fail Emit: the run log is canonical
// and listeners recover missed events by resuming.
func (e *Emitter) Emit(ctx context.Context, runID string, typ runlog.EventType, payload any) (*runlog.Event, error) {
	ctx, span := e.tracer.Start(ctx, "runstream.emit")
	defer span.End()
	start := e.now()

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, e.fail(span, string(typ), err)
	}
	if e.validator != nil && raw != nil {
		if err := e.validator.Validate(typ, raw); err != nil {
			return nil, e.fail(span, string(typ), fmt.Errorf("%w: %w", ErrInvalidPayload, err))
		}
	}
	ev := &runlog.Event{
		RunID:     runID,
		Type:      typ,
		Payload:   raw,
		Timestamp: e.now().UTC(),
	}
	if err := e.store.Append(ctx, ev); err != nil {
		return nil, e.fail(span, string(typ), fmt.Errorf("append %s event to run %q: %w", typ, runID, err))
	}
	span.AddEvent("appended", "run_id", runID, "seq", ev.Seq, "type", string(typ))
	e.logger.Debug(ctx, "event emitted", "run_id", runID, "event_id", ev.ID, "type", string(typ))

	if e.sink != nil {
		if err := e.sink.Send(ctx, ev); err != nil {
			e.logger.Warn(ctx, "live stream publish failed", "run_id", runID, "event_id", ev.ID, "err", err)
			e.metrics.IncCounter(telemetry.MetricEmitErrors, 1, "stage", "sink")
		}
	}
	e.metrics.IncCounter(telemetry.MetricEventsEmitted, 1, "type", string(typ))
	e.metrics.RecordTimer(telemetry.MetricEmitDuration, e.now().Sub(start), "type", string(typ))
	span.SetStatus(codes.Ok, "")
	return ev, nil
}

// End emits the terminal event of a run. No event can be appended to the run
// afterwards.
func (e *Emitter) End(ctx context.Context, runID string, status Status) (*runlog.Event, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid run status %q", status)
	}
	ev, err := e.Emit(ctx, runID, runlog.EventEnd, EndPayload{Status: status})
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "run ended", "run_id", runID, "status", string(status), "events", ev.Seq)
	return ev, nil
}

// Fail emits an error event describing cause followed by the terminal event
// with StatusFailed.
func (e *Emitter) Fail(ctx context.Context, runID string, cause error) (*runlog.Event, error) {
	msg := "run failed"
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := e.Emit(ctx, runID, runlog.EventError, ErrorPayload{Message: msg}); err != nil {
		return nil, err
	}
	return e.End(ctx, runID, StatusFailed)
}

// List returns at most limit events of the run following afterSeq.
func (e *Emitter) List(ctx context.Context, runID string, afterSeq int64, limit int) ([]*runlog.Event, error) {
	return e.store.List(ctx, runID, afterSeq, limit)
}

// LatestSeq returns the sequence of the last event of the run or 0 if the
// run has no events.
func (e *Emitter) LatestSeq(ctx context.Context, runID string) (int64, error) {
	return e.store.LatestSeq(ctx, runID)
}

// Summary describes how many events the run emitted so far.
func (e *Emitter) Summary(ctx context.Context, runID string) (string, error) {
	n, err := e.store.LatestSeq(ctx, runID)
	if err != nil {
		return "", err
	}
	return eventid.FormatSummary(runID, n), nil
}

func (e *Emitter) fail(span telemetry.Span, typ string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.IncCounter(telemetry.MetricEmitErrors, 1, "type", typ)
	return err
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		return marshalPayload(json.RawMessage(p))
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return b, nil
	}
}
