package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"goa.design/runstream/runtime/emitter"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/telemetry"
)

// session tracks one SSE connection. lastSeq is the sequence of the last
// event written; events at or below it are never written again.
type session struct {
	srv     *Server
	w       *Writer
	runID   string
	lastSeq int64
	limiter *rate.Limiter
}

const lastEventIDHeader = "Last-Event-ID"

// ErrServerShutdown is the cancellation cause servers set on request
// contexts when shutting down. Streams ending with this cause do not apply
// on_disconnect=cancel.
var ErrServerShutdown = errors.New("server shutting down")

func (s *Server) streamRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("run_id")
	q := r.URL.Query()
	cursor := r.Header.Get(lastEventIDHeader)
	if cursor == "" {
		cursor = q.Get("last_event_id")
	}
	var cancelOnDisconnect bool
	switch q.Get("on_disconnect") {
	case "", "continue":
	case "cancel":
		cancelOnDisconnect = true
	default:
		writeError(ctx, s.logger, w, badRequest(errors.New(`on_disconnect must be "cancel" or "continue"`)))
		return
	}
	if err := s.requireRun(ctx, runID); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	sw, err := NewWriter(w)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}

	ctx, span := s.tracer.Start(ctx, "runstream.sse.stream")
	defer span.End()
	s.metrics.IncCounter(telemetry.MetricSSEConnections, 1)

	// Subscribe before replaying so no event falls between the two.
	var live <-chan *runlog.Event
	if s.subscriber != nil {
		ch, cancel, err := s.subscriber.Subscribe(ctx, runID)
		if err != nil {
			s.logger.Warn(ctx, "live subscription failed, polling run log", "run_id", runID, "err", err)
		} else {
			defer cancel()
			live = ch
		}
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	limit := rate.Inf
	if s.rate > 0 {
		limit = rate.Limit(s.rate)
	}
	st := &session{
		srv:     s,
		w:       sw,
		runID:   runID,
		limiter: rate.NewLimiter(limit, s.burst),
	}
	ended, err := st.serve(ctx, cursor, live)
	switch {
	case ended:
		s.logger.Debug(ctx, "run stream completed", "run_id", runID, "last_seq", st.lastSeq)
	case ctx.Err() != nil:
		s.logger.Debug(ctx, "client disconnected", "run_id", runID, "last_seq", st.lastSeq)
		if cancelOnDisconnect && !errors.Is(context.Cause(ctx), ErrServerShutdown) {
			s.cancelRun(context.WithoutCancel(ctx), runID)
		}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "run stream failed", "run_id", runID, "err", err)
	}
}

func (s *Server) cancelRun(ctx context.Context, runID string) {
	_, err := s.emitter.End(ctx, runID, emitter.StatusCancelled)
	if err != nil && !errors.Is(err, runlog.ErrRunClosed) {
		s.logger.Error(ctx, "cancel run on disconnect", "run_id", runID, "err", err)
		return
	}
	if err == nil {
		s.logger.Info(ctx, "run cancelled on client disconnect", "run_id", runID)
	}
}

// serve replays the run from cursor then tails it. It returns true once the
// terminal event of the run has been written.
func (st *session) serve(ctx context.Context, cursor string, live <-chan *runlog.Event) (bool, error) {
	s := st.srv
	if s.retry > 0 {
		if err := st.w.Retry(s.retry); err != nil {
			return false, err
		}
	}
	res, err := s.emitter.Resume(ctx, st.runID, cursor, s.pageSize)
	if err != nil {
		return false, err
	}
	if res.Restarted {
		if err := st.w.Comment(fmt.Sprintf("cursor %s: replaying run from the start", res.Outcome)); err != nil {
			return false, err
		}
	}
	st.lastSeq = res.AfterSeq
	if st.lastSeq > 0 && len(res.Events) == 0 {
		latest, err := s.emitter.LatestSeq(ctx, st.runID)
		if err != nil {
			return false, err
		}
		if st.lastSeq > latest {
			if err := st.w.Comment("cursor ahead of run log: replaying run from the start"); err != nil {
				return false, err
			}
			st.lastSeq = 0
			return st.finishReplay(ctx, live)
		}
	}
	for _, e := range res.Events {
		if done, err := st.send(ctx, e, true); done || err != nil {
			return done, err
		}
	}
	return st.finishReplay(ctx, live)
}

// finishReplay writes the stored events not replayed yet then tails the run
// unless it already ended.
func (st *session) finishReplay(ctx context.Context, live <-chan *runlog.Event) (bool, error) {
	if done, err := st.catchUp(ctx); done || err != nil {
		return done, err
	}
	if done, err := st.endedAtCursor(ctx); done || err != nil {
		return done, err
	}
	return st.tail(ctx, live)
}

func (st *session) tail(ctx context.Context, live <-chan *runlog.Event) (bool, error) {
	heartbeat := time.NewTicker(st.srv.heartbeat)
	defer heartbeat.Stop()
	var (
		poller *time.Ticker
		poll   <-chan time.Time
	)
	startPolling := func() {
		poller = time.NewTicker(st.srv.poll)
		poll = poller.C
	}
	defer func() {
		if poller != nil {
			poller.Stop()
		}
	}()
	if live == nil {
		startPolling()
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-heartbeat.C:
			if err := st.w.Comment("heartbeat"); err != nil {
				return false, err
			}
		case <-poll:
			if done, err := st.catchUp(ctx); done || err != nil {
				return done, err
			}
		case e, ok := <-live:
			if !ok {
				// Dropped by the stream; the run log still has everything.
				live = nil
				startPolling()
				if done, err := st.catchUp(ctx); done || err != nil {
					return done, err
				}
				continue
			}
			if e.Seq > st.lastSeq+1 {
				if done, err := st.catchUp(ctx); done || err != nil {
					return done, err
				}
			}
			if done, err := st.send(ctx, e, false); done || err != nil {
				return done, err
			}
		}
	}
}

// catchUp writes every stored event following lastSeq.
func (st *session) catchUp(ctx context.Context) (bool, error) {
	for {
		events, err := st.srv.emitter.List(ctx, st.runID, st.lastSeq, st.srv.pageSize)
		if err != nil {
			return false, err
		}
		for _, e := range events {
			if done, err := st.send(ctx, e, true); done || err != nil {
				return done, err
			}
		}
		if len(events) < st.srv.pageSize {
			return false, nil
		}
	}
}

// endedAtCursor reports whether the last delivered event, possibly delivered
// on a previous connection, ended the run.
func (st *session) endedAtCursor(ctx context.Context) (bool, error) {
	if st.lastSeq <= 0 {
		return false, nil
	}
	events, err := st.srv.emitter.List(ctx, st.runID, st.lastSeq-1, 1)
	if err != nil {
		return false, err
	}
	return len(events) == 1 && events[0].Seq == st.lastSeq && events[0].Type.Terminal(), nil
}

// send writes e unless it was already delivered. Replayed events wait on the
// rate limiter.
func (st *session) send(ctx context.Context, e *runlog.Event, replay bool) (bool, error) {
	if e.Seq <= st.lastSeq {
		return false, nil
	}
	if replay {
		if err := st.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	if err := st.w.Event(e); err != nil {
		return false, err
	}
	st.lastSeq = e.Seq
	return e.Type.Terminal(), nil
}
