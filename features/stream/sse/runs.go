package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"goa.design/runstream/runtime/emitter"
	"goa.design/runstream/runtime/runlog"
)

type (
	// CreateRunRequest is the body of POST /runs.
	CreateRunRequest struct {
		// RunID is generated when empty.
		RunID    string          `json:"run_id,omitempty"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}

	// CreateRunResponse is returned by POST /runs.
	CreateRunResponse struct {
		RunID   string `json:"run_id"`
		EventID string `json:"event_id"`
	}

	// EmitRequest is the body of POST /runs/{run_id}/events.
	EmitRequest struct {
		Type    runlog.EventType `json:"type"`
		Payload json.RawMessage  `json:"payload,omitempty"`
	}

	// EndRequest is the body of POST /runs/{run_id}/end.
	EndRequest struct {
		Status emitter.Status `json:"status,omitempty"`
	}

	// EventPage is returned by GET /runs/{run_id}/events.
	EventPage struct {
		Events []*runlog.Event `json:"events"`
		// NextCursor is passed as the after parameter to read the next page.
		NextCursor string `json:"next_cursor,omitempty"`
		Summary    string `json:"summary"`
		Restarted  bool   `json:"restarted,omitempty"`
	}
)

const maxBodyBytes = 1 << 20

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRunRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = emitter.NewRunID("run")
	} else if err := runlog.ValidateRunID(runID); err != nil {
		writeError(ctx, s.logger, w, badRequest(err))
		return
	}
	var metadata any
	if len(req.Metadata) > 0 {
		metadata = req.Metadata
	}
	// The store only accepts the metadata event as the first event of a run
	// and fails with runlog.ErrRunExists otherwise.
	ev, err := s.emitter.Start(ctx, runID, metadata)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	s.logger.Info(ctx, "run created", "run_id", runID)
	writeJSON(w, http.StatusCreated, CreateRunResponse{RunID: runID, EventID: ev.ID})
}

func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("run_id")
	var req EmitRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	if err := emittable(req.Type); err != nil {
		writeError(ctx, s.logger, w, badRequest(err))
		return
	}
	if err := s.requireRun(ctx, runID); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	ev, err := s.emitter.Emit(ctx, runID, req.Type, payload)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func (s *Server) endRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("run_id")
	var req EndRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	if req.Status == "" {
		req.Status = emitter.StatusCompleted
	}
	if !req.Status.Valid() {
		writeError(ctx, s.logger, w, badRequest(fmt.Errorf("invalid run status %q", req.Status)))
		return
	}
	if err := s.requireRun(ctx, runID); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	ev, err := s.emitter.End(ctx, runID, req.Status)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("run_id")
	q := r.URL.Query()
	limit := s.pageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			writeError(ctx, s.logger, w, badRequest(fmt.Errorf("limit must be between 1 and %d", maxPageSize)))
			return
		}
		limit = n
	}
	if err := s.requireRun(ctx, runID); err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	after := q.Get("after")
	res, err := s.emitter.Resume(ctx, runID, after, limit)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	summary, err := s.emitter.Summary(ctx, runID)
	if err != nil {
		writeError(ctx, s.logger, w, err)
		return
	}
	page := EventPage{
		Events:    res.Events,
		Summary:   summary,
		Restarted: res.Restarted,
	}
	if page.Events == nil {
		page.Events = []*runlog.Event{}
	}
	if n := len(res.Events); n > 0 {
		page.NextCursor = res.Events[n-1].ID
	} else if !res.Restarted {
		page.NextCursor = after
	}
	writeJSON(w, http.StatusOK, page)
}

// requireRun returns errRunNotFound unless the run has at least one event.
func (s *Server) requireRun(ctx context.Context, runID string) error {
	latest, err := s.emitter.LatestSeq(ctx, runID)
	if err != nil {
		return err
	}
	if latest == 0 {
		return fmt.Errorf("%w: %s", errRunNotFound, runID)
	}
	return nil
}

// emittable reports whether clients may emit events of type t directly.
// Metadata opens a run and end closes it through dedicated routes.
func emittable(t runlog.EventType) error {
	switch t {
	case runlog.EventValues, runlog.EventUpdates, runlog.EventMessages, runlog.EventCustom, runlog.EventError:
		return nil
	case "":
		return errors.New("event type is required")
	default:
		return fmt.Errorf("event type %q cannot be emitted", t)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}
