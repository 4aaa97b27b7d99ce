package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"goa.design/runstream/runtime/emitter"
	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/telemetry"
)

type (
	// ErrorBody is the JSON body of error responses.
	ErrorBody struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}

	statusError struct {
		status int
		err    error
	}
)

var errRunNotFound = errors.New("run not found")

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &statusError{status: http.StatusBadRequest, err: err}
}

// statusOf maps err to an HTTP status.
func statusOf(err error) int {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, errRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, runlog.ErrRunExists), errors.Is(err, runlog.ErrRunClosed):
		return http.StatusConflict
	case errors.Is(err, emitter.ErrInvalidPayload),
		errors.Is(err, runlog.ErrRunIDRequired),
		errors.Is(err, runlog.ErrInvalidRunID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorName(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

func writeError(ctx context.Context, logger telemetry.Logger, w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorBody{Name: errorName(status), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
