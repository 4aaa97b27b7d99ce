// Package sse serves run streams over HTTP server-sent events.
//
// Every frame written for a run event carries the event ID as the SSE id
// field. Browsers send it back in the Last-Event-ID header when they
// reconnect, and the server resumes the stream right after it.
package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goa.design/runstream/runtime/runlog"
)

// Writer frames server-sent events and flushes each one to the client.
type Writer struct {
	w io.Writer
	f http.Flusher
}

var (
	// ErrStreamingUnsupported is returned by NewWriter when the response
	// writer cannot flush.
	ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")
	// ErrInvalidEventID is returned by Event for IDs or types that cannot be
	// written on a single line.
	ErrInvalidEventID = errors.New("event id and type must not contain CR, LF or NUL")
)

// NewWriter returns a Writer on w. w, or a writer it wraps, must implement
// http.Flusher.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := flusher(w)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, f: f}, nil
}

// flusher follows the Unwrap chain of middleware response writers.
func flusher(w http.ResponseWriter) (http.Flusher, bool) {
	for {
		if f, ok := w.(http.Flusher); ok {
			return f, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil, false
		}
		w = u.Unwrap()
	}
}

// Event writes e as one frame: its ID, its type as the event name and its
// payload as data. Nothing is written when the ID or type contains a line
// break or NUL.
func (w *Writer) Event(e *runlog.Event) error {
	if strings.ContainsAny(e.ID, "\r\n\x00") || strings.ContainsAny(string(e.Type), "\r\n\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidEventID, e.ID)
	}
	data := string(e.Payload)
	if data == "" {
		data = "null"
	}
	var b strings.Builder
	writeField(&b, "id", e.ID)
	writeField(&b, "event", string(e.Type))
	for _, line := range splitLines(data) {
		writeField(&b, "data", line)
	}
	b.WriteByte('\n')
	return w.flush(b.String())
}

// Comment writes a comment frame. Clients ignore comments; they keep idle
// connections open through proxies.
func (w *Writer) Comment(text string) error {
	var b strings.Builder
	for _, line := range splitLines(text) {
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return w.flush(b.String())
}

// Retry tells the client how long to wait before reconnecting.
func (w *Writer) Retry(d time.Duration) error {
	var b strings.Builder
	writeField(&b, "retry", strconv.FormatInt(d.Milliseconds(), 10))
	b.WriteByte('\n')
	return w.flush(b.String())
}

func (w *Writer) flush(frame string) error {
	if _, err := io.WriteString(w.w, frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	w.f.Flush()
	return nil
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

// splitLines splits on any SSE line terminator so a value never ends a
// field early.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
