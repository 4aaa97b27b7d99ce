// Package inmem provides an in-memory implementation of runlog.Store.
//
// The in-memory store is intended for tests and local development. It is not
// durable and should not be used in production.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/runstream/runtime/runlog"
)

type (
	// Store implements runlog.Store in memory.
	Store struct {
		mu sync.RWMutex
		// per-run ordered events; the event at index i has sequence i+1.
		events map[string][]*runlog.Event
	}
)

// New returns a new in-memory run log store.
func New() *Store {
	return &Store{
		events: make(map[string][]*runlog.Event),
	}
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, e *runlog.Event) error {
	if err := runlog.Validate(e); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[e.RunID]
	if n := len(all); n > 0 && all[n-1].Type.Terminal() {
		return runlog.ErrRunClosed
	}
	if e.Type == runlog.EventMetadata && len(all) > 0 {
		return runlog.ErrRunExists
	}
	runlog.Assign(e, int64(len(all))+1)
	ev := *e
	ev.Payload = append([]byte(nil), e.Payload...)
	s.events[e.RunID] = append(all, &ev)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, runID string, afterSeq int64, limit int) ([]*runlog.Event, error) {
	if runID == "" {
		return nil, runlog.ErrRunIDRequired
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[runID]
	start := afterSeq
	if start < 0 {
		start = 0
	}
	if start >= int64(len(all)) {
		return nil, nil
	}
	end := start + int64(limit)
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	out := make([]*runlog.Event, 0, end-start)
	for _, ev := range all[start:end] {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// LatestSeq implements runlog.Store.
func (s *Store) LatestSeq(_ context.Context, runID string) (int64, error) {
	if runID == "" {
		return 0, runlog.ErrRunIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[runID])), nil
}
