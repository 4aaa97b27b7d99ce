// Package inmem provides an in-process implementation of stream.Stream.
//
// The hub fans events out to the subscribers registered in the same process.
// It is suitable for single-node deployments and tests; use the Pulse stream
// to share events across processes.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/stream"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is
// configured.
const DefaultBuffer = 64

type (
	// Hub implements stream.Stream in memory.
	Hub struct {
		buffer int

		mu     sync.Mutex
		subs   map[string]map[*subscription]struct{}
		closed bool
	}

	subscription struct {
		ch   chan *runlog.Event
		once sync.Once
	}
)

var _ stream.Stream = (*Hub)(nil)

// ErrClosed is returned by Send and Subscribe after Close.
var ErrClosed = errors.New("stream hub is closed")

// New returns a hub whose subscribers buffer up to buffer events. A
// subscriber whose buffer is full when an event is sent is dropped.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// Send delivers event to the current subscribers of its run without
// blocking.
func (h *Hub) Send(_ context.Context, event *runlog.Event) error {
	if event == nil || event.RunID == "" {
		return runlog.ErrRunIDRequired
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.subs[event.RunID] {
		select {
		case sub.ch <- event:
		default:
			h.removeLocked(event.RunID, sub)
		}
	}
	if event.Type.Terminal() {
		for sub := range h.subs[event.RunID] {
			h.removeLocked(event.RunID, sub)
		}
	}
	return nil
}

// Subscribe implements stream.Subscriber.
func (h *Hub) Subscribe(ctx context.Context, runID string) (<-chan *runlog.Event, context.CancelFunc, error) {
	if runID == "" {
		return nil, nil, runlog.ErrRunIDRequired
	}
	sub := &subscription{ch: make(chan *runlog.Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscription]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeLocked(runID, sub)
	}()
	return sub.ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// Close drops all subscriptions. Close is idempotent.
func (h *Hub) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for runID, subs := range h.subs {
		for sub := range subs {
			h.removeLocked(runID, sub)
		}
	}
	return nil
}

func (h *Hub) removeLocked(runID string, sub *subscription) {
	subs := h.subs[runID]
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, runID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
