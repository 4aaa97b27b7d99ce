// Package mocks provides hand-written mocks of the Pulse client interfaces
// built on goa.design/clue/mock.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/runstream/features/stream/pulse/clients/pulse"
)

type (
	// Client mocks clientspulse.Client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	ClientNameFunc   func() string
	ClientPingFunc   func(ctx context.Context) error
	ClientStreamFunc func(name string) (clientspulse.Stream, error)
	ClientCloseFunc  func(ctx context.Context) error

	// Stream mocks clientspulse.Stream.
	Stream struct {
		m *mock.Mock
		t *testing.T
	}

	StreamAddFunc     func(ctx context.Context, event string, payload []byte) (string, error)
	StreamNewSinkFunc func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error)
	StreamDestroyFunc func(ctx context.Context) error

	// Sink mocks clientspulse.Sink.
	Sink struct {
		m *mock.Mock
		t *testing.T
	}

	SinkSubscribeFunc func() <-chan *streaming.Event
	SinkAckFunc       func(ctx context.Context, event *streaming.Event) error
	SinkCloseFunc     func(ctx context.Context)
)

var (
	_ clientspulse.Client = (*Client)(nil)
	_ clientspulse.Stream = (*Stream)(nil)
	_ clientspulse.Sink   = (*Sink)(nil)
)

// NewClient returns a Client mock failing t on unexpected calls.
func NewClient(t *testing.T) *Client {
	return &Client{m: mock.New(), t: t}
}

func (c *Client) AddName(f ClientNameFunc)     { c.m.Add("Name", f) }
func (c *Client) SetName(f ClientNameFunc)     { c.m.Set("Name", f) }
func (c *Client) AddPing(f ClientPingFunc)     { c.m.Add("Ping", f) }
func (c *Client) SetPing(f ClientPingFunc)     { c.m.Set("Ping", f) }
func (c *Client) AddStream(f ClientStreamFunc) { c.m.Add("Stream", f) }
func (c *Client) SetStream(f ClientStreamFunc) { c.m.Set("Stream", f) }
func (c *Client) AddClose(f ClientCloseFunc)   { c.m.Add("Close", f) }
func (c *Client) SetClose(f ClientCloseFunc)   { c.m.Set("Close", f) }

// HasMore reports whether expected calls remain.
func (c *Client) HasMore() bool { return c.m.HasMore() }

func (c *Client) Name() string {
	if f := c.m.Next("Name"); f != nil {
		return f.(ClientNameFunc)()
	}
	c.t.Helper()
	c.t.Error("unexpected Name call")
	return ""
}

func (c *Client) Ping(ctx context.Context) error {
	if f := c.m.Next("Ping"); f != nil {
		return f.(ClientPingFunc)(ctx)
	}
	c.t.Helper()
	c.t.Error("unexpected Ping call")
	return nil
}

func (c *Client) Stream(name string) (clientspulse.Stream, error) {
	if f := c.m.Next("Stream"); f != nil {
		return f.(ClientStreamFunc)(name)
	}
	c.t.Helper()
	c.t.Error("unexpected Stream call")
	return nil, nil
}

func (c *Client) Close(ctx context.Context) error {
	if f := c.m.Next("Close"); f != nil {
		return f.(ClientCloseFunc)(ctx)
	}
	c.t.Helper()
	c.t.Error("unexpected Close call")
	return nil
}

// NewStream returns a Stream mock failing t on unexpected calls.
func NewStream(t *testing.T) *Stream {
	return &Stream{m: mock.New(), t: t}
}

func (s *Stream) AddAdd(f StreamAddFunc)         { s.m.Add("Add", f) }
func (s *Stream) SetAdd(f StreamAddFunc)         { s.m.Set("Add", f) }
func (s *Stream) AddNewSink(f StreamNewSinkFunc) { s.m.Add("NewSink", f) }
func (s *Stream) SetNewSink(f StreamNewSinkFunc) { s.m.Set("NewSink", f) }
func (s *Stream) AddDestroy(f StreamDestroyFunc) { s.m.Add("Destroy", f) }
func (s *Stream) SetDestroy(f StreamDestroyFunc) { s.m.Set("Destroy", f) }

// HasMore reports whether expected calls remain.
func (s *Stream) HasMore() bool { return s.m.HasMore() }

func (s *Stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if f := s.m.Next("Add"); f != nil {
		return f.(StreamAddFunc)(ctx, event, payload)
	}
	s.t.Helper()
	s.t.Error("unexpected Add call")
	return "", nil
}

func (s *Stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if f := s.m.Next("NewSink"); f != nil {
		return f.(StreamNewSinkFunc)(ctx, name, opts...)
	}
	s.t.Helper()
	s.t.Error("unexpected NewSink call")
	return nil, nil
}

func (s *Stream) Destroy(ctx context.Context) error {
	if f := s.m.Next("Destroy"); f != nil {
		return f.(StreamDestroyFunc)(ctx)
	}
	s.t.Helper()
	s.t.Error("unexpected Destroy call")
	return nil
}

// NewSink returns a Sink mock failing t on unexpected calls.
func NewSink(t *testing.T) *Sink {
	return &Sink{m: mock.New(), t: t}
}

func (s *Sink) AddSubscribe(f SinkSubscribeFunc) { s.m.Add("Subscribe", f) }
func (s *Sink) SetSubscribe(f SinkSubscribeFunc) { s.m.Set("Subscribe", f) }
func (s *Sink) AddAck(f SinkAckFunc)             { s.m.Add("Ack", f) }
func (s *Sink) SetAck(f SinkAckFunc)             { s.m.Set("Ack", f) }
func (s *Sink) AddClose(f SinkCloseFunc)         { s.m.Add("Close", f) }
func (s *Sink) SetClose(f SinkCloseFunc)         { s.m.Set("Close", f) }

// HasMore reports whether expected calls remain.
func (s *Sink) HasMore() bool { return s.m.HasMore() }

func (s *Sink) Subscribe() <-chan *streaming.Event {
	if f := s.m.Next("Subscribe"); f != nil {
		return f.(SinkSubscribeFunc)()
	}
	s.t.Helper()
	s.t.Error("unexpected Subscribe call")
	return nil
}

func (s *Sink) Ack(ctx context.Context, event *streaming.Event) error {
	if f := s.m.Next("Ack"); f != nil {
		return f.(SinkAckFunc)(ctx, event)
	}
	s.t.Helper()
	s.t.Error("unexpected Ack call")
	return nil
}

func (s *Sink) Close(ctx context.Context) {
	if f := s.m.Next("Close"); f != nil {
		f.(SinkCloseFunc)(ctx)
		return
	}
	s.t.Helper()
	s.t.Error("unexpected Close call")
}
