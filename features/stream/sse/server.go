package sse

import (
	"errors"
	"net/http"
	"time"

	"goa.design/clue/health"

	"goa.design/runstream/runtime/emitter"
	"goa.design/runstream/runtime/stream"
	"goa.design/runstream/runtime/telemetry"
)

type (
	// Options configures a Server.
	Options struct {
		// Emitter appends and lists run events. Required.
		Emitter *emitter.Emitter
		// Subscriber tails live events. When nil, streams poll the run log
		// every PollInterval.
		Subscriber stream.Subscriber
		// Heartbeat is the interval between keep-alive comments. Defaults to
		// 15s.
		Heartbeat time.Duration
		// PollInterval is the run log polling interval used without a
		// subscriber or after a subscription is dropped. Defaults to 1s.
		PollInterval time.Duration
		// Retry is the reconnection delay advertised to clients. Zero omits
		// the hint.
		Retry time.Duration
		// ReplayRate caps replayed events per second on one connection. Zero
		// disables the limit.
		ReplayRate float64
		// ReplayBurst is the replay limiter burst. Defaults to 32.
		ReplayBurst int
		// PageSize is the number of events read from the run log at once.
		// Defaults to 100.
		PageSize int
		// Pingers are checked by /healthz.
		Pingers []health.Pinger
		// Info is returned by /info.
		Info Info
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer
	}

	// Info describes the service.
	Info struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}

	// Server exposes run creation, event emission, paging and SSE streaming
	// over HTTP.
	Server struct {
		emitter    *emitter.Emitter
		subscriber stream.Subscriber
		heartbeat  time.Duration
		poll       time.Duration
		retry      time.Duration
		rate       float64
		burst      int
		pageSize   int
		health     health.Checker
		info       Info
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
	}
)

const (
	defaultHeartbeat   = 15 * time.Second
	defaultPoll        = time.Second
	defaultReplayBurst = 32
	defaultPageSize    = 100
	maxPageSize        = 1000
)

// New returns a Server.
func New(opts Options) (*Server, error) {
	if opts.Emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if opts.ReplayRate < 0 {
		return nil, errors.New("replay rate must be >= 0")
	}
	s := &Server{
		emitter:    opts.Emitter,
		subscriber: opts.Subscriber,
		heartbeat:  opts.Heartbeat,
		poll:       opts.PollInterval,
		retry:      opts.Retry,
		rate:       opts.ReplayRate,
		burst:      opts.ReplayBurst,
		pageSize:   opts.PageSize,
		health:     health.NewChecker(opts.Pingers...),
		info:       opts.Info,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeat
	}
	if s.poll <= 0 {
		s.poll = defaultPoll
	}
	if s.burst <= 0 {
		s.burst = defaultReplayBurst
	}
	if s.pageSize <= 0 || s.pageSize > maxPageSize {
		s.pageSize = defaultPageSize
	}
	if s.info.Name == "" {
		s.info.Name = "runstream"
	}
	if s.info.Status == "" {
		s.info.Status = "running"
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewNoopMetrics()
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewNoopTracer()
	}
	return s, nil
}

// Mount registers the server routes on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", s.createRun)
	mux.HandleFunc("POST /runs/{run_id}/events", s.emitEvent)
	mux.HandleFunc("POST /runs/{run_id}/end", s.endRun)
	mux.HandleFunc("GET /runs/{run_id}/events", s.listEvents)
	mux.HandleFunc("GET /runs/{run_id}/stream", s.streamRun)
	mux.HandleFunc("GET /info", s.serveInfo)
	mux.Handle("GET /healthz", health.Handler(s.health))
}

// Handler returns a handler serving the server routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Mount(mux)
	return mux
}

func (s *Server) serveInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}
