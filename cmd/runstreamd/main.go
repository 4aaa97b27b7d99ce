// Command runstreamd serves resumable run event streams over HTTP.
//
// Producers create runs and append events with POST requests; consumers read
// pages of events or subscribe to a server-sent event stream. Every event
// carries an ID of the form <run_id>_event_<seq>; a consumer reconnecting
// with that ID in Last-Event-ID resumes right after the event.
//
// # Configuration
//
// An optional YAML file (-config) is read first, then the environment:
//
//	RUNSTREAM_HTTP_ADDR    - HTTP listen address (default: ":8080")
//	RUNSTREAM_STORE        - run log backend: memory, redis or mongo (default: "memory")
//	REDIS_URL              - Redis address (default: "localhost:6379")
//	REDIS_PASSWORD         - Redis password (optional)
//	MONGO_URI              - MongoDB URI (default: "mongodb://localhost:27017")
//	MONGO_DATABASE         - MongoDB database (default: "runstream")
//	RUNSTREAM_PULSE        - share live events across nodes through Pulse (default: false)
//	RUNSTREAM_HEARTBEAT    - SSE heartbeat interval (default: "15s")
//	RUNSTREAM_REPLAY_RATE  - replayed events per second per connection, 0 for no limit
//	RUNSTREAM_DEBUG        - enable debug logs (default: false)
//
// # Example
//
//	RUNSTREAM_STORE=redis RUNSTREAM_PULSE=true REDIS_URL=localhost:6379 go run ./cmd/runstreamd
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to the YAML configuration file")
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides configuration)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *httpAddrF != "" {
		cfg.HTTPAddr = *httpAddrF
	}
	if *dbgF {
		cfg.Debug = true
	}
	if err := cfg.validate(); err != nil {
		log.Fatal(ctx, err)
	}
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTPAddr}, log.KV{K: "store", V: cfg.Store}, log.KV{K: "pulse", V: cfg.Stream.Pulse})

	svc, err := newService(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, cfg.HTTPAddr, svc.handler, &wg, errc, cfg.Debug)

	log.Printf(ctx, "exiting (%v)", <-errc)

	cancel()
	wg.Wait()
	svc.close(context.Background())
	log.Printf(ctx, "exited")
}
