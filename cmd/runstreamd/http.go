package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/log"

	"goa.design/runstream/features/stream/sse"
)

func handleHTTPServer(ctx context.Context, addr string, h http.Handler, wg *sync.WaitGroup, errc chan error, dbg bool) {
	mux := http.NewServeMux()
	if dbg {
		// Mount pprof handlers for memory profiling under /debug/pprof.
		debug.MountPprofHandlers(mux)
		// Mount /debug endpoint to enable or disable debug logs at runtime.
		debug.MountDebugLogEnabler(mux)
	}
	mux.Handle("/", h)

	var handler http.Handler = mux
	if dbg {
		// Log request and response bodies, except for event streams which
		// never complete.
		handler = skipStreams(debug.HTTP()(handler), handler)
	}
	handler = log.HTTP(ctx)(handler)

	// Requests derive from a context canceled when shutdown starts so open
	// event streams end instead of holding the server.
	base, stopRequests := context.WithCancelCause(context.WithoutCancel(ctx))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(func() { stopRequests(sse.ErrServerShutdown) })

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

// skipStreams routes SSE requests to plain and everything else to wrapped.
func skipStreams(wrapped, plain http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/stream") {
			plain.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
