package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	runlogmongo "goa.design/runstream/features/runlog/mongo"
	clientsmongo "goa.design/runstream/features/runlog/mongo/clients/mongo"
	runlogredis "goa.design/runstream/features/runlog/redis"
	streampulse "goa.design/runstream/features/stream/pulse"
	clientspulse "goa.design/runstream/features/stream/pulse/clients/pulse"
	"goa.design/runstream/features/stream/sse"
	"goa.design/runstream/runtime/emitter"
	"goa.design/runstream/runtime/runlog"
	runloginmem "goa.design/runstream/runtime/runlog/inmem"
	"goa.design/runstream/runtime/stream"
	streaminmem "goa.design/runstream/runtime/stream/inmem"
	"goa.design/runstream/runtime/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// service holds the wired components and the resources to release on exit.
type service struct {
	handler http.Handler
	closers []func(context.Context) error
}

func newService(ctx context.Context, cfg config) (_ *service, err error) {
	svc := &service{}
	defer func() {
		if err != nil {
			svc.close(ctx)
		}
	}()

	logger := telemetry.NewClueLogger()
	var pingers []health.Pinger

	var rdb *redis.Client
	if cfg.usesRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL, Password: cfg.Redis.Password})
		svc.closers = append(svc.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	var store runlog.Store
	switch cfg.Store {
	case storeRedis:
		s, err := runlogredis.New(runlogredis.Options{Client: rdb, Prefix: cfg.Redis.Prefix, Retention: cfg.Redis.Retention})
		if err != nil {
			return nil, err
		}
		store = s
		pingers = append(pingers, s)
	case storeMongo:
		mc, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		svc.closers = append(svc.closers, mc.Disconnect)
		client, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: cfg.Mongo.Database, Timeout: cfg.Mongo.Timeout})
		if err != nil {
			return nil, err
		}
		s, err := runlogmongo.NewStore(client)
		if err != nil {
			return nil, err
		}
		store = s
		pingers = append(pingers, s)
	default:
		store = runloginmem.New()
	}

	var live stream.Stream
	if cfg.Stream.Pulse {
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb, StreamMaxLen: cfg.Stream.MaxLen})
		if err != nil {
			return nil, err
		}
		streams, err := streampulse.NewStreams(streampulse.StreamsOptions{
			Client:     pc,
			Subscriber: streampulse.SubscriberOptions{Buffer: cfg.Stream.Buffer, Logger: logger},
		})
		if err != nil {
			return nil, err
		}
		live = streams
		svc.closers = append(svc.closers, streams.Close)
		pingers = append(pingers, pc)
	} else {
		hub := streaminmem.New(cfg.Stream.Buffer)
		live = hub
		svc.closers = append(svc.closers, hub.Close)
	}

	validator, err := loadSchemas(cfg.Schemas)
	if err != nil {
		return nil, err
	}
	eopts := emitter.Options{
		Store:   store,
		Sink:    live,
		Logger:  logger,
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}
	if validator != nil {
		eopts.Validator = validator
	}
	em, err := emitter.New(eopts)
	if err != nil {
		return nil, err
	}

	srv, err := sse.New(sse.Options{
		Emitter:      em,
		Subscriber:   live,
		Heartbeat:    cfg.SSE.Heartbeat,
		PollInterval: cfg.SSE.PollInterval,
		Retry:        cfg.SSE.Retry,
		ReplayRate:   cfg.SSE.ReplayRate,
		ReplayBurst:  cfg.SSE.ReplayBurst,
		PageSize:     cfg.SSE.PageSize,
		Pingers:      pingers,
		Info:         sse.Info{Name: "runstream", Version: version, Description: "Resumable run event streams"},
		Logger:       logger,
		Metrics:      telemetry.NewClueMetrics(),
		Tracer:       telemetry.NewClueTracer(),
	})
	if err != nil {
		return nil, err
	}
	svc.handler = srv.Handler()
	return svc, nil
}

// loadSchemas compiles the JSON schemas configured per event type. It
// returns nil when none are configured.
func loadSchemas(files map[string]string) (*emitter.SchemaValidator, error) {
	if len(files) == 0 {
		return nil, nil
	}
	docs := make(map[runlog.EventType][]byte, len(files))
	for typ, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema for %s events: %w", typ, err)
		}
		docs[runlog.EventType(typ)] = b
	}
	return emitter.NewSchemaValidator(docs)
}

// close releases resources in reverse creation order.
func (s *service) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			log.Errorf(ctx, err, "close")
		}
	}
}
