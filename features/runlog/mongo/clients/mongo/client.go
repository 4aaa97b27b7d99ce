// Package mongo implements the low-level MongoDB client used by the run log store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/runstream/runtime/runlog"
)

type (
	// Client exposes Mongo-backed operations for the run event log.
	Client interface {
		health.Pinger

		Append(ctx context.Context, e *runlog.Event) error
		List(ctx context.Context, runID string, afterSeq int64, limit int) ([]*runlog.Event, error)
		LatestSeq(ctx context.Context, runID string) (int64, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client *mongodriver.Client
		// Database is required.
		Database string
		// Collection holds events. Defaults to "run_events".
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		events  eventCollection
		timeout time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		RunID     string        `bson:"run_id"`
		Seq       int64         `bson:"seq"`
		Type      string        `bson:"type"`
		Payload   []byte        `bson:"payload,omitempty"`
		Timestamp time.Time     `bson:"timestamp"`
	}
)

const (
	defaultCollection = "run_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "runlog-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	events := opts.Collection
	if events == "" {
		events = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: db.Collection(events)}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Append inserts e right after the latest event of its run. The unique
// (run_id, seq) index makes the insert the sequence allocation: when another
// appender takes the same sequence first, the insert fails with a duplicate
// key and Append retries against the new latest event. An event is therefore
// only inserted once its predecessor is stored, and a failed insert leaves
// no hole.
func (c *client) Append(ctx context.Context, e *runlog.Event) error {
	if err := runlog.Validate(e); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	for {
		last, err := c.lastEvent(ctx, e.RunID)
		if err != nil {
			return err
		}
		var seq int64 = 1
		if last != nil {
			if runlog.EventType(last.Type).Terminal() {
				return runlog.ErrRunClosed
			}
			if e.Type == runlog.EventMetadata {
				return runlog.ErrRunExists
			}
			seq = last.Seq + 1
		}
		runlog.Assign(e, seq)
		doc := eventDocument{
			RunID:     e.RunID,
			Seq:       seq,
			Type:      string(e.Type),
			Payload:   append([]byte(nil), e.Payload...),
			Timestamp: e.Timestamp.UTC(),
		}
		_, err = c.events.InsertOne(ctx, doc)
		if err == nil {
			return nil
		}
		e.Seq, e.ID = 0, ""
		if !mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert event %d of run %q: %w", seq, e.RunID, err)
		}
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("append event to run %q: %w", e.RunID, cerr)
		}
	}
}

func (c *client) List(ctx context.Context, runID string, afterSeq int64, limit int) (events []*runlog.Event, err error) {
	if runID == "" {
		return nil, runlog.ErrRunIDRequired
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"run_id": runID, "seq": bson.M{"$gt": afterSeq}}
	cur, err := c.events.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ev := &runlog.Event{
			RunID:     doc.RunID,
			Type:      runlog.EventType(doc.Type),
			Payload:   append([]byte(nil), doc.Payload...),
			Timestamp: doc.Timestamp,
		}
		runlog.Assign(ev, doc.Seq)
		events = append(events, ev)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *client) LatestSeq(ctx context.Context, runID string) (int64, error) {
	if runID == "" {
		return 0, runlog.ErrRunIDRequired
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	last, err := c.lastEvent(ctx, runID)
	if err != nil || last == nil {
		return 0, err
	}
	return last.Seq, nil
}

// lastEvent returns the event of the run with the highest sequence or nil if
// the run has no events.
func (c *client) lastEvent(ctx context.Context, runID string) (*eventDocument, error) {
	var doc eventDocument
	err := c.events.FindOne(ctx, bson.M{"run_id": runID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest event of run %q: %w", runID, err)
	}
	return &doc, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll eventCollection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "run_id", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, events eventCollection, timeout time.Duration) (*client, error) {
	if events == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		events:  events,
		timeout: timeout,
	}, nil
}

type eventCollection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
