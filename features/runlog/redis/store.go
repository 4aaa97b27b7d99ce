// Package redis provides a Redis-backed run event log.
//
// Each run owns three keys: a sequence counter, a closed flag set by the
// terminal event, and a sorted set of events scored by sequence. Appends run
// as a single Lua script so allocation, the closed check and the insert are
// atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/health"

	"goa.design/runstream/runtime/runlog"
)

type (
	// Options configures the Redis store.
	Options struct {
		// Client is required.
		Client *redis.Client
		// Prefix namespaces every key. Defaults to "runstream".
		Prefix string
		// Retention expires the keys of an ended run after the given
		// duration. Zero keeps them forever.
		Retention time.Duration
	}

	// Store implements runlog.Store on Redis.
	Store struct {
		rdb       *redis.Client
		prefix    string
		retention time.Duration
	}

	record struct {
		Type      runlog.EventType `json:"type"`
		Payload   json.RawMessage  `json:"payload,omitempty"`
		Timestamp time.Time        `json:"timestamp"`
	}
)

const (
	defaultPrefix = "runstream"
	storeName     = "runlog-redis"
)

var (
	_ runlog.Store  = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
)

// appendScript returns -1 when the run is closed, -2 when a starting event
// targets a run that has events, the new sequence otherwise.
// KEYS: seq, closed, events. ARGV: record, closing flag, retention millis,
// starting flag.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return -1
end
if ARGV[4] == '1' and redis.call('EXISTS', KEYS[1]) == 1 then
  return -2
end
local seq = redis.call('INCR', KEYS[1])
redis.call('ZADD', KEYS[3], seq, seq .. ':' .. ARGV[1])
if ARGV[2] == '1' then
  redis.call('SET', KEYS[2], '1')
  local ttl = tonumber(ARGV[3])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
    redis.call('PEXPIRE', KEYS[2], ttl)
    redis.call('PEXPIRE', KEYS[3], ttl)
  end
end
return seq
`)

// New returns a Store backed by the given Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Retention < 0 {
		return nil, errors.New("retention must be >= 0")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: opts.Client, prefix: prefix, retention: opts.Retention}, nil
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, e *runlog.Event) error {
	if err := runlog.Validate(e); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(record{Type: e.Type, Payload: e.Payload, Timestamp: e.Timestamp})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	seq, err := appendScript.Run(ctx, s.rdb,
		[]string{s.seqKey(e.RunID), s.closedKey(e.RunID), s.eventsKey(e.RunID)},
		string(body), flag(e.Type.Terminal()), s.retention.Milliseconds(), flag(e.Type == runlog.EventMetadata),
	).Int64()
	if err != nil {
		return fmt.Errorf("append event to run %q: %w", e.RunID, err)
	}
	switch seq {
	case -1:
		return runlog.ErrRunClosed
	case -2:
		return runlog.ErrRunExists
	}
	runlog.Assign(e, seq)
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
	if afterSeq < 0 {
		afterSeq = 0
	}
	members, err := s.rdb.ZRangeByScore(ctx, s.eventsKey(runID), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(afterSeq, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list events of run %q: %w", runID, err)
	}
	events := make([]*runlog.Event, 0, len(members))
	for _, m := range members {
		e, err := decodeMember(runID, m)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// LatestSeq implements runlog.Store.
func (s *Store) LatestSeq(ctx context.Context, runID string) (int64, error) {
	if runID == "" {
		return 0, runlog.ErrRunIDRequired
	}
	seq, err := s.rdb.Get(ctx, s.seqKey(runID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence of run %q: %w", runID, err)
	}
	return seq, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return storeName
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) seqKey(runID string) string    { return s.key(runID, "seq") }
func (s *Store) closedKey(runID string) string { return s.key(runID, "closed") }
func (s *Store) eventsKey(runID string) string { return s.key(runID, "events") }

// key wraps the run ID in a hash tag so all keys of a run share a slot.
func (s *Store) key(runID, suffix string) string {
	return s.prefix + ":run:{" + runID + "}:" + suffix
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeMember(runID, member string) (*runlog.Event, error) {
	head, body, ok := strings.Cut(member, ":")
	if !ok {
		return nil, fmt.Errorf("corrupt event in run %q: missing sequence", runID)
	}
	seq, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt event in run %q: %w", runID, err)
	}
	var r record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("corrupt event %d in run %q: %w", seq, runID, err)
	}
	e := &runlog.Event{
		RunID:     runID,
		Type:      r.Type,
		Payload:   r.Payload,
		Timestamp: r.Timestamp,
	}
	runlog.Assign(e, seq)
	return e, nil
}
