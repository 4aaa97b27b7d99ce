package mongo

import (
	"context"
	"errors"

	"goa.design/clue/health"

	clientsmongo "goa.design/runstream/features/runlog/mongo/clients/mongo"
	"goa.design/runstream/runtime/runlog"
)

// Store implements runlog.Store on top of the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var (
	_ runlog.Store  = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
)

// NewStore builds a Mongo-backed run log store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, e *runlog.Event) error {
	return s.client.Append(ctx, e)
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, runID string, afterSeq int64, limit int) ([]*runlog.Event, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	return s.client.List(ctx, runID, afterSeq, limit)
}

// LatestSeq implements runlog.Store.
func (s *Store) LatestSeq(ctx context.Context, runID string) (int64, error) {
	return s.client.LatestSeq(ctx, runID)
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return s.client.Name()
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
