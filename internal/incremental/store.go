package incremental

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Store persists the last seen item of every collection.
//
// note: fault injection point
type Store interface {
	// Get returns ok = false when the collection has never been synced.
	Get(ctx context.Context, collectionID string) (lastSeen string, ok bool, err error)
	Set(ctx context.Context, collectionID, lastSeen string) error
}

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) BadgerStore {
	return BadgerStore{db: db}
}

// OpenBadger opens (or creates) the state directory, an empty dir gives an
// in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open sync state %q: %w", dir, err)
	}
	return db, nil
}

func (s BadgerStore) key(collectionID string) []byte {
	return []byte("sync:collection:" + collectionID)
}

func (s BadgerStore) Get(ctx context.Context, collectionID string) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "store:get")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.collection", collectionID))

	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	item, err := tx.Get(s.key(collectionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return "", false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy item")
		return "", false, err
	}
	return string(value), true, nil
}

// Set replaces the marker in a single transaction, a failed commit leaves
// the previous marker in place.
func (s BadgerStore) Set(ctx context.Context, collectionID, lastSeen string) error {
	ctx, span := tracer.Start(ctx, "store:set")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.collection", collectionID))

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	err := tx.Set(s.key(collectionID), []byte(lastSeen))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}
	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit")
		return err
	}
	return nil
}
