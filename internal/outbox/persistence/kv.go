package persistence

import (
	"context"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

// KeyValue is a flat byte store. Get returns (nil, nil) for a missing key.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// KeyValueStore keeps the queue as a single JSON blob under one key.
type KeyValueStore struct {
	kv   KeyValue
	opts Options
}

// NewKeyValueStore creates a KeyValueStore over kv.
func NewKeyValueStore(kv KeyValue, opts Options) *KeyValueStore {
	return &KeyValueStore{
		kv:   kv,
		opts: opts.withDefaults(),
	}
}

// Load reads and decodes the blob.
func (s *KeyValueStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	data, err := s.kv.Get(ctx, s.opts.Key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "load snapshot from key-value store", err)
	}
	return decodeSnapshot(data, s.opts)
}

// Save overwrites the blob.
func (s *KeyValueStore) Save(ctx context.Context, items []*models.QueueItem) error {
	data, err := encodeSnapshot(items)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.opts.Key, data); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "write snapshot to key-value store", err)
	}
	return nil
}
