package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores blobs as plain redis strings without expiry; retention is
// enforced on Load, not by redis TTLs.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKV creates a RedisKV. prefix namespaces keys per terminal.
func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Get reads the blob for key.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Set replaces the blob for key.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}
