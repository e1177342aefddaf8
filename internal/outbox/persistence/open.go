package persistence

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/tablepos/terminal/internal/db"
)

// Backend names a persistence strategy.
type Backend string

const (
	BackendHost   Backend = "host"
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendHost, BackendSQLite, BackendFile, BackendRedis:
		return true
	}
	return false
}

// Spec selects and parameterises a backend.
type Spec struct {
	Backend Backend
	DataDir string
	HostURL string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// EncryptionSecret seals file and redis snapshots when set.
	EncryptionSecret string

	Options Options
}

// seal wraps kv when the spec carries an encryption secret.
func (spec Spec) seal(kv KeyValue) (KeyValue, error) {
	if spec.EncryptionSecret == "" {
		return kv, nil
	}
	return NewSealedKV(kv, spec.EncryptionSecret)
}

// Open constructs the backend named by spec. The returned close function
// releases whatever the backend opened and is never nil.
func Open(ctx context.Context, spec Spec) (QueuePersistence, func() error, error) {
	noop := func() error { return nil }

	switch spec.Backend {
	case BackendHost:
		if spec.HostURL == "" {
			return nil, noop, fmt.Errorf("host backend requires a host url")
		}
		return NewHostPersistence(spec.HostURL, nil, spec.Options), noop, nil

	case BackendSQLite:
		database, err := db.Open(spec.DataDir)
		if err != nil {
			return nil, noop, err
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, noop, err
		}
		return NewSQLiteStore(database.DB, spec.Options), database.Close, nil

	case BackendFile:
		fileKV, err := NewFileKV(filepath.Join(spec.DataDir, "outbox"))
		if err != nil {
			return nil, noop, err
		}
		kv, err := spec.seal(fileKV)
		if err != nil {
			return nil, noop, err
		}
		return NewKeyValueStore(kv, spec.Options), noop, nil

	case BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{spec.RedisAddress},
			Password: spec.RedisPassword,
			DB:       spec.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to reach redis at %s: %w", spec.RedisAddress, err)
		}
		kv, err := spec.seal(NewRedisKV(client, spec.RedisPrefix))
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return NewKeyValueStore(kv, spec.Options), client.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown persistence backend %q", spec.Backend)
}
