package persistence

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepos/terminal/internal/db"
	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Key: "test_queue", Now: func() time.Time { return fixedNow }}
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// hostStub plays the desktop host's store endpoint over a memKV.
func hostStub(t *testing.T) *httptest.Server {
	t.Helper()
	kv := newMemKV()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != StorePath {
			http.NotFound(w, r)
			return
		}
		key := r.URL.Query().Get("key")
		switch r.Method {
		case http.MethodGet:
			data, _ := kv.Get(r.Context(), key)
			if data == nil {
				data = []byte("[]")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			kv.Set(r.Context(), key, body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func backends(t *testing.T) map[string]QueuePersistence {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	fileKV, err := NewFileKV(t.TempDir())
	require.NoError(t, err)

	sealedKV, err := NewSealedKV(newMemKV(), "terminal-secret")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]QueuePersistence{
		"sqlite": NewSQLiteStore(database.DB, testOptions()),
		"file":   NewKeyValueStore(fileKV, testOptions()),
		"redis":  NewKeyValueStore(NewRedisKV(client, "terminal-7"), testOptions()),
		"host":   NewHostPersistence(hostStub(t).URL, nil, testOptions()),
		"sealed": NewKeyValueStore(sealedKV, testOptions()),
	}
}

func item(id string, age time.Duration) *models.QueueItem {
	return &models.QueueItem{
		ID:         id,
		Method:     models.MethodPost,
		URL:        "/orders",
		Data:       json.RawMessage(`{"table":4}`),
		Timestamp:  fixedNow.Add(-age),
		Priority:   models.PriorityNormal,
		MaxRetries: 5,
		Metadata:   models.Metadata{Type: "order"},
	}
}

// =====================================================
// Contract Tests (every backend)
// =====================================================

func TestBackends_LoadMissingIsEmpty(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			items, err := p.Load(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, items)
			assert.Empty(t, items)
		})
	}
}

func TestBackends_SaveLoadRoundTrip(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := []*models.QueueItem{item("a", time.Hour), item("b", time.Minute)}
			in[1].Retries = 2
			in[1].LastError = &models.LastError{Message: "503", Kind: "HTTP_ERROR", StatusCode: 503, Timestamp: fixedNow}

			require.NoError(t, p.Save(ctx, in))

			out, err := p.Load(ctx)
			require.NoError(t, err)
			require.Len(t, out, 2)
			assert.Equal(t, "a", out[0].ID)
			assert.Equal(t, "b", out[1].ID)
			assert.Equal(t, 2, out[1].Retries)
			assert.Equal(t, 503, out[1].LastError.StatusCode)
			assert.JSONEq(t, `{"table":4}`, string(out[0].Data))
		})
	}
}

func TestBackends_SaveReplacesSnapshot(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, p.Save(ctx, []*models.QueueItem{item("a", 0), item("b", 0)}))
			require.NoError(t, p.Save(ctx, nil))

			out, err := p.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestBackends_LoadDropsExpired(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := []*models.QueueItem{
				item("stale", DefaultRetention+time.Minute),
				item("fresh", DefaultRetention-time.Minute),
			}
			require.NoError(t, p.Save(ctx, in))

			out, err := p.Load(ctx)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "fresh", out[0].ID)
		})
	}
}

// =====================================================
// Backend-specific Tests
// =====================================================

func TestSQLiteStore_ItemCount(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.Migrate())

	store := NewSQLiteStore(database.DB, testOptions())
	require.NoError(t, store.Save(context.Background(), []*models.QueueItem{item("a", 0), item("b", 0), item("c", 0)}))

	var count int
	var updated int64
	err = database.QueryRow("SELECT item_count, updated_at FROM outbox_snapshots WHERE key = ?", "test_queue").Scan(&count, &updated)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, fixedNow.UnixMilli(), updated)
}

func TestSQLiteStore_UnmigratedIsPersistenceError(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()

	store := NewSQLiteStore(database.DB, testOptions())

	_, err = store.Load(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))

	err = store.Save(context.Background(), nil)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
}

func TestKeyValueStore_CorruptBlob(t *testing.T) {
	kv := newMemKV()
	kv.data["test_queue"] = []byte("{not json")

	_, err := NewKeyValueStore(kv, testOptions()).Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
}

func TestKeyValueStore_NilSavedAsEmptyArray(t *testing.T) {
	kv := newMemKV()
	require.NoError(t, NewKeyValueStore(kv, testOptions()).Save(context.Background(), nil))
	assert.Equal(t, "[]", string(kv.data["test_queue"]))
}

func TestFileKV_KeySanitised(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "../escape/queue", []byte("x")))
	assert.FileExists(t, dir+"/.._escape_queue.json")

	got, err := kv.Get(ctx, "../escape/queue")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestFileKV_CancelledContext(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, kv.Set(ctx, "k", []byte("v")))
	_, err = kv.Get(ctx, "k")
	assert.Error(t, err)
}

func TestRedisKV_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := NewRedisKV(client, "terminal-7")
	require.NoError(t, kv.Set(context.Background(), "offline_queue", []byte("[]")))

	got, err := mr.Get("terminal-7:offline_queue")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestHostPersistence_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHostPersistence(srv.URL, nil, testOptions())

	_, err := p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusCode(err))

	err = p.Save(context.Background(), nil)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
}

func TestHostPersistence_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHostPersistence(url, nil, testOptions()).Load(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		p, closeFn, err := Open(ctx, Spec{Backend: BackendSQLite, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &SQLiteStore{}, p)
	})

	t.Run("file", func(t *testing.T) {
		p, closeFn, err := Open(ctx, Spec{Backend: BackendFile, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &KeyValueStore{}, p)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		p, closeFn, err := Open(ctx, Spec{Backend: BackendRedis, RedisAddress: mr.Addr()})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &KeyValueStore{}, p)
	})

	t.Run("host without url", func(t *testing.T) {
		_, closeFn, err := Open(ctx, Spec{Backend: BackendHost})
		assert.Error(t, err)
		assert.NotNil(t, closeFn)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := Open(ctx, Spec{Backend: "indexeddb"})
		assert.Error(t, err)
		assert.False(t, Backend("indexeddb").Valid())
	})
}

func TestSealedKV_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	inner := newMemKV()
	sealed, err := NewSealedKV(inner, "terminal-secret")
	require.NoError(t, err)

	store := NewKeyValueStore(sealed, testOptions())
	require.NoError(t, store.Save(ctx, []*models.QueueItem{item("a", time.Minute)}))

	raw, err := inner.Get(ctx, "test_queue")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "/orders")

	other, err := NewSealedKV(inner, "another-secret")
	require.NoError(t, err)
	_, err = NewKeyValueStore(other, testOptions()).Load(ctx)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))

	_, err = NewSealedKV(inner, "")
	assert.Error(t, err)
}

func TestOpen_SealedFile(t *testing.T) {
	ctx := context.Background()
	spec := Spec{Backend: BackendFile, DataDir: t.TempDir(), EncryptionSecret: "terminal-secret"}

	p, closeFn, err := Open(ctx, spec)
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, p.Save(ctx, []*models.QueueItem{item("a", time.Minute)}))

	plain, closePlain, err := Open(ctx, Spec{Backend: BackendFile, DataDir: spec.DataDir})
	require.NoError(t, err)
	defer closePlain()
	_, err = plain.Load(ctx)
	assert.Error(t, err, "a sealed snapshot is not readable without the secret")

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
