package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tablepos/terminal/internal/models"
)

// memStore is a QueuePersistence recording every save.
type memStore struct {
	mu      sync.Mutex
	items   []*models.QueueItem
	saves   []int
	loadErr error
	saveErr error
}

func (m *memStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]*models.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.Clone())
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, items []*models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves = append(m.saves, len(items))
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items = make([]*models.QueueItem, 0, len(items))
	for _, it := range items {
		m.items = append(m.items, it.Clone())
	}
	return nil
}

func (m *memStore) persistedLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *memStore) saveLog() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.saves...)
}

func (m *memStore) resetSaveLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = nil
}

// fakeExecutor records attempts and answers with fn (nil means success).
type fakeExecutor struct {
	mu    sync.Mutex
	calls []*models.QueueItem
	fn    func(item *models.QueueItem) error
}

func (e *fakeExecutor) Execute(ctx context.Context, item *models.QueueItem) error {
	e.mu.Lock()
	e.calls = append(e.calls, item)
	fn := e.fn
	e.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(item)
}

func (e *fakeExecutor) setFn(fn func(item *models.QueueItem) error) {
	e.mu.Lock()
	e.fn = fn
	e.mu.Unlock()
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeExecutor) urls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.URL
	}
	return out
}

// clock is a manual time source. Every reading advances it by step so
// consecutive enqueues get distinct timestamps.
type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("op-%d", n)
	}
}

type fixture struct {
	s     *Scheduler
	store *memStore
	exec  *fakeExecutor
	clock *clock
}

func newFixture(t *testing.T, configure func(o *Options)) *fixture {
	t.Helper()

	f := &fixture{
		store: &memStore{},
		exec:  &fakeExecutor{},
		clock: newClock(),
	}

	opts := Options{
		Persistence: f.store,
		Executor:    f.exec,
		Interval:    time.Hour,
		IDs:         sequentialIDs(),
		Now:         f.clock.Now,
	}
	if configure != nil {
		configure(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	f.s = s
	return f
}

func (f *fixture) enqueue(t *testing.T, op Operation) string {
	t.Helper()

	id, err := f.s.Enqueue(context.Background(), op)
	require.NoError(t, err)
	return id
}

// stubMonitor flips state without notifying, so tests can drive passes
// synchronously.
type stubMonitor struct {
	mu     sync.Mutex
	online bool
}

func (m *stubMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *stubMonitor) set(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

func (m *stubMonitor) OnRestored(fn func()) func() { return func() {} }
func (m *stubMonitor) OnLost(fn func()) func()     { return func() {} }
