package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepos/terminal/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func item(id string, priority models.Priority, offset time.Duration) *models.QueueItem {
	return &models.QueueItem{
		ID:         id,
		Method:     models.MethodPost,
		URL:        "/orders",
		Timestamp:  base.Add(offset),
		Priority:   priority,
		MaxRetries: 5,
	}
}

func ids(items []*models.QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// =====================================================
// Order Tests
// =====================================================

// TestOrder_PriorityFirst verifies high items precede normal and low ones.
func TestOrder_PriorityFirst(t *testing.T) {
	items := []*models.QueueItem{
		item("low", models.PriorityLow, 0),
		item("normal", models.PriorityNormal, time.Second),
		item("high", models.PriorityHigh, 2*time.Second),
	}

	assert.Equal(t, []string{"high", "normal", "low"}, ids(Order(items)))
}

// TestOrder_FIFOWithinTier verifies ascending timestamps inside a priority tier.
func TestOrder_FIFOWithinTier(t *testing.T) {
	items := []*models.QueueItem{
		item("n3", models.PriorityNormal, 3*time.Second),
		item("h2", models.PriorityHigh, 2*time.Second),
		item("n1", models.PriorityNormal, time.Second),
		item("h1", models.PriorityHigh, time.Second),
		item("n2", models.PriorityNormal, 2*time.Second),
	}

	assert.Equal(t, []string{"h1", "h2", "n1", "n2", "n3"}, ids(Order(items)))
}

// TestOrder_Stable verifies equal keys keep insertion order.
func TestOrder_Stable(t *testing.T) {
	items := []*models.QueueItem{
		item("a", models.PriorityNormal, 0),
		item("b", models.PriorityNormal, 0),
		item("c", models.PriorityNormal, 0),
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(Order(items)))
}

// TestOrder_DoesNotMutateInput verifies the caller's slice is untouched.
func TestOrder_DoesNotMutateInput(t *testing.T) {
	items := []*models.QueueItem{
		item("normal", models.PriorityNormal, 0),
		item("high", models.PriorityHigh, 0),
	}

	Order(items)
	assert.Equal(t, []string{"normal", "high"}, ids(items))
}

// =====================================================
// Queue Tests
// =====================================================

func TestQueue_AppendAndSnapshot(t *testing.T) {
	q := New(nil)
	q.Append(item("a", models.PriorityNormal, 0))
	q.Append(item("b", models.PriorityHigh, 0))

	assert.Equal(t, 2, q.Len())
	snapshot := q.Snapshot()
	assert.Equal(t, []string{"a", "b"}, ids(snapshot))

	// Snapshots are copies
	snapshot[0].Retries = 99
	got, ok := q.Get("a")
	require.True(t, ok)
	assert.Zero(t, got.Retries)
}

func TestQueue_Prepend(t *testing.T) {
	q := New([]*models.QueueItem{item("new", models.PriorityNormal, 0)})
	q.Prepend([]*models.QueueItem{item("old1", models.PriorityNormal, 0), item("old2", models.PriorityNormal, 0)})

	assert.Equal(t, []string{"old1", "old2", "new"}, ids(q.Snapshot()))
}

func TestQueue_Update(t *testing.T) {
	q := New([]*models.QueueItem{item("a", models.PriorityNormal, 0)})

	updated, ok := q.Update("a", func(it *models.QueueItem) { it.Retries = 2 })
	require.True(t, ok)
	assert.Equal(t, 2, updated.Retries)

	got, _ := q.Get("a")
	assert.Equal(t, 2, got.Retries)

	_, ok = q.Update("missing", func(*models.QueueItem) { t.Fatal("must not be called") })
	assert.False(t, ok)
}

func TestQueue_Remove(t *testing.T) {
	q := New([]*models.QueueItem{
		item("a", models.PriorityNormal, 0),
		item("b", models.PriorityNormal, 0),
		item("c", models.PriorityNormal, 0),
	})

	removed, ok := q.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, []string{"a", "c"}, ids(q.Snapshot()))

	_, ok = q.Remove("b")
	assert.False(t, ok)
}

func TestQueue_ReplaceAndReset(t *testing.T) {
	q := New([]*models.QueueItem{item("a", models.PriorityNormal, 0)})

	q.Replace([]*models.QueueItem{item("x", models.PriorityLow, 0), nil, item("y", models.PriorityLow, 0)})
	assert.Equal(t, []string{"x", "y"}, ids(q.Snapshot()))

	assert.Equal(t, 2, q.Reset())
	assert.Zero(t, q.Len())
}

func TestQueue_Stats(t *testing.T) {
	table := item("t", models.PriorityNormal, 0)
	table.Metadata.Type = "table"
	order1 := item("o1", models.PriorityHigh, 0)
	order1.Metadata.Type = "order"
	order2 := item("o2", models.PriorityHigh, 0)
	order2.Metadata.Type = "order"
	raw := item("r", models.PriorityLow, 0)

	stats := New([]*models.QueueItem{table, order1, order2, raw}).Stats()

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, map[string]int{"high": 2, "normal": 1, "low": 1}, stats.ByPriority)
	assert.Equal(t, map[string]int{"table": 1, "order": 2, UntypedKey: 1}, stats.ByType)
}

// TestQueue_StatsUnknownPriority verifies priority counts always add up to
// the total.
func TestQueue_StatsUnknownPriority(t *testing.T) {
	missing := item("m", "", 0)
	odd := item("u", models.Priority("urgent"), 0)

	stats := New([]*models.QueueItem{missing, odd, item("h", models.PriorityHigh, 0)}).Stats()

	assert.Equal(t, map[string]int{"high": 1, "normal": 2, "low": 0}, stats.ByPriority)
	sum := 0
	for _, n := range stats.ByPriority {
		sum += n
	}
	assert.Equal(t, stats.Total, sum)
}

func TestQueue_StatsEmpty(t *testing.T) {
	stats := New(nil).Stats()

	assert.Zero(t, stats.Total)
	assert.Equal(t, map[string]int{"high": 0, "normal": 0, "low": 0}, stats.ByPriority)
	assert.Empty(t, stats.ByType)
}
