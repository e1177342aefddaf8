// Package queue holds the in-memory list of pending outbox operations.
package queue

import (
	"sort"
	"sync"

	"github.com/tablepos/terminal/internal/models"
)

// UntypedKey groups items without metadata.type in Stats.
const UntypedKey = "untyped"

// Queue is the live, mutex-guarded list of pending operations. Items are
// kept in insertion order; replay order is computed per pass with Order.
// Every read returns clones so callers never alias live items.
type Queue struct {
	mu    sync.RWMutex
	items []*models.QueueItem
}

// Stats summarizes the queue for status reporting.
type Stats struct {
	Total      int            `json:"total"`
	ByPriority map[string]int `json:"by_priority"`
	ByType     map[string]int `json:"by_type"`
}

// New creates a Queue seeded with items.
func New(items []*models.QueueItem) *Queue {
	q := &Queue{}
	q.Replace(items)
	return q
}

// Append adds an item to the tail.
func (q *Queue) Append(item *models.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item.Clone())
}

// Prepend inserts items ahead of the current content, keeping their order.
func (q *Queue) Prepend(items []*models.QueueItem) {
	head := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			head = append(head, item.Clone())
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(head, q.items...)
}

// Snapshot returns a copy of every item in insertion order.
func (q *Queue) Snapshot() []*models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, item.Clone())
	}
	return items
}

// Get returns a copy of the item with the given id.
func (q *Queue) Get(id string) (*models.QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if i := q.index(id); i >= 0 {
		return q.items[i].Clone(), true
	}
	return nil, false
}

// Update applies fn to the live item under the write lock and returns a copy
// of the result. It reports false when the item is gone.
func (q *Queue) Update(id string, fn func(item *models.QueueItem)) (*models.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.index(id)
	if i < 0 {
		return nil, false
	}
	fn(q.items[i])
	return q.items[i].Clone(), true
}

// Remove deletes the item with the given id and returns it.
func (q *Queue) Remove(id string) (*models.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.index(id)
	if i < 0 {
		return nil, false
	}
	item := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return item, true
}

// Len returns the number of items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Replace swaps the whole content, e.g. after loading a snapshot.
func (q *Queue) Replace(items []*models.QueueItem) {
	cloned := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			cloned = append(cloned, item.Clone())
		}
	}

	q.mu.Lock()
	q.items = cloned
	q.mu.Unlock()
}

// Reset empties the queue and returns how many items were dropped.
func (q *Queue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// Stats counts items by priority and by metadata type.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{
		Total: len(q.items),
		ByPriority: map[string]int{
			string(models.PriorityHigh):   0,
			string(models.PriorityNormal): 0,
			string(models.PriorityLow):    0,
		},
		ByType: make(map[string]int),
	}

	for _, item := range q.items {
		stats.ByPriority[string(item.Priority.Normalize())]++

		typ := item.Metadata.Type
		if typ == "" {
			typ = UntypedKey
		}
		stats.ByType[typ]++
	}

	return stats
}

func (q *Queue) index(id string) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Order returns items sorted for replay: priority descending, then
// timestamp ascending. The sort is stable so equal timestamps keep their
// insertion order. The input slice is not modified.
func Order(items []*models.QueueItem) []*models.QueueItem {
	ordered := make([]*models.QueueItem, len(items))
	copy(ordered, items)

	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Priority.Rank(), ordered[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	return ordered
}
