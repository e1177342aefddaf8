// Package persistence stores the pending-operation list of the terminal outbox.
//
// A backend is chosen once, at construction, by the composition root:
// HostPersistence round-trips to the desktop host process, SQLiteStore keeps
// a keyed record in the local database, and KeyValueStore writes a single
// JSON blob to a flat key-value store (file or redis). Every backend drops
// items older than the retention window on Load.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
)

const (
	// DefaultKey names the single record holding the queue.
	DefaultKey = "offline_queue"

	// DefaultRetention is how long an operation stays replayable.
	DefaultRetention = 7 * 24 * time.Hour
)

// QueuePersistence loads and saves the whole queue snapshot.
type QueuePersistence interface {
	// Load returns the persisted items, minus expired ones.
	// A missing snapshot is an empty queue, not an error.
	Load(ctx context.Context) ([]*models.QueueItem, error)

	// Save replaces the persisted snapshot with items.
	Save(ctx context.Context, items []*models.QueueItem) error
}

// Options are shared by every backend.
type Options struct {
	Key       string
	Retention time.Duration
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Retention == 0 {
		o.Retention = DefaultRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// encodeSnapshot serialises items as a JSON array. A nil slice is stored as [].
func encodeSnapshot(items []*models.QueueItem) ([]byte, error) {
	if items == nil {
		items = []*models.QueueItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "encode snapshot", err)
	}
	return data, nil
}

// decodeSnapshot parses a stored snapshot and applies the retention window.
func decodeSnapshot(data []byte, opts Options) ([]*models.QueueItem, error) {
	if len(data) == 0 {
		return []*models.QueueItem{}, nil
	}

	var items []*models.QueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "decode snapshot", err)
	}
	return filterExpired(items, opts), nil
}

// filterExpired drops nil entries and items older than the retention window.
func filterExpired(items []*models.QueueItem, opts Options) []*models.QueueItem {
	now := opts.Now()
	kept := make([]*models.QueueItem, 0, len(items))
	expired := 0

	for _, item := range items {
		if item == nil {
			continue
		}
		if item.Expired(now, opts.Retention) {
			expired++
			continue
		}
		kept = append(kept, item)
	}

	if expired > 0 {
		logging.Warn("Discarded expired queue items on load",
			map[string]interface{}{
				"component": "persistence",
				"key":       opts.Key,
				"expired":   expired,
				"retention": opts.Retention.String(),
			})
	}
	return kept
}
