package models

import "encoding/json"

// OutboxSnapshot is the single keyed record holding a persisted queue.
type OutboxSnapshot struct {
	Key       string          `db:"key" json:"key"`
	Payload   json.RawMessage `db:"payload" json:"payload"` // JSON array of QueueItem
	ItemCount int             `db:"item_count" json:"item_count"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for OutboxSnapshot.
func (OutboxSnapshot) TableName() string {
	return "outbox_snapshots"
}
