package persistence

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

// SQLiteStore keeps the queue as one row of the outbox_snapshots table.
// The table is created by the db package migrations.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore creates a SQLiteStore over an opened, migrated database.
func NewSQLiteStore(db *sql.DB, opts Options) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		opts: opts.withDefaults(),
	}
}

// Load reads the snapshot row for the configured key.
func (s *SQLiteStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	var snap models.OutboxSnapshot

	query := `SELECT key, payload, item_count, updated_at FROM ` + snap.TableName() + ` WHERE key = ?`
	var payload string
	err := s.db.QueryRowContext(ctx, query, s.opts.Key).Scan(&snap.Key, &payload, &snap.ItemCount, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return []*models.QueueItem{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "load snapshot from sqlite", err)
	}

	return decodeSnapshot([]byte(payload), s.opts)
}

// Save upserts the snapshot row inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, items []*models.QueueItem) error {
	payload, err := encodeSnapshot(items)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "begin snapshot transaction", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO outbox_snapshots (key, payload, item_count, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET
				payload = excluded.payload,
				item_count = excluded.item_count,
				updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, query, s.opts.Key, string(payload), len(items), s.opts.Now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "write snapshot to sqlite", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "commit snapshot", err)
	}
	return nil
}
