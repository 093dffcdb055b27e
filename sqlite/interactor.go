// Package sqlite mirrors collection items into a SQLite table so a process can restore
// its collections after a restart. It implements persistence.SnapshotSink.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asaidimu/go-collections/core/persistence"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var errNoTransaction = errors.New("not in a transactional context")

// dbRunner is the subset of *sql.DB and *sql.Tx the snapshotter needs.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Snapshotter stores items in a single SQLite table keyed by collection and item id.
type Snapshotter struct {
	db      *sql.DB
	tx      *sql.Tx
	logger  *zap.Logger
	options *Options
}

var _ persistence.SnapshotSink = (*Snapshotter)(nil)

// NewSnapshotter creates a Snapshotter over db. A nil tx makes every call run directly
// against db.
func NewSnapshotter(db *sql.DB, logger *zap.Logger, options *Options, tx *sql.Tx) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	if options.Table == "" {
		options.Table = DefaultTable
	}
	return &Snapshotter{
		db:      db,
		tx:      tx,
		logger:  logger,
		options: options,
	}
}

// Open opens the SQLite database at dsn and makes sure the snapshot table exists.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Snapshotter, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	s := NewSnapshotter(db, logger, nil, nil)
	if err := s.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Snapshotter) runner() dbRunner {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// EnsureTable creates the snapshot table and its index.
func (s *Snapshotter) EnsureTable(ctx context.Context) error {
	for _, stmt := range s.CreateTableSQL() {
		if _, err := s.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// SaveItem inserts or replaces the stored copy of item.
func (s *Snapshotter) SaveItem(ctx context.Context, collection string, item *persistence.Item) error {
	row, err := toRow(collection, item)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s ("collection", "id", "version", "data", "metadata", "updated_at")
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT ("collection", "id") DO UPDATE SET
    "version" = excluded."version",
    "data" = excluded."data",
    "metadata" = excluded."metadata",
    "updated_at" = excluded."updated_at";`, s.tableName())

	s.logger.Debug("Saving item snapshot",
		zap.String("collection", collection),
		zap.String("id", item.ID),
		zap.Int("version", row.version))

	if _, err := s.runner().ExecContext(ctx, stmt, row.collection, row.id, row.version, row.data, row.metadata, row.updatedAt); err != nil {
		s.logger.Error("Failed to save item snapshot", zap.Error(err), zap.String("collection", collection), zap.String("id", item.ID))
		return fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}
	return nil
}

// RemoveItem deletes the stored copy of an item.
func (s *Snapshotter) RemoveItem(ctx context.Context, collection, id string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE "collection" = ? AND "id" = ?;`, s.tableName())
	s.logger.Debug("Removing item snapshot", zap.String("collection", collection), zap.String("id", id))

	if _, err := s.runner().ExecContext(ctx, stmt, collection, id); err != nil {
		s.logger.Error("Failed to remove item snapshot", zap.Error(err), zap.String("collection", collection), zap.String("id", id))
		return fmt.Errorf("failed to remove item %s: %w", id, err)
	}
	return nil
}

// LoadItems returns every stored item of a collection ordered by last update.
func (s *Snapshotter) LoadItems(ctx context.Context, collection string) ([]*persistence.Item, error) {
	stmt := fmt.Sprintf(`SELECT "collection", "id", "version", "data", "metadata", "updated_at"
FROM %s WHERE "collection" = ? ORDER BY "updated_at", "id";`, s.tableName())

	rows, err := s.runner().QueryContext(ctx, stmt, collection)
	if err != nil {
		s.logger.Error("Failed to load item snapshots", zap.Error(err), zap.String("collection", collection))
		return nil, fmt.Errorf("failed to load items of %s: %w", collection, err)
	}
	defer rows.Close()
	return readRows(rows)
}

// Count returns the number of stored items of a collection.
func (s *Snapshotter) Count(ctx context.Context, collection string) (int, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "collection" = ?;`, s.tableName())
	var n int
	if err := s.runner().QueryRowContext(ctx, stmt, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items of %s: %w", collection, err)
	}
	return n, nil
}

// Clear removes every stored item of a collection.
func (s *Snapshotter) Clear(ctx context.Context, collection string) (int64, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE "collection" = ?;`, s.tableName())
	result, err := s.runner().ExecContext(ctx, stmt, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	return result.RowsAffected()
}

// SaveCollection replaces the stored copy of a whole collection in one transaction.
func (s *Snapshotter) SaveCollection(ctx context.Context, c *persistence.Collection) (int, error) {
	result, err := c.Query(ctx, persistence.SystemActor(), nil)
	if err != nil {
		return 0, err
	}

	tx, err := s.StartTransaction(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Clear(ctx, c.ID()); err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	for _, item := range result.Items {
		if err := tx.SaveItem(ctx, c.ID(), item); err != nil {
			_ = tx.Rollback(ctx)
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot of %s: %w", c.ID(), err)
	}
	s.logger.Info("Saved collection snapshot", zap.String("collection", c.ID()), zap.Int("items", len(result.Items)))
	return len(result.Items), nil
}

// StartTransaction begins a database transaction and returns a Snapshotter scoped to it.
func (s *Snapshotter) StartTransaction(ctx context.Context) (*Snapshotter, error) {
	if s.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional snapshotter")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.logger.Debug("Transaction initiated, returning new transactional snapshotter")
	return NewSnapshotter(s.db, s.logger, s.options, tx), nil
}

// Commit commits the current transaction.
func (s *Snapshotter) Commit(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("commit not applicable: %w", errNoTransaction)
	}
	s.logger.Debug("Committing transaction")
	return s.tx.Commit()
}

// Rollback rolls back the current transaction.
func (s *Snapshotter) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("rollback not applicable: %w", errNoTransaction)
	}
	s.logger.Debug("Rolling back transaction")
	return s.tx.Rollback()
}

// Close closes the underlying database.
func (s *Snapshotter) Close() error {
	return s.db.Close()
}
