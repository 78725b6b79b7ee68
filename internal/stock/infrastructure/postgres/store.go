// Package postgres реализует хранилища stock-service на PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/stocksync/framework/adapters/repository"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations возвращает SQL миграции схемы stock-service
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store хранилище поступлений
type Store struct {
	pool *pgxpool.Pool
}

var _ application.Store = (*Store)(nil)

// NewStore создает хранилище поверх пула соединений
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Outbox возвращает хранилище outbox для relay
func (s *Store) Outbox() *outbox.PostgresStore {
	return outbox.NewPostgresStore(s.pool)
}

// WithinTransaction выполняет fn в транзакции PostgreSQL
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	return repository.WithinTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &inventoryTx{tx: tx, PostgresWriter: outbox.NewPostgresWriter(tx)})
	})
}

// ListInventory возвращает поступления продукта в порядке добавления
func (s *Store) ListInventory(ctx context.Context, productID uuid.UUID) ([]*domain.Inventory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, quantity, added_at, added_by FROM inventories WHERE product_id = $1 ORDER BY added_at, id`,
		productID,
	)
	if err != nil {
		return nil, repository.MapPgError(err, "list inventory")
	}

	inventories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Inventory, error) {
		var (
			id, pid  uuid.UUID
			quantity int
			addedAt  time.Time
			addedBy  string
		)
		if err := row.Scan(&id, &pid, &quantity, &addedAt, &addedBy); err != nil {
			return nil, err
		}
		return domain.RestoreInventory(id, pid, quantity, addedAt.UTC(), addedBy), nil
	})
	if err != nil {
		return nil, repository.MapPgError(err, "list inventory")
	}
	return inventories, nil
}

type inventoryTx struct {
	tx pgx.Tx
	*outbox.PostgresWriter
}

func (t *inventoryTx) InsertInventory(ctx context.Context, inv *domain.Inventory) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventories (id, product_id, quantity, added_at, added_by) VALUES ($1, $2, $3, $4, $5)`,
		inv.ID(), inv.ProductID(), inv.Quantity(), inv.AddedAt(), inv.AddedBy(),
	)
	if err != nil {
		return core.Wrap(err, core.ErrPersistenceFailed, "insert inventory failed")
	}
	return nil
}

// ReadModelStore read model продуктов в таблице product_read_models
type ReadModelStore struct {
	pool *pgxpool.Pool
}

var _ application.ReadModelStore = (*ReadModelStore)(nil)

// NewReadModelStore создает read model поверх пула соединений
func NewReadModelStore(pool *pgxpool.Pool) *ReadModelStore {
	return &ReadModelStore{pool: pool}
}

// WithinTransaction выполняет fn в транзакции PostgreSQL
func (s *ReadModelStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.ReadModelTx) error) error {
	return repository.WithinTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &readModelTx{q: tx})
	})
}

// Exists проверяет наличие продукта в read model
func (s *ReadModelStore) Exists(ctx context.Context, productID uuid.UUID) (bool, error) {
	return readModelTx{q: s.pool}.ReadModelExists(ctx, productID)
}

// GetReadModel возвращает запись или ошибку NOT_FOUND
func (s *ReadModelStore) GetReadModel(ctx context.Context, productID uuid.UUID) (*domain.ProductReadModel, error) {
	var (
		name     string
		syncedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT name, synced_at FROM product_read_models WHERE product_id = $1`, productID,
	).Scan(&name, &syncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found in read model", productID)
	}
	if err != nil {
		return nil, repository.MapPgError(err, "get read model")
	}
	return domain.RestoreProductReadModel(productID, name, syncedAt.UTC()), nil
}

// querier общее подмножество pgx.Tx и pgxpool.Pool
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type readModelTx struct {
	q querier
}

func (t readModelTx) ReadModelExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM product_read_models WHERE product_id = $1)`, productID,
	).Scan(&exists)
	if err != nil {
		return false, repository.MapPgError(err, "check read model")
	}
	return exists, nil
}

// InsertReadModel вставляет запись; конфликт первичного ключа дает ALREADY_PROCESSED
func (t readModelTx) InsertReadModel(ctx context.Context, m *domain.ProductReadModel) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO product_read_models (product_id, name, synced_at) VALUES ($1, $2, $3)`,
		m.ProductID(), m.Name(), m.SyncedAt(),
	)
	return repository.MapPgError(err, "insert read model")
}
