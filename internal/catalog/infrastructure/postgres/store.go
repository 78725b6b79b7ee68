// Package postgres реализует хранилище каталога на PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/stocksync/framework/adapters/repository"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/catalog/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations возвращает SQL миграции схемы каталога
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const productColumns = `id, name, description, price, stock_amount, created_at, updated_at`

// Store хранилище каталога
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
		return fn(ctx, &pgTx{tx: tx, PostgresWriter: outbox.NewPostgresWriter(tx)})
	})
}

// GetProduct возвращает продукт или ошибку NOT_FOUND
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row, id)
}

// ListProducts возвращает продукты в порядке создания
func (s *Store) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, repository.MapPgError(err, "list products")
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Product, error) {
		return scanProduct(row, uuid.Nil)
	})
	if err != nil {
		return nil, repository.MapPgError(err, "list products")
	}
	return products, nil
}

type pgTx struct {
	tx pgx.Tx
	*outbox.PostgresWriter
}

func (t *pgTx) InsertProduct(ctx context.Context, p *domain.Product) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID(), p.Name(), p.Description(), p.Price(), p.StockAmount(), p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		return core.Wrap(err, core.ErrPersistenceFailed, "insert product failed")
	}
	return nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row, id)
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET name = $2, description = $3, price = $4, stock_amount = $5, updated_at = $6 WHERE id = $1`,
		p.ID(), p.Name(), p.Description(), p.Price(), p.StockAmount(), p.UpdatedAt(),
	)
	if err != nil {
		return repository.MapPgError(err, "update product")
	}
	if tag.RowsAffected() == 0 {
		return core.Errorf(core.ErrNotFound, "product %s not found", p.ID())
	}
	return nil
}

func (t *pgTx) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, repository.MapPgError(err, "check processed event")
	}
	return exists, nil
}

// MarkProcessed вставляет событие; конфликт первичного ключа дает ALREADY_PROCESSED
func (t *pgTx) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)`, eventID, at,
	)
	return repository.MapPgError(err, "mark event processed")
}

func scanProduct(row pgx.Row, id uuid.UUID) (*domain.Product, error) {
	var (
		productID   uuid.UUID
		name        string
		description string
		price       decimal.Decimal
		stockAmount int
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := row.Scan(&productID, &name, &description, &price, &stockAmount, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, repository.MapPgError(err, "scan product")
	}
	return domain.RestoreProduct(productID, name, description, price, stockAmount, createdAt.UTC(), updatedAt.UTC()), nil
}
