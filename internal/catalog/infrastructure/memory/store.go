// Package memory реализует хранилище каталога в памяти для тестов и локального запуска.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/catalog/domain"
)

type productRow struct {
	id          uuid.UUID
	name        string
	description string
	price       decimal.Decimal
	stockAmount int
	createdAt   time.Time
	updatedAt   time.Time
}

func toRow(p *domain.Product) productRow {
	return productRow{
		id:          p.ID(),
		name:        p.Name(),
		description: p.Description(),
		price:       p.Price(),
		stockAmount: p.StockAmount(),
		createdAt:   p.CreatedAt(),
		updatedAt:   p.UpdatedAt(),
	}
}

func (r productRow) toDomain() *domain.Product {
	return domain.RestoreProduct(r.id, r.name, r.description, r.price, r.stockAmount, r.createdAt, r.updatedAt)
}

// Store хранилище каталога. Транзакции выполняются строго последовательно,
// изменения видны другим только после коммита.
type Store struct {
	mu        sync.Mutex
	products  map[uuid.UUID]productRow
	order     []uuid.UUID
	processed map[string]time.Time
	outbox    *outbox.MemoryStore
}

var _ application.Store = (*Store)(nil)

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		products:  make(map[uuid.UUID]productRow),
		processed: make(map[string]time.Time),
		outbox:    outbox.NewMemoryStore(),
	}
}

// Outbox возвращает хранилище outbox для relay
func (s *Store) Outbox() *outbox.MemoryStore {
	return s.outbox
}

// WithinTransaction выполняет fn в транзакции. Ошибка fn или отмена ctx
// до коммита отбрасывают все изменения.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:     s,
		products:  make(map[uuid.UUID]productRow),
		processed: make(map[string]time.Time),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// GetProduct возвращает продукт или ошибку NOT_FOUND
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.products[id]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found", id)
	}
	return row.toDomain(), nil
}

// ListProducts возвращает продукты в порядке создания
func (s *Store) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]*domain.Product, 0, len(s.order))
	for _, id := range s.order {
		products = append(products, s.products[id].toDomain())
	}
	return products, nil
}

// ProcessedAt возвращает время обработки события
func (s *Store) ProcessedAt(eventID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.processed[eventID]
	return at, ok
}

type memoryTx struct {
	store     *Store
	products  map[uuid.UUID]productRow
	inserted  []uuid.UUID
	processed map[string]time.Time
	records   []outbox.Record
}

func (tx *memoryTx) InsertProduct(ctx context.Context, product *domain.Product) error {
	if _, ok := tx.lookup(product.ID()); ok {
		return core.Errorf(core.ErrPersistenceFailed, "product %s already exists", product.ID())
	}
	tx.products[product.ID()] = toRow(product)
	tx.inserted = append(tx.inserted, product.ID())
	return nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row, ok := tx.lookup(id)
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found", id)
	}
	return row.toDomain(), nil
}

func (tx *memoryTx) UpdateProduct(ctx context.Context, product *domain.Product) error {
	if _, ok := tx.lookup(product.ID()); !ok {
		return core.Errorf(core.ErrNotFound, "product %s not found", product.ID())
	}
	tx.products[product.ID()] = toRow(product)
	return nil
}

func (tx *memoryTx) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if _, ok := tx.processed[eventID]; ok {
		return true, nil
	}
	_, ok := tx.store.processed[eventID]
	return ok, nil
}

func (tx *memoryTx) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	if processed, _ := tx.IsProcessed(ctx, eventID); processed {
		return core.Errorf(core.ErrAlreadyProcessed, "event %s already processed", eventID)
	}
	tx.processed[eventID] = at
	return nil
}

func (tx *memoryTx) Append(ctx context.Context, record outbox.Record) error {
	if tx.store.outbox.Contains(record.ID) {
		return core.Errorf(core.ErrAlreadyProcessed, "outbox record %s already exists", record.ID)
	}
	for _, staged := range tx.records {
		if staged.ID == record.ID {
			return core.Errorf(core.ErrAlreadyProcessed, "outbox record %s already exists", record.ID)
		}
	}
	tx.records = append(tx.records, record)
	return nil
}

func (tx *memoryTx) lookup(id uuid.UUID) (productRow, bool) {
	if row, ok := tx.products[id]; ok {
		return row, true
	}
	row, ok := tx.store.products[id]
	return row, ok
}

func (tx *memoryTx) commit() error {
	for id, row := range tx.products {
		tx.store.products[id] = row
	}
	tx.store.order = append(tx.store.order, tx.inserted...)
	for id, at := range tx.processed {
		tx.store.processed[id] = at
	}
	for _, record := range tx.records {
		if err := tx.store.outbox.Append(context.Background(), record); err != nil {
			return err
		}
	}
	return nil
}
