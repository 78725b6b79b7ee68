// Package memory реализует хранилища stock-service в памяти для тестов и локального запуска.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

type inventoryRow struct {
	id        uuid.UUID
	productID uuid.UUID
	quantity  int
	addedAt   time.Time
	addedBy   string
}

func (r inventoryRow) toDomain() *domain.Inventory {
	return domain.RestoreInventory(r.id, r.productID, r.quantity, r.addedAt, r.addedBy)
}

// Store хранилище поступлений с outbox. Транзакции выполняются последовательно.
type Store struct {
	mu          sync.Mutex
	inventories []inventoryRow
	outbox      *outbox.MemoryStore
}

var _ application.Store = (*Store)(nil)

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{outbox: outbox.NewMemoryStore()}
}

// Outbox возвращает хранилище outbox для relay
func (s *Store) Outbox() *outbox.MemoryStore {
	return s.outbox
}

// WithinTransaction выполняет fn в транзакции
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &storeTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.inventories = append(s.inventories, tx.inventories...)
	for _, record := range tx.records {
		if err := s.outbox.Append(context.Background(), record); err != nil {
			return err
		}
	}
	return nil
}

// ListInventory возвращает поступления продукта в порядке добавления
func (s *Store) ListInventory(ctx context.Context, productID uuid.UUID) ([]*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Inventory, 0)
	for _, row := range s.inventories {
		if row.productID == productID {
			result = append(result, row.toDomain())
		}
	}
	return result, nil
}

type storeTx struct {
	store       *Store
	inventories []inventoryRow
	records     []outbox.Record
}

func (tx *storeTx) InsertInventory(ctx context.Context, inventory *domain.Inventory) error {
	tx.inventories = append(tx.inventories, inventoryRow{
		id:        inventory.ID(),
		productID: inventory.ProductID(),
		quantity:  inventory.Quantity(),
		addedAt:   inventory.AddedAt(),
		addedBy:   inventory.AddedBy(),
	})
	return nil
}

func (tx *storeTx) Append(ctx context.Context, record outbox.Record) error {
	if tx.store.outbox.Contains(record.ID) {
		return core.Errorf(core.ErrAlreadyProcessed, "outbox record %s already exists", record.ID)
	}
	tx.records = append(tx.records, record)
	return nil
}

// ReadModelStore read model продуктов в памяти
type ReadModelStore struct {
	mu     sync.Mutex
	models map[uuid.UUID]*domain.ProductReadModel
}

var _ application.ReadModelStore = (*ReadModelStore)(nil)

// NewReadModelStore создает пустую read model
func NewReadModelStore() *ReadModelStore {
	return &ReadModelStore{models: make(map[uuid.UUID]*domain.ProductReadModel)}
}

// WithinTransaction выполняет fn последовательно с другими единицами работы
func (s *ReadModelStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx application.ReadModelTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &readModelTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.staged != nil {
		s.models[tx.staged.ProductID()] = tx.staged
	}
	return nil
}

// Exists проверяет наличие продукта в read model
func (s *ReadModelStore) Exists(ctx context.Context, productID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.models[productID]
	return ok, nil
}

// GetReadModel возвращает запись или ошибку NOT_FOUND
func (s *ReadModelStore) GetReadModel(ctx context.Context, productID uuid.UUID) (*domain.ProductReadModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, ok := s.models[productID]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "product %s not found in read model", productID)
	}
	return model, nil
}

// Len возвращает число записей
func (s *ReadModelStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

type readModelTx struct {
	store  *ReadModelStore
	staged *domain.ProductReadModel
}

func (tx *readModelTx) ReadModelExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	if tx.staged != nil && tx.staged.ProductID() == productID {
		return true, nil
	}
	_, ok := tx.store.models[productID]
	return ok, nil
}

func (tx *readModelTx) InsertReadModel(ctx context.Context, model *domain.ProductReadModel) error {
	if exists, _ := tx.ReadModelExists(ctx, model.ProductID()); exists {
		return core.Errorf(core.ErrAlreadyProcessed, "product %s already synced", model.ProductID())
	}
	tx.staged = model
	return nil
}
